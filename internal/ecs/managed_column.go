package ecs

import (
	"sync"

	"fdprec/internal/chunktable"
)

// ManagedSerializer is the contract a managed component's column needs from
// an application-supplied codec. The core is agnostic about the encoding;
// internal/managed supplies the default msgpack+zstd implementation.
type ManagedSerializer interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

type managedEntry[T any] struct {
	Index int32
	Value T
}

// ManagedColumn is the Column implementation for non-plain component
// types. Values live in an ordinary map rather than raw chunk bytes (they
// may hold pointers/slices, which an unsafe byte-chunk reinterpretation
// cannot safely host); a small chunktable.Table[uint32] alongside it
// supplies exactly the version-stamp/commit/chunk-directory bookkeeping
// Column needs, so managed and plain columns participate identically in
// dirty-chunk selection and keyframe/delta encoding.
type ManagedColumn[T any] struct {
	cid        int
	serializer ManagedSerializer

	mu     sync.RWMutex
	values map[int32]T

	versions *chunktable.Table[uint32]
}

// NewManagedColumn reserves a column for cid with the given chunkCap
// (entities per chunk) for maxEntities entities, using ser to marshal
// individual values when a chunk is encoded.
func NewManagedColumn[T any](cid, maxEntities, chunkCap int, ser ManagedSerializer) *ManagedColumn[T] {
	if chunkCap <= 0 {
		chunkCap = 1024
	}
	return &ManagedColumn[T]{
		cid:        cid,
		serializer: ser,
		values:     make(map[int32]T),
		versions:   chunktable.New[uint32](maxEntities, chunkCap*4),
	}
}

func (c *ManagedColumn[T]) CID() int      { return c.cid }
func (c *ManagedColumn[T]) ChunkCap() int { return c.versions.ChunkCap() }
func (c *ManagedColumn[T]) NChunks() int  { return c.versions.NChunks() }

func (c *ManagedColumn[T]) HasChanges(since uint32) bool { return c.versions.HasChanges(since) }

func (c *ManagedColumn[T]) DirtyChunkIndices(since uint32) []int {
	var out []int
	c.versions.IterCommittedChunks(func(cc chunktable.CommittedChunk) bool {
		if cc.Version > since {
			out = append(out, cc.Index)
		}
		return true
	})
	return out
}

func (c *ManagedColumn[T]) CommittedChunkIndices() []int {
	var out []int
	c.versions.IterCommittedChunks(func(cc chunktable.CommittedChunk) bool {
		out = append(out, cc.Index)
		return true
	})
	return out
}

// Set stores v for entity index idx and stamps the owning chunk's version.
func (c *ManagedColumn[T]) Set(idx int32, v T, version uint32) {
	c.mu.Lock()
	c.values[idx] = v
	c.mu.Unlock()
	*c.versions.GetRW(idx, version) = version
}

// Get returns the value stored for idx, if any.
func (c *ManagedColumn[T]) Get(idx int32) (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.values[idx]
	return v, ok
}

// Remove deletes the value stored for idx and stamps the owning chunk.
func (c *ManagedColumn[T]) Remove(idx int32, version uint32) {
	c.mu.Lock()
	delete(c.values, idx)
	c.mu.Unlock()
	*c.versions.GetRW(idx, version) = version
}

func (c *ManagedColumn[T]) EncodeChunk(chunkIdx int, liveness []bool) ([]byte, bool, error) {
	if !c.versions.Committed(chunkIdx) {
		return nil, false, nil
	}
	chunkCap := c.ChunkCap()
	base := chunkIdx * chunkCap

	c.mu.RLock()
	entries := make([]managedEntry[T], 0, chunkCap)
	for slot := 0; slot < chunkCap; slot++ {
		if slot < len(liveness) && !liveness[slot] {
			continue
		}
		idx := int32(base + slot)
		if v, ok := c.values[idx]; ok {
			entries = append(entries, managedEntry[T]{Index: idx, Value: v})
		}
	}
	c.mu.RUnlock()

	payload, err := c.serializer.Marshal(entries)
	if err != nil {
		return nil, false, err
	}
	return payload, true, nil
}

func (c *ManagedColumn[T]) DecodeChunk(chunkIdx int, payload []byte) error {
	var entries []managedEntry[T]
	if err := c.serializer.Unmarshal(payload, &entries); err != nil {
		return err
	}

	chunkCap := c.ChunkCap()
	base := chunkIdx * chunkCap

	c.mu.Lock()
	for slot := 0; slot < chunkCap; slot++ {
		delete(c.values, int32(base+slot))
	}
	for _, e := range entries {
		c.values[e.Index] = e.Value
	}
	c.mu.Unlock()

	c.versions.Commit(chunkIdx)
	return nil
}
