// Package entity implements the generational Entity handle, the fixed-size
// EntityHeader, and EntityIndex: the header chunk table plus free-index
// stack that EntityRepository builds on.
package entity

import (
	"sync"

	"fdprec/internal/chunktable"
	"fdprec/internal/mask"
)

// Lifecycle is the coarse staged-construction status of an entity, richer
// than the plain active/inactive bit: application systems may park an
// entity in Constructing before it becomes visible to ordinary queries.
type Lifecycle uint8

const (
	LifecycleActive Lifecycle = iota
	LifecycleConstructing
	LifecycleTearDown
)

func (l Lifecycle) String() string {
	switch l {
	case LifecycleActive:
		return "Active"
	case LifecycleConstructing:
		return "Constructing"
	case LifecycleTearDown:
		return "TearDown"
	default:
		return "Unknown"
	}
}

// EntityHeader is the fixed 96-byte per-slot record held in the header
// chunk table. Field order is chosen so Go's natural alignment needs no
// compiler-inserted padding beyond the explicit trailing pad, keeping the
// layout identical to what a hand-packed struct would produce.
type EntityHeader struct {
	ComponentMask  mask.BitMask256
	AuthorityMask  mask.BitMask256
	DISType        uint64
	LastChangeTick uint32
	Generation     uint16
	Active         bool
	Lifecycle      Lifecycle
	_              [16]byte
}

// Entity is a generational handle: a position in the header table plus the
// generation stamped into that slot when it was issued.
type Entity struct {
	Index      int32
	Generation uint16
}

// Null is the handle that never refers to a live entity.
var Null = Entity{Index: -1, Generation: 0}

// IsNull reports whether e is the null handle.
func (e Entity) IsNull() bool { return e == Null }

// Index is the EntityIndex: a header chunk table plus a LIFO free-index
// stack. Allocation (create/destroy) is a critical section; reads are
// lock-free via the underlying chunktable.Table.
type Index struct {
	mu             sync.Mutex
	headers        *chunktable.Table[EntityHeader]
	maxEntities    int
	free           []int32
	activeCount    int32
	maxIssuedIndex int32
}

// New reserves an EntityIndex for up to maxEntities entities.
func New(maxEntities, chunkBytes int) *Index {
	if maxEntities <= 0 {
		maxEntities = chunktable.DefaultMaxEntities
	}
	return &Index{
		headers:        chunktable.New[EntityHeader](maxEntities, chunkBytes),
		maxEntities:    maxEntities,
		maxIssuedIndex: -1,
	}
}

// Headers exposes the underlying chunk table for recorder/reader code that
// needs to select, copy, or restore entity-header chunks directly (the
// type_id == -1 column in the wire format).
func (ix *Index) Headers() *chunktable.Table[EntityHeader] { return ix.headers }

// ActiveCount returns the number of currently active entities.
func (ix *Index) ActiveCount() int32 {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.activeCount
}

// MaxIssuedIndex returns the highest index ever issued, or -1 if none.
func (ix *Index) MaxIssuedIndex() int32 {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.maxIssuedIndex
}

// Create allocates a new entity, reusing a freed slot (and bumping its
// stored generation) if one is available, otherwise extending the
// universe. version stamps the header chunk, mirroring how component
// writes stamp their own chunks with the repository's current tick.
func (ix *Index) Create(version uint32) Entity {
	ix.mu.Lock()
	var idx int32
	reused := false
	if n := len(ix.free); n > 0 {
		idx = ix.free[n-1]
		ix.free = ix.free[:n-1]
		reused = true
	} else {
		ix.maxIssuedIndex++
		idx = ix.maxIssuedIndex
	}
	ix.activeCount++
	ix.mu.Unlock()

	h := ix.headers.GetRW(idx, version)
	if reused {
		h.Generation++
	}
	h.Active = true
	h.Lifecycle = LifecycleActive
	h.ComponentMask = mask.BitMask256{}
	h.AuthorityMask = mask.BitMask256{}
	h.DISType = 0
	h.LastChangeTick = version

	return Entity{Index: idx, Generation: h.Generation}
}

// IsAlive reports whether e still refers to a live entity: the header at
// e.Index is active and its stored generation equals e.Generation. Out of
// range indices (including the null handle) are simply not alive, never a
// panic — destroy/is_alive are the read-side of InvalidHandle, which the
// port treats as "returns false" rather than fatal.
func (ix *Index) IsAlive(e Entity) bool {
	if e.Index < 0 || int(e.Index) >= ix.maxEntities {
		return false
	}
	h, committed := ix.headers.GetRO(e.Index)
	return committed && h.Active && h.Generation == e.Generation
}

// Destroy deactivates e's slot, clears its masks, and pushes the index back
// onto the free stack. Returns the generation that was stored at the slot
// and true, or (0, false) if e was not alive (a no-op at this layer; the
// paranoid/lenient policy for stale destroys lives in EntityRepository).
func (ix *Index) Destroy(e Entity, version uint32) (generation uint16, ok bool) {
	if !ix.IsAlive(e) {
		return 0, false
	}
	h := ix.headers.GetRW(e.Index, version)
	gen := h.Generation
	h.Active = false
	h.Lifecycle = LifecycleTearDown
	h.ComponentMask = mask.BitMask256{}
	h.AuthorityMask = mask.BitMask256{}

	ix.mu.Lock()
	ix.free = append(ix.free, e.Index)
	ix.activeCount--
	ix.mu.Unlock()

	return gen, true
}

// Header returns a copy of the header at idx, or the zero header if idx's
// chunk was never committed.
func (ix *Index) Header(idx int32) EntityHeader {
	return ix.headers.Get(idx)
}

// HeaderRW returns a mutable pointer into the header at idx, committing its
// chunk and stamping version. Used by EntityRepository to flip
// component/authority mask bits on add/remove component.
func (ix *Index) HeaderRW(idx int32, version uint32) *EntityHeader {
	return ix.headers.GetRW(idx, version)
}

// GetChunkLiveness returns a CHUNK_CAP-length slice where element i is
// true iff header slot i of chunkIdx is active. Slots at or past
// maxEntities, at the tail of the universe, are reported as false.
func (ix *Index) GetChunkLiveness(chunkIdx int) []bool {
	chunkCap := ix.headers.ChunkCap()
	base := chunkIdx * chunkCap
	liveness := make([]bool, chunkCap)
	for i := 0; i < chunkCap; i++ {
		idx := base + i
		if idx >= ix.maxEntities {
			break
		}
		h, committed := ix.headers.GetRO(int32(idx))
		liveness[i] = committed && h.Active
	}
	return liveness
}

// ExtendMaxIssuedIndex raises max_issued_index, if needed, to cover every
// slot of chunkIdx, clamped to maxEntities-1. A restored header chunk
// carries every slot's bytes but the frame format has no separate field
// for max_issued_index itself, so the reader widens it to the chunk
// boundary before calling RebuildMetadata: slots beyond the source's true
// high-water mark replay as Active=false, Generation=0, which is exactly
// how an unissued slot already reads, so this is lossless.
func (ix *Index) ExtendMaxIssuedIndex(chunkIdx int) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	candidate := int32(chunkIdx+1)*int32(ix.headers.ChunkCap()) - 1
	if candidate >= int32(ix.maxEntities) {
		candidate = int32(ix.maxEntities) - 1
	}
	if candidate > ix.maxIssuedIndex {
		ix.maxIssuedIndex = candidate
	}
}

// MaxHeaderChunk returns the index of the last header chunk that can hold
// max_issued_index, or -1 if no entity has ever been issued. Used by the
// recorder to bound keyframe selection over the entity-index column.
func (ix *Index) MaxHeaderChunk() int {
	maxIdx := ix.MaxIssuedIndex()
	if maxIdx < 0 {
		return -1
	}
	return int(maxIdx) / ix.headers.ChunkCap()
}

// RebuildMetadata recomputes active_count and rebuilds the free stack by
// scanning [0, max_issued_index]. Used after a keyframe restores the header
// chunks directly via RestoreChunkFromBuffer, bypassing Create/Destroy.
// Free indices are pushed in descending order so the next Create pops the
// lowest freed index first, matching the sparse-index replay property.
func (ix *Index) RebuildMetadata() {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	var free []int32
	var active int32
	for idx := ix.maxIssuedIndex; idx >= 0; idx-- {
		h := ix.headers.Get(idx)
		if h.Active {
			active++
		} else {
			free = append(free, idx)
		}
	}
	ix.free = free
	ix.activeCount = active
}
