// Package chunktable implements NativeChunkTable[T]: columnar storage for
// one component type, laid out as a fixed directory of byte chunks.
//
// Each chunk is CHUNK_BYTES of raw memory holding up to CHUNK_CAP =
// CHUNK_BYTES/sizeof(T) values of T, indexed by entity index modulo
// CHUNK_CAP. Chunks commit lazily on first write (grounded on
// chunk/memory.Manager's lazy "ensure active chunk" pattern) and, once
// committed, support lock-free reads: the chunk directory is a slice of
// atomic pointers, and each committed chunk's version stamp is itself an
// atomic.Uint32 (Store on every get_rw, Load from has_changes), matching
// spec §4.3's "read with acquire ordering" requirement without introducing
// a mutex on the hot path.
//
// T must be a fixed-width, pointer-free value type (the "plain unmanaged"
// components of spec §4.1). Component tables for non-plain ("managed")
// types do not use NativeChunkTable; see internal/ecs.ManagedColumn.
package chunktable

import (
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"
)

// DefaultMaxEntities and DefaultChunkBytes are the spec's default
// configuration constants (spec §6).
const (
	DefaultMaxEntities = 1_000_000
	DefaultChunkBytes  = 65536
)

// chunkData is the memory and metadata for one committed chunk.
type chunkData struct {
	buf        []byte
	version    atomic.Uint32
	population int32 // informational; single-writer discipline, no atomic needed
}

// Table is a NativeChunkTable[T].
type Table[T any] struct {
	mu          sync.Mutex
	itemSize    uintptr
	chunkBytes  int
	chunkCap    int
	nChunks     int
	maxEntities int
	slots       []atomic.Pointer[chunkData]
}

// New reserves the chunk directory for maxEntities entities with the given
// per-chunk byte budget. No chunk memory is committed yet. A zero
// maxEntities or chunkBytes falls back to the package defaults.
func New[T any](maxEntities, chunkBytes int) *Table[T] {
	if maxEntities <= 0 {
		maxEntities = DefaultMaxEntities
	}
	if chunkBytes <= 0 {
		chunkBytes = DefaultChunkBytes
	}
	var zero T
	itemSize := unsafe.Sizeof(zero)
	if itemSize == 0 {
		itemSize = 1
	}
	if int(itemSize) > chunkBytes {
		panic(fmt.Sprintf("chunktable: component size %d exceeds chunk byte budget %d", itemSize, chunkBytes))
	}
	chunkCap := chunkBytes / int(itemSize)
	nChunks := (maxEntities + chunkCap - 1) / chunkCap

	return &Table[T]{
		itemSize:    itemSize,
		chunkBytes:  chunkBytes,
		chunkCap:    chunkCap,
		nChunks:     nChunks,
		maxEntities: maxEntities,
		slots:       make([]atomic.Pointer[chunkData], nChunks),
	}
}

// ChunkCap returns the number of items per chunk.
func (t *Table[T]) ChunkCap() int { return t.chunkCap }

// NChunks returns the number of directory slots.
func (t *Table[T]) NChunks() int { return t.nChunks }

// ChunkBytes returns the configured per-chunk byte budget.
func (t *Table[T]) ChunkBytes() int { return t.chunkBytes }

// ItemSize returns sizeof(T) as used for slot offset arithmetic.
func (t *Table[T]) ItemSize() uintptr { return t.itemSize }

// Commit ensures chunkIdx has backing memory, without returning it. Used by
// callers (e.g. a managed column's side-table of version stamps) that only
// need the commit side effect.
func (t *Table[T]) Commit(chunkIdx int) { t.ensureCommitted(chunkIdx) }

func (t *Table[T]) locate(index int32) (chunkIdx, slot int) {
	if index < 0 || int(index) >= t.maxEntities {
		panic(fmt.Sprintf("chunktable: entity index %d out of range [0,%d)", index, t.maxEntities))
	}
	chunkIdx = int(index) / t.chunkCap
	slot = int(index) % t.chunkCap
	return
}

// ensureCommitted returns the chunk at chunkIdx, committing it (allocating
// CHUNK_BYTES of zeroed memory) on first access. Double-checked locking:
// the common case after first touch is a single atomic load, no lock.
func (t *Table[T]) ensureCommitted(chunkIdx int) *chunkData {
	if c := t.slots[chunkIdx].Load(); c != nil {
		return c
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if c := t.slots[chunkIdx].Load(); c != nil {
		return c
	}
	c := &chunkData{buf: make([]byte, t.chunkBytes)}
	t.slots[chunkIdx].Store(c)
	return c
}

// TryDecommit frees a chunk's backing memory if it is entirely empty
// (population == 0). Returns true if the chunk was decommitted.
func (t *Table[T]) TryDecommit(chunkIdx int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	c := t.slots[chunkIdx].Load()
	if c == nil {
		return false
	}
	if c.population != 0 {
		return false
	}
	t.slots[chunkIdx].Store(nil)
	return true
}

func itemAt[T any](buf []byte, slot int, itemSize uintptr) *T {
	off := uintptr(slot) * itemSize
	return (*T)(unsafe.Pointer(&buf[off]))
}

// GetRW commits the owning chunk if needed, stamps its version, and
// returns a mutable pointer to the slot for index.
func (t *Table[T]) GetRW(index int32, version uint32) *T {
	chunkIdx, slot := t.locate(index)
	c := t.ensureCommitted(chunkIdx)
	c.version.Store(version)
	return itemAt[T](c.buf, slot, t.itemSize)
}

// GetRO returns the value at index and whether its chunk is committed. An
// uncommitted chunk reads as the zero value with committed=false.
func (t *Table[T]) GetRO(index int32) (value T, committed bool) {
	chunkIdx, slot := t.locate(index)
	c := t.slots[chunkIdx].Load()
	if c == nil {
		return value, false
	}
	return *itemAt[T](c.buf, slot, t.itemSize), true
}

// Get wraps GetRO, returning the zero value for an uncommitted slot.
func (t *Table[T]) Get(index int32) T {
	v, _ := t.GetRO(index)
	return v
}

// Set wraps GetRW using the default out-of-tick version of 1 (spec §4.3).
func (t *Table[T]) Set(index int32, v T) {
	*t.GetRW(index, 1) = v
}

// MarkPopulated/MarkUnpopulated adjust the informational population
// counter for a chunk. Called from ecs.AddComponent/RemoveComponent/
// DestroyEntity via PlainColumn. EntityRepository holds single-writer
// discipline on these calls, so no locking is required here beyond the
// commit serialization GetRW already performs.
func (t *Table[T]) MarkPopulated(index int32) {
	chunkIdx, _ := t.locate(index)
	c := t.ensureCommitted(chunkIdx)
	c.population++
}

func (t *Table[T]) MarkUnpopulated(index int32) {
	chunkIdx, _ := t.locate(index)
	if c := t.slots[chunkIdx].Load(); c != nil {
		c.population--
	}
}

// HasChanges reports whether any committed chunk has a version strictly
// greater than since. Scans only the (small) chunk directory; this is the
// sub-200ns hot path spec §4.3 calls out, so no locks are taken and each
// chunk's version is read with a single atomic Load.
func (t *Table[T]) HasChanges(since uint32) bool {
	for i := range t.slots {
		c := t.slots[i].Load()
		if c != nil && c.version.Load() > since {
			return true
		}
	}
	return false
}

// Version returns the current version stamp of chunkIdx, or 0 if
// uncommitted.
func (t *Table[T]) Version(chunkIdx int) uint32 {
	c := t.slots[chunkIdx].Load()
	if c == nil {
		return 0
	}
	return c.version.Load()
}

// Population returns the informational population counter for chunkIdx.
func (t *Table[T]) Population(chunkIdx int) int32 {
	c := t.slots[chunkIdx].Load()
	if c == nil {
		return 0
	}
	return c.population
}

// Committed reports whether chunkIdx has backing memory.
func (t *Table[T]) Committed(chunkIdx int) bool {
	return t.slots[chunkIdx].Load() != nil
}

// SanitizeChunk zeroes every slot i in chunkIdx for which liveness[i] is
// false. A no-op on an uncommitted chunk (already all zero).
func (t *Table[T]) SanitizeChunk(chunkIdx int, liveness []bool) {
	c := t.slots[chunkIdx].Load()
	if c == nil {
		return
	}
	ZeroDeadSlots(c.buf, t.itemSize, liveness)
}

// ZeroDeadSlots zeroes every item in buf whose index i has liveness[i] ==
// false. Exported so RecorderSystem can apply the same sanitization to a
// private scratch copy without mutating the live table (spec §4.7).
func ZeroDeadSlots(buf []byte, itemSize uintptr, liveness []bool) {
	for i, alive := range liveness {
		if alive {
			continue
		}
		off := uintptr(i) * itemSize
		if off+itemSize > uintptr(len(buf)) {
			break
		}
		clear(buf[off : off+itemSize])
	}
}

// CopyChunkToBuffer writes CHUNK_BYTES bytes into out for a committed
// chunk and returns CHUNK_BYTES; for an uncommitted chunk it writes
// nothing and returns 0 (spec §4.3).
func (t *Table[T]) CopyChunkToBuffer(chunkIdx int, out []byte) int {
	c := t.slots[chunkIdx].Load()
	if c == nil {
		return 0
	}
	n := copy(out, c.buf)
	return n
}

// RestoreChunkFromBuffer commits chunkIdx if needed and overwrites its
// bytes with in. Does not recompute population (spec §4.3) or touch the
// version stamp; callers that need has_changes to reflect the restore
// should call GetRW/MarkPopulated explicitly afterward.
func (t *Table[T]) RestoreChunkFromBuffer(chunkIdx int, in []byte) {
	c := t.ensureCommitted(chunkIdx)
	copy(c.buf, in)
}

// CommittedChunk describes one entry yielded by IterCommittedChunks.
type CommittedChunk struct {
	Index      int
	Population int32
	Version    uint32
}

// IterCommittedChunks calls fn for every committed chunk in ascending
// index order, stopping early if fn returns false.
func (t *Table[T]) IterCommittedChunks(fn func(CommittedChunk) bool) {
	for i := range t.slots {
		c := t.slots[i].Load()
		if c == nil {
			continue
		}
		if !fn(CommittedChunk{Index: i, Population: c.population, Version: c.version.Load()}) {
			return
		}
	}
}
