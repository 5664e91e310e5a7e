// Package ecs implements EntityRepository, the erased Column abstraction
// over component storage, and EntityQuery.
package ecs

import (
	"fdprec/internal/chunktable"
)

// Column is the capability set an EntityRepository needs from a component
// table regardless of whether it is Plain (fixed-width, raw bytes) or
// Managed (opaque, application-serialized payload). Grounded on the
// "erased columns" design note: component_tables maps cid to some column
// handle, expressed here as an interface rather than a tagged union.
type Column interface {
	CID() int
	ChunkCap() int
	NChunks() int
	HasChanges(since uint32) bool
	DirtyChunkIndices(since uint32) []int
	CommittedChunkIndices() []int
	// EncodeChunk serializes chunkIdx's payload for a recording frame.
	// liveness[i] reports whether the entity at this chunk's slot i is
	// currently alive; dead slots must not leak their last value into the
	// payload. ok is false for an uncommitted chunk (nothing to encode).
	EncodeChunk(chunkIdx int, liveness []bool) (payload []byte, ok bool, err error)
	// DecodeChunk restores chunkIdx's payload as produced by EncodeChunk.
	DecodeChunk(chunkIdx int, payload []byte) error
}

// populationTracker is the optional capability a Column may implement to
// keep a per-chunk occupancy count and decommit empty chunks. Only
// PlainColumn implements it: ManagedColumn's storage is a map, whose
// occupancy is already exact (len(values)), so there is no chunk to free.
type populationTracker interface {
	MarkPopulated(index int32)
	MarkUnpopulated(index int32)
	TryDecommit(chunkIdx int) bool
}

// PlainColumn is the Column implementation for fixed-width, pointer-free
// component types, backed directly by a chunktable.Table[T].
type PlainColumn[T any] struct {
	cid   int
	table *chunktable.Table[T]
}

// NewPlainColumn reserves a column for cid sized for maxEntities entities
// at chunkBytes per chunk.
func NewPlainColumn[T any](cid, maxEntities, chunkBytes int) *PlainColumn[T] {
	return &PlainColumn[T]{cid: cid, table: chunktable.New[T](maxEntities, chunkBytes)}
}

func (c *PlainColumn[T]) CID() int       { return c.cid }
func (c *PlainColumn[T]) ChunkCap() int  { return c.table.ChunkCap() }
func (c *PlainColumn[T]) NChunks() int   { return c.table.NChunks() }
func (c *PlainColumn[T]) Table() *chunktable.Table[T] { return c.table }

func (c *PlainColumn[T]) HasChanges(since uint32) bool { return c.table.HasChanges(since) }

// MarkPopulated/MarkUnpopulated/TryDecommit satisfy populationTracker by
// delegating straight to the backing chunktable.Table.
func (c *PlainColumn[T]) MarkPopulated(index int32)   { c.table.MarkPopulated(index) }
func (c *PlainColumn[T]) MarkUnpopulated(index int32) { c.table.MarkUnpopulated(index) }
func (c *PlainColumn[T]) TryDecommit(chunkIdx int) bool { return c.table.TryDecommit(chunkIdx) }

func (c *PlainColumn[T]) DirtyChunkIndices(since uint32) []int {
	var out []int
	c.table.IterCommittedChunks(func(cc chunktable.CommittedChunk) bool {
		if cc.Version > since {
			out = append(out, cc.Index)
		}
		return true
	})
	return out
}

func (c *PlainColumn[T]) CommittedChunkIndices() []int {
	var out []int
	c.table.IterCommittedChunks(func(cc chunktable.CommittedChunk) bool {
		out = append(out, cc.Index)
		return true
	})
	return out
}

func (c *PlainColumn[T]) EncodeChunk(chunkIdx int, liveness []bool) ([]byte, bool, error) {
	buf := make([]byte, c.table.ChunkBytes())
	n := c.table.CopyChunkToBuffer(chunkIdx, buf)
	if n == 0 {
		return nil, false, nil
	}
	chunktable.ZeroDeadSlots(buf, c.table.ItemSize(), liveness)
	return buf, true, nil
}

func (c *PlainColumn[T]) DecodeChunk(chunkIdx int, payload []byte) error {
	c.table.RestoreChunkFromBuffer(chunkIdx, payload)
	return nil
}
