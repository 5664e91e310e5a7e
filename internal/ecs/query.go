package ecs

import (
	"time"

	"golang.org/x/sync/errgroup"

	"fdprec/internal/entity"
	"fdprec/internal/mask"
)

// Entity and EntityHeader alias the entity package's types so callers of
// this package's query/repository API rarely need to import it directly.
type Entity = entity.Entity
type EntityHeader = entity.EntityHeader

// Query is a compiled (include_mask, exclude_mask, DIS filter) matcher
// plus the authority-mask WithOwned/WithoutOwned filter, built with a
// fluent builder and then iterated with one of the For* methods.
type Query struct {
	repo *Repository

	include mask.BitMask256
	exclude mask.BitMask256

	authorityInclude mask.BitMask256
	authorityExclude mask.BitMask256

	disValue uint64
	disMask  uint64

	lifecycleInclude map[entity.Lifecycle]bool
}

// NewQuery returns a Query over r with the default lifecycle filter
// {Active}.
func NewQuery(r *Repository) *Query {
	return &Query{
		repo:             r,
		lifecycleInclude: map[entity.Lifecycle]bool{entity.LifecycleActive: true},
	}
}

// Query is a convenience constructor on Repository.
func (r *Repository) Query() *Query { return NewQuery(r) }

// With adds T to the include mask. T must already be registered.
func With[T any](q *Query) *Query {
	if cid, ok := q.repo.registry.Lookup(typeIdentity[T]()); ok {
		q.include.SetBit(cid)
	}
	return q
}

// Without adds T to the exclude mask.
func Without[T any](q *Query) *Query {
	if cid, ok := q.repo.registry.Lookup(typeIdentity[T]()); ok {
		q.exclude.SetBit(cid)
	}
	return q
}

// WithDIS sets the DIS filter: a header matches iff (dis_type & mask) ==
// (value & mask).
func (q *Query) WithDIS(value, dismask uint64) *Query {
	q.disValue, q.disMask = value, dismask
	return q
}

// WithLifecycle replaces the default lifecycle filter.
func (q *Query) WithLifecycle(states ...entity.Lifecycle) *Query {
	q.lifecycleInclude = make(map[entity.Lifecycle]bool, len(states))
	for _, s := range states {
		q.lifecycleInclude[s] = true
	}
	return q
}

// WithOwned adds bit to the authority-mask include filter.
func (q *Query) WithOwned(bit int) *Query {
	q.authorityInclude.SetBit(bit)
	return q
}

// WithoutOwned adds bit to the authority-mask exclude filter.
func (q *Query) WithoutOwned(bit int) *Query {
	q.authorityExclude.SetBit(bit)
	return q
}

func (q *Query) matches(h entity.EntityHeader) bool {
	if !q.lifecycleInclude[h.Lifecycle] {
		return false
	}
	if !mask.Matches(h.ComponentMask, q.include, q.exclude) {
		return false
	}
	if (h.DISType & q.disMask) != (q.disValue & q.disMask) {
		return false
	}
	if !mask.Matches(h.AuthorityMask, q.authorityInclude, q.authorityExclude) {
		return false
	}
	return true
}

// Visitor is called once per matching entity during iteration.
type Visitor func(e entity.Entity, h entity.EntityHeader)

// ForEach visits every matching entity in ascending index order.
func (q *Query) ForEach(visit Visitor) {
	maxIdx := q.repo.MaxEntityIndex()
	for idx := int32(0); idx <= maxIdx; idx++ {
		h := q.repo.GetHeader(idx)
		if q.matches(h) {
			visit(entity.Entity{Index: idx, Generation: h.Generation}, h)
		}
	}
}

// ForEachChunked visits every matching entity, skipping header-table
// chunks that are uncommitted. Committed chunks are scanned slot by slot,
// including chunks whose headers are all inactive. This does not maintain
// a per-chunk component-mask summary; it is a coarser, always-correct skip
// that avoids a Header() read per slot of an uncommitted chunk.
func (q *Query) ForEachChunked(visit Visitor) {
	headers := q.repo.EntityIndex().Headers()
	chunkCap := headers.ChunkCap()
	maxIdx := q.repo.MaxEntityIndex()
	if maxIdx < 0 {
		return
	}
	lastChunk := int(maxIdx) / chunkCap

	for chunkIdx := 0; chunkIdx <= lastChunk; chunkIdx++ {
		if !headers.Committed(chunkIdx) {
			continue
		}
		base := int32(chunkIdx * chunkCap)
		end := base + int32(chunkCap)
		if end > maxIdx+1 {
			end = maxIdx + 1
		}
		for idx := base; idx < end; idx++ {
			h := q.repo.GetHeader(idx)
			if q.matches(h) {
				visit(entity.Entity{Index: idx, Generation: h.Generation}, h)
			}
		}
	}
}

// ForEachParallel visits every matching entity with no ordering guarantee,
// fanning the index range out across GOMAXPROCS shards via errgroup. The
// caller is responsible for per-entity independence of visit; the
// repository offers no cross-entity synchronization.
func (q *Query) ForEachParallel(visit Visitor) error {
	maxIdx := q.repo.MaxEntityIndex()
	if maxIdx < 0 {
		return nil
	}
	n := int(maxIdx) + 1
	shards := shardCount()
	if shards > n {
		shards = n
	}
	if shards < 1 {
		shards = 1
	}
	shardSize := (n + shards - 1) / shards

	g := new(errgroup.Group)
	for s := 0; s < shards; s++ {
		start := s * shardSize
		end := start + shardSize
		if end > n {
			end = n
		}
		if start >= end {
			continue
		}
		g.Go(func() error {
			for idx := int32(start); idx < int32(end); idx++ {
				h := q.repo.GetHeader(idx)
				if q.matches(h) {
					visit(entity.Entity{Index: idx, Generation: h.Generation}, h)
				}
			}
			return nil
		})
	}
	return g.Wait()
}

// TimeSliceMetric selects the budget unit for ForEachTimeSliced.
type TimeSliceMetric int

const (
	MetricWallClockMS TimeSliceMetric = iota
	MetricEntityCount
)

// TimeSliceState is the explicit resumable state object time-sliced
// iteration carries between calls, modeled as plain data rather than a
// coroutine to keep suspension deterministic.
type TimeSliceState struct {
	NextEntityID int32
	IsComplete   bool
}

// ForEachTimeSliced resumes from state and visits matching entities until
// the budget (wall-clock milliseconds or entity count, per metric) is
// exhausted, then suspends by updating state in place. Checkpoints happen
// every 64 scanned indices for MetricWallClockMS and every scanned index
// for MetricEntityCount; a negative budget therefore suspends at the very
// first checkpoint. Calling again after IsComplete resets to the start.
func (q *Query) ForEachTimeSliced(state *TimeSliceState, metric TimeSliceMetric, budget float64, visit Visitor) {
	if state.IsComplete {
		state.NextEntityID = 0
		state.IsComplete = false
	}

	maxIdx := q.repo.MaxEntityIndex()
	start := time.Now()
	var scanned, delivered int

	idx := state.NextEntityID
	for ; idx <= maxIdx; idx++ {
		h := q.repo.GetHeader(idx)
		if q.matches(h) {
			visit(entity.Entity{Index: idx, Generation: h.Generation}, h)
			delivered++
		}
		scanned++

		checkpoint := metric == MetricEntityCount || scanned%64 == 0
		if !checkpoint {
			continue
		}
		var consumed float64
		if metric == MetricEntityCount {
			consumed = float64(delivered)
		} else {
			consumed = float64(time.Since(start).Milliseconds())
		}
		if consumed >= budget {
			state.NextEntityID = idx + 1
			state.IsComplete = idx >= maxIdx
			return
		}
	}
	state.NextEntityID = maxIdx + 1
	state.IsComplete = true
}
