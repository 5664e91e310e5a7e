package ecs

import (
	"reflect"
	"sync"
	"sync/atomic"

	"fdprec/internal/chunktable"
	"fdprec/internal/entity"
	"fdprec/internal/registry"
)

// DestroyLogEntry is one record in the destruction log: the freed index and
// the generation it held at the moment of destruction.
type DestroyLogEntry struct {
	Index      int32
	Generation uint16
}

// Repository is the EntityRepository: it owns the EntityIndex, every
// registered component column, the destruction log, and the global tick
// version V. Component writes follow single-writer discipline (spec §9,
// Open Question ii) — the repository does not take an internal lock around
// add/set/remove/get; callers must not mutate concurrently with a query or
// another mutation. Entity creation and registry mutation remain
// concurrency-safe on their own (entity.Index and registry.Registry each
// serialize their own critical sections).
type Repository struct {
	maxEntities int
	chunkBytes  int
	paranoid    bool

	registry *registry.Registry
	index    *entity.Index

	columnsMu sync.RWMutex
	columns   map[int]Column

	destructionMu  sync.Mutex
	destructionLog []DestroyLogEntry

	version atomic.Uint32
}

// Option configures a new Repository.
type Option func(*Repository)

// WithMaxEntities overrides the default entity universe cap.
func WithMaxEntities(n int) Option { return func(r *Repository) { r.maxEntities = n } }

// WithChunkBytes overrides the default per-chunk byte budget.
func WithChunkBytes(n int) Option { return func(r *Repository) { r.chunkBytes = n } }

// WithParanoid enables fatal-on-stale-handle semantics for DestroyEntity.
func WithParanoid(v bool) Option { return func(r *Repository) { r.paranoid = v } }

// New constructs an empty Repository. Global version starts at 1, per
// spec §3.
func New(opts ...Option) *Repository {
	r := &Repository{
		maxEntities: chunktable.DefaultMaxEntities,
		chunkBytes:  chunktable.DefaultChunkBytes,
		registry:    registry.New(),
		columns:     make(map[int]Column),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.index = entity.New(r.maxEntities, r.chunkBytes)
	r.version.Store(1)
	return r
}

func typeIdentity[T any]() string {
	return reflect.TypeOf((*T)(nil)).Elem().String()
}

// Registry exposes the component type registry, e.g. for the recorder to
// enumerate recordable/saveable CIDs.
func (r *Repository) Registry() *registry.Registry { return r.registry }

// EntityIndex exposes the header table, e.g. for the recorder/reader to
// select or restore the type_id == -1 column.
func (r *Repository) EntityIndex() *entity.Index { return r.index }

// ColumnByID returns the column registered for cid, if any.
func (r *Repository) ColumnByID(cid int) (Column, bool) {
	r.columnsMu.RLock()
	defer r.columnsMu.RUnlock()
	col, ok := r.columns[cid]
	return col, ok
}

// GlobalVersion returns V.
func (r *Repository) GlobalVersion() uint32 { return r.version.Load() }

// SetGlobalVersion overwrites V. Used only by persistence (RecordingReader
// sets it to the replayed frame's tick) and tests.
func (r *Repository) SetGlobalVersion(v uint32) { r.version.Store(v) }

// Tick advances V by one. No component is touched; it is the sole point at
// which the version seen by subsequent writes advances.
func (r *Repository) Tick() uint32 { return r.version.Add(1) }

// CreateEntity allocates a new entity, stamping its header with V.
func (r *Repository) CreateEntity() entity.Entity {
	return r.index.Create(r.GlobalVersion())
}

// DestroyEntity deactivates e, appends (index, stored generation) to the
// destruction log, and frees its slot. Destroying a stale or null handle
// is a no-op unless the repository was built WithParanoid(true), in which
// case it returns ErrInvalidHandle.
func (r *Repository) DestroyEntity(e entity.Entity) error {
	// Snapshot the mask before index.Destroy clears it, so the columns that
	// lose a slot here can be told about it below.
	owned := r.index.Header(e.Index).ComponentMask

	gen, ok := r.index.Destroy(e, r.GlobalVersion())
	if !ok {
		if r.paranoid {
			return ErrInvalidHandle
		}
		return nil
	}

	owned.ForEachBit(func(cid int) bool {
		col, ok := r.ColumnByID(cid)
		if !ok {
			return true
		}
		pt, ok := col.(populationTracker)
		if !ok {
			return true
		}
		pt.MarkUnpopulated(e.Index)
		pt.TryDecommit(int(e.Index) / col.ChunkCap())
		return true
	})

	r.destructionMu.Lock()
	r.destructionLog = append(r.destructionLog, DestroyLogEntry{Index: e.Index, Generation: gen})
	r.destructionMu.Unlock()
	return nil
}

// IsAlive reports whether e refers to a live entity.
func (r *Repository) IsAlive(e entity.Entity) bool { return r.index.IsAlive(e) }

// EntityCount returns the number of currently active entities.
func (r *Repository) EntityCount() int32 { return r.index.ActiveCount() }

// MaxEntityIndex returns the highest index ever issued, or -1.
func (r *Repository) MaxEntityIndex() int32 { return r.index.MaxIssuedIndex() }

// GetHeader returns a copy of the header at idx.
func (r *Repository) GetHeader(idx int32) entity.EntityHeader { return r.index.Header(idx) }

// GetDestructionLog returns a copy of the pending destruction log.
func (r *Repository) GetDestructionLog() []DestroyLogEntry {
	r.destructionMu.Lock()
	defer r.destructionMu.Unlock()
	out := make([]DestroyLogEntry, len(r.destructionLog))
	copy(out, r.destructionLog)
	return out
}

// ClearDestructionLog empties the destruction log. Only RecorderSystem
// should call this (spec §9, Open Question i): the log's producer/consumer
// contract is "recorder clears; everyone else only reads".
func (r *Repository) ClearDestructionLog() {
	r.destructionMu.Lock()
	r.destructionLog = r.destructionLog[:0]
	r.destructionMu.Unlock()
}

// HasComponentChanged dispatches to column cid's HasChanges.
func (r *Repository) HasComponentChanged(cid int, since uint32) bool {
	col, ok := r.ColumnByID(cid)
	if !ok {
		return false
	}
	return col.HasChanges(since)
}

// RegisterComponent idempotently assigns a CID to T (a plain, unmanaged
// component type) and creates its column if this is the first
// registration.
func RegisterComponent[T any](r *Repository) (int, error) {
	cid, err := r.registry.GetOrRegister(typeIdentity[T](), false)
	if err != nil {
		return 0, err
	}
	r.columnsMu.Lock()
	defer r.columnsMu.Unlock()
	if _, exists := r.columns[cid]; !exists {
		r.columns[cid] = NewPlainColumn[T](cid, r.maxEntities, r.chunkBytes)
	}
	return cid, nil
}

// RegisterManagedComponent idempotently assigns a CID to T (a managed
// component type) and creates its column, using ser to marshal individual
// values at chunk-encode time and chunkCap entities per version-tracking
// chunk.
func RegisterManagedComponent[T any](r *Repository, ser ManagedSerializer, chunkCap int) (int, error) {
	cid, err := r.registry.GetOrRegister(typeIdentity[T](), true)
	if err != nil {
		return 0, err
	}
	r.columnsMu.Lock()
	defer r.columnsMu.Unlock()
	if _, exists := r.columns[cid]; !exists {
		r.columns[cid] = NewManagedColumn[T](cid, r.maxEntities, chunkCap, ser)
	}
	return cid, nil
}

func plainColumnFor[T any](r *Repository) (int, *PlainColumn[T], error) {
	cid, ok := r.registry.Lookup(typeIdentity[T]())
	if !ok {
		return 0, nil, ErrNotRegistered
	}
	col, ok := r.ColumnByID(cid)
	if !ok {
		return 0, nil, ErrNotRegistered
	}
	pc, ok := col.(*PlainColumn[T])
	if !ok {
		return 0, nil, ErrNotRegistered
	}
	return cid, pc, nil
}

func managedColumnFor[T any](r *Repository) (int, *ManagedColumn[T], error) {
	cid, ok := r.registry.Lookup(typeIdentity[T]())
	if !ok {
		return 0, nil, ErrNotRegistered
	}
	col, ok := r.ColumnByID(cid)
	if !ok {
		return 0, nil, ErrNotRegistered
	}
	mc, ok := col.(*ManagedColumn[T])
	if !ok {
		return 0, nil, ErrNotRegistered
	}
	return cid, mc, nil
}

// AddComponent writes v for e's plain component T, stamping the column's
// chunk and setting e's bit in component_mask. T must already have been
// passed to RegisterComponent.
func AddComponent[T any](r *Repository, e entity.Entity, v T) error {
	if !r.IsAlive(e) {
		return ErrInvalidHandle
	}
	cid, pc, err := plainColumnFor[T](r)
	if err != nil {
		return err
	}
	version := r.GlobalVersion()
	*pc.table.GetRW(e.Index, version) = v
	h := r.index.HeaderRW(e.Index, version)
	if !h.ComponentMask.IsSet(cid) {
		pc.MarkPopulated(e.Index)
	}
	h.ComponentMask.SetBit(cid)
	h.LastChangeTick = version
	return nil
}

// SetComponent overwrites v for e's already-present plain component T.
// Returns false if e does not currently carry T.
func SetComponent[T any](r *Repository, e entity.Entity, v T) bool {
	if !HasComponent[T](r, e) {
		return false
	}
	_, pc, err := plainColumnFor[T](r)
	if err != nil {
		return false
	}
	version := r.GlobalVersion()
	*pc.table.GetRW(e.Index, version) = v
	h := r.index.HeaderRW(e.Index, version)
	h.LastChangeTick = version
	return true
}

// RemoveComponent clears e's bit for T without touching the underlying
// chunk bytes (has_component relies on the mask bit, not raw memory).
func RemoveComponent[T any](r *Repository, e entity.Entity) error {
	if !r.IsAlive(e) {
		return ErrInvalidHandle
	}
	cid, pc, err := plainColumnFor[T](r)
	if err != nil {
		return err
	}
	version := r.GlobalVersion()
	h := r.index.HeaderRW(e.Index, version)
	if h.ComponentMask.IsSet(cid) {
		pc.MarkUnpopulated(e.Index)
	}
	h.ComponentMask.ClearBit(cid)
	h.LastChangeTick = version
	return nil
}

// HasComponent reports whether e currently carries T.
func HasComponent[T any](r *Repository, e entity.Entity) bool {
	if !r.IsAlive(e) {
		return false
	}
	cid, ok := r.registry.Lookup(typeIdentity[T]())
	if !ok {
		return false
	}
	return r.index.Header(e.Index).ComponentMask.IsSet(cid)
}

// GetRO returns a copy of e's plain component T and whether it is present.
func GetRO[T any](r *Repository, e entity.Entity) (T, bool) {
	var zero T
	if !HasComponent[T](r, e) {
		return zero, false
	}
	_, pc, err := plainColumnFor[T](r)
	if err != nil {
		return zero, false
	}
	v, _ := pc.table.GetRO(e.Index)
	return v, true
}

// GetRW returns a mutable pointer to e's plain component T, stamping its
// chunk with the current tick. Requires T already present on e.
func GetRW[T any](r *Repository, e entity.Entity) (*T, bool) {
	if !HasComponent[T](r, e) {
		return nil, false
	}
	cid, pc, err := plainColumnFor[T](r)
	if err != nil {
		return nil, false
	}
	version := r.GlobalVersion()
	ptr := pc.table.GetRW(e.Index, version)
	h := r.index.HeaderRW(e.Index, version)
	h.LastChangeTick = version
	_ = cid
	return ptr, true
}

// AddManagedComponent writes v for e's managed component T. T must already
// have been passed to RegisterManagedComponent.
func AddManagedComponent[T any](r *Repository, e entity.Entity, v T) error {
	if !r.IsAlive(e) {
		return ErrInvalidHandle
	}
	cid, mc, err := managedColumnFor[T](r)
	if err != nil {
		return err
	}
	version := r.GlobalVersion()
	mc.Set(e.Index, v, version)
	h := r.index.HeaderRW(e.Index, version)
	h.ComponentMask.SetBit(cid)
	h.LastChangeTick = version
	return nil
}

// HasManagedComponent reports whether e currently carries managed
// component T.
func HasManagedComponent[T any](r *Repository, e entity.Entity) bool {
	return HasComponent[T](r, e)
}

// GetManagedRO returns a copy of e's managed component T and whether it is
// present.
func GetManagedRO[T any](r *Repository, e entity.Entity) (T, bool) {
	var zero T
	if !HasManagedComponent[T](r, e) {
		return zero, false
	}
	_, mc, err := managedColumnFor[T](r)
	if err != nil {
		return zero, false
	}
	return mc.Get(e.Index)
}

// RemoveManagedComponent clears e's managed component T.
func RemoveManagedComponent[T any](r *Repository, e entity.Entity) error {
	if !r.IsAlive(e) {
		return ErrInvalidHandle
	}
	cid, mc, err := managedColumnFor[T](r)
	if err != nil {
		return err
	}
	version := r.GlobalVersion()
	mc.Remove(e.Index, version)
	h := r.index.HeaderRW(e.Index, version)
	h.ComponentMask.ClearBit(cid)
	h.LastChangeTick = version
	return nil
}
