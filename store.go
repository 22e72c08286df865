package kinetic

import (
	"sync"

	"kinetic/chunk"
)

// Stores is the per-repository table of component storage back-ends
// (C5), one chunk.Table[T] per registered inline-value or boxed-object
// type, keyed by the type's ComponentID. Go has no runtime-generic
// container, so heterogeneous tables are held behind `any` and recovered
// with a type assertion in the generic accessor functions below — the
// same pattern the query engine and recorder use to stay type-safe at
// the call site while the manager itself stays type-erased.
type Stores struct {
	mu         sync.RWMutex
	tables     map[ComponentID]any // *chunk.Table[T]
	multiParts map[ComponentID]any // *MultiPartStore[T]
}

// NewStores constructs an empty store manager.
func NewStores() *Stores {
	return &Stores{tables: make(map[ComponentID]any), multiParts: make(map[ComponentID]any)}
}

// EnsureTable returns the chunk table backing component id, creating it
// on first use. T must match the type the id was registered with;
// mismatches are a programmer error caught by a failed type assertion.
func EnsureTable[T any](s *Stores, id ComponentID) *chunk.Table[T] {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.tables[id]; ok {
		return v.(*chunk.Table[T])
	}
	t := chunk.NewTable[T]()
	s.tables[id] = t
	return t
}

// Table returns the chunk table for id if it has been created.
func Table[T any](s *Stores, id ComponentID) (*chunk.Table[T], bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.tables[id]
	if !ok {
		return nil, false
	}
	return v.(*chunk.Table[T]), true
}

// rawTable returns the type-erased table for id, for callers (the
// recorder) that only need chunk-level metadata and raw bytes, not a
// typed element view.
func (s *Stores) rawTable(id ComponentID) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.tables[id]
	return v, ok
}

type versionedTable interface {
	ChangeVersionAt(chunkIdx uint32) (uint64, bool)
}

// ChangeVersionAt returns the change-version of component id's chunk
// chunkIdx, used by the query engine's changed-component filter.
func (s *Stores) ChangeVersionAt(id ComponentID, chunkIdx uint32) (uint64, bool) {
	raw, ok := s.rawTable(id)
	if !ok {
		return 0, false
	}
	vt, ok := raw.(versionedTable)
	if !ok {
		return 0, false
	}
	return vt.ChangeVersionAt(chunkIdx)
}

// rawChunkTable is implemented by every chunk.Table[T] regardless of T,
// letting the recorder copy whole chunks of bytes without a type
// parameter. Mirrors versionedTable's type-erasure trick.
type rawChunkTable interface {
	versionedTable
	ElemSize() int
	SortedIndices() []uint32
	RawBytesAt(chunkIdx uint32) ([]byte, bool)
	WriteRawBytesAt(chunkIdx uint32, payload []byte, changeVersion uint64) error
}

// ElemSize returns the byte size of component id's element, or 0 if the
// table has not been created yet (tags, or types never added to any
// entity).
func (s *Stores) ElemSize(id ComponentID) int {
	raw, ok := s.rawTable(id)
	if !ok {
		return 0
	}
	rt, ok := raw.(rawChunkTable)
	if !ok {
		return 0
	}
	return rt.ElemSize()
}

// ChunkIndices returns component id's existing chunk indices in
// ascending order, for the recorder to iterate deterministically.
func (s *Stores) ChunkIndices(id ComponentID) []uint32 {
	raw, ok := s.rawTable(id)
	if !ok {
		return nil
	}
	rt, ok := raw.(rawChunkTable)
	if !ok {
		return nil
	}
	return rt.SortedIndices()
}

// RawChunkBytes copies component id's chunk chunkIdx out as raw bytes,
// for the recorder to write into a frame.
func (s *Stores) RawChunkBytes(id ComponentID, chunkIdx uint32) ([]byte, bool) {
	raw, ok := s.rawTable(id)
	if !ok {
		return nil, false
	}
	rt, ok := raw.(rawChunkTable)
	if !ok {
		return nil, false
	}
	view, ok := rt.RawBytesAt(chunkIdx)
	if !ok {
		return nil, false
	}
	return append([]byte(nil), view...), true
}

// WriteRawChunkBytes writes payload into component id's chunk chunkIdx,
// creating the table and chunk if needed, stamping changeVersion. Used
// by playback to restore a recorded frame verbatim, regardless of
// authority_mask (see the recording-format open question in the design
// notes: playback overwrites bytes unconditionally).
func (s *Stores) WriteRawChunkBytes(id ComponentID, chunkIdx uint32, payload []byte, changeVersion uint64, newTable func() any) error {
	s.mu.Lock()
	raw, ok := s.tables[id]
	if !ok {
		raw = newTable()
		s.tables[id] = raw
	}
	s.mu.Unlock()
	rt, ok := raw.(rawChunkTable)
	if !ok {
		return NewUnknownTypeError(id)
	}
	return rt.WriteRawBytesAt(chunkIdx, payload, changeVersion)
}

// Release unmaps every registered component table's backing memory.
func (s *Stores) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for _, v := range s.tables {
		if releaser, ok := v.(interface{ Release() error }); ok {
			if err := releaser.Release(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// EnsureMultiPartStore returns the multi-part store backing component
// id, creating it on first use.
func EnsureMultiPartStore[T any](s *Stores, id ComponentID) *MultiPartStore[T] {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.multiParts[id]; ok {
		return v.(*MultiPartStore[T])
	}
	mp := NewMultiPartStore[T]()
	s.multiParts[id] = mp
	return mp
}

// MultiPartStoreOf returns the multi-part store for id if it has been
// created.
func MultiPartStoreOf[T any](s *Stores, id ComponentID) (*MultiPartStore[T], bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.multiParts[id]
	if !ok {
		return nil, false
	}
	return v.(*MultiPartStore[T]), true
}

func (s *Stores) rawMultiPart(id ComponentID) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.multiParts[id]
	return v, ok
}

// rawMultiPartStore is implemented by every MultiPartStore[T] regardless
// of T, letting the recorder copy runs of raw bytes without a type
// parameter, mirroring rawChunkTable's trick for chunk.Table[T].
type rawMultiPartStore interface {
	ElemSize() int
	Indices() []uint32
	VersionAt(index uint32) (uint64, bool)
	RawPartsAt(index uint32) ([]byte, bool)
	WriteRawPartsAt(index uint32, payload []byte, version uint64) error
}

// MultiPartElemSize returns the byte size of component id's element, or
// 0 if the store has not been created yet.
func (s *Stores) MultiPartElemSize(id ComponentID) int {
	raw, ok := s.rawMultiPart(id)
	if !ok {
		return 0
	}
	return raw.(rawMultiPartStore).ElemSize()
}

// MultiPartIndices returns component id's entity indices with a
// recorded run, in ascending order, for the recorder to iterate
// deterministically.
func (s *Stores) MultiPartIndices(id ComponentID) []uint32 {
	raw, ok := s.rawMultiPart(id)
	if !ok {
		return nil
	}
	return raw.(rawMultiPartStore).Indices()
}

// MultiPartVersionAt returns the change-version entity's run on
// component id was last written at.
func (s *Stores) MultiPartVersionAt(id ComponentID, entityIndex uint32) (uint64, bool) {
	raw, ok := s.rawMultiPart(id)
	if !ok {
		return 0, false
	}
	return raw.(rawMultiPartStore).VersionAt(entityIndex)
}

// RawMultiPartBytes copies entity's run on component id out as raw
// bytes (count implied by len/elemSize), for the recorder to write into
// a frame as a single blob, per the multi-part recording contract.
func (s *Stores) RawMultiPartBytes(id ComponentID, entityIndex uint32) ([]byte, bool) {
	raw, ok := s.rawMultiPart(id)
	if !ok {
		return nil, false
	}
	view, ok := raw.(rawMultiPartStore).RawPartsAt(entityIndex)
	if !ok {
		return nil, false
	}
	return append([]byte(nil), view...), true
}

// WriteRawMultiPartBytes overwrites entity's run on component id from a
// raw byte blob, creating the store if needed, stamping changeVersion.
// Used by playback to restore a recorded multi-part slot verbatim.
func (s *Stores) WriteRawMultiPartBytes(id ComponentID, entityIndex uint32, payload []byte, changeVersion uint64, newStore func() any) error {
	s.mu.Lock()
	raw, ok := s.multiParts[id]
	if !ok {
		raw = newStore()
		s.multiParts[id] = raw
	}
	s.mu.Unlock()
	rs, ok := raw.(rawMultiPartStore)
	if !ok {
		return NewUnknownTypeError(id)
	}
	return rs.WriteRawPartsAt(entityIndex, payload, changeVersion)
}

// SetParts replaces entity's element sequence on multi-part component id
// wholesale. A no-op on a stale handle. Sets the component bit when the
// new sequence is non-empty, clears it otherwise, matching the
// header-mask contract every other storage class observes.
func SetParts[T any](w *World, entity EntityID, id ComponentID, parts []T) error {
	if !w.entities.IsAlive(entity) {
		return nil
	}
	store := EnsureMultiPartStore[T](w.stores, id)
	store.SetParts(entity.Index(), parts, w.Clock())
	if len(parts) == 0 {
		w.entities.ClearComponentBit(entity, id, w.Clock())
	} else {
		w.entities.SetComponentBit(entity, id, w.Clock())
	}
	return nil
}

// AddPart appends a single element to entity's sequence on multi-part
// component id.
func AddPart[T any](w *World, entity EntityID, id ComponentID, part T) error {
	if !w.entities.IsAlive(entity) {
		return nil
	}
	store := EnsureMultiPartStore[T](w.stores, id)
	store.AddPart(entity.Index(), part, w.Clock())
	w.entities.SetComponentBit(entity, id, w.Clock())
	return nil
}

// RemovePart removes the element at position i in entity's sequence on
// multi-part component id, clearing the component bit if the sequence
// becomes empty.
func RemovePart[T any](w *World, entity EntityID, id ComponentID, i int) error {
	store, ok := MultiPartStoreOf[T](w.stores, id)
	if !ok {
		return nil
	}
	store.RemovePart(entity.Index(), i, w.Clock())
	if len(store.Parts(entity.Index())) == 0 {
		w.entities.ClearComponentBit(entity, id, w.Clock())
	}
	return nil
}

// RemovePartsAll drops entity's whole element run on multi-part
// component id and clears its component bit — the multi-part analogue
// of RemoveComponent, used by the command buffer's remove op.
func RemovePartsAll[T any](w *World, entity EntityID, id ComponentID) {
	if store, ok := MultiPartStoreOf[T](w.stores, id); ok {
		store.Remove(entity.Index(), w.Clock())
	}
	w.entities.ClearComponentBit(entity, id, w.Clock())
}

// GetParts returns a copy of entity's ordered element sequence on
// multi-part component id. Fails with MissingComponent if the bit is
// clear.
func GetParts[T any](w *World, entity EntityID, id ComponentID) ([]T, error) {
	header, alive := w.entities.Header(entity)
	if !alive || !header.ComponentMask.Has(id) {
		return nil, NewMissingComponentError(entity, id)
	}
	store, ok := MultiPartStoreOf[T](w.stores, id)
	if !ok {
		return nil, NewMissingComponentError(entity, id)
	}
	return store.Parts(entity.Index()), nil
}

// AddComponent stores value on entity under id, creating the backing
// chunk on first touch, and marks the component present on the entity's
// header. A no-op on a stale handle, matching the command-buffer
// mutation contract.
func AddComponent[T any](w *World, entity EntityID, id ComponentID, value T) error {
	if !w.entities.IsAlive(entity) {
		return nil
	}
	table := EnsureTable[T](w.stores, id)
	c, err := table.At(chunk.IndexOf(entity.Index()))
	if err != nil {
		return err
	}
	c.Data[chunk.LocalOffset(entity.Index())] = value
	c.ChangeVersion = w.Clock()
	w.entities.SetComponentBit(entity, id, w.Clock())
	return nil
}

// GetComponent returns a read-only copy of entity's component id. Does
// not stamp the chunk's change-version: read-only access must never look
// like a mutation to the recorder's delta logic. Fails with
// MissingComponent if the bit is clear.
func GetComponent[T any](w *World, entity EntityID, id ComponentID) (T, error) {
	var zero T
	header, alive := w.entities.Header(entity)
	if !alive || !header.ComponentMask.Has(id) {
		return zero, NewMissingComponentError(entity, id)
	}
	table, ok := Table[T](w.stores, id)
	if !ok {
		return zero, NewMissingComponentError(entity, id)
	}
	chunkIdx := chunk.IndexOf(entity.Index())
	c, ok := table.Get(chunkIdx)
	if !ok {
		return zero, NewMissingComponentError(entity, id)
	}
	return c.Data[chunk.LocalOffset(entity.Index())], nil
}

// GetComponentMut returns an exclusive, mutable borrow of entity's
// component id, stamping the owning chunk's change-version with the
// repository's current clock. Fails with MissingComponent if absent.
func GetComponentMut[T any](w *World, entity EntityID, id ComponentID) (*T, error) {
	header, alive := w.entities.Header(entity)
	if !alive || !header.ComponentMask.Has(id) {
		return nil, NewMissingComponentError(entity, id)
	}
	table, ok := Table[T](w.stores, id)
	if !ok {
		return nil, NewMissingComponentError(entity, id)
	}
	chunkIdx := chunk.IndexOf(entity.Index())
	c, ok := table.Get(chunkIdx)
	if !ok {
		return nil, NewMissingComponentError(entity, id)
	}
	c.ChangeVersion = w.Clock()
	return &c.Data[chunk.LocalOffset(entity.Index())], nil
}

// HasComponent reports whether entity's header has id's bit set.
func HasComponent(w *World, entity EntityID, id ComponentID) bool {
	header, alive := w.entities.Header(entity)
	return alive && header.ComponentMask.Has(id)
}

// RemoveComponent clears id's bit on entity. The backing slot's bytes
// are left in place (readers must treat them as absent); this is what
// lets the chunk signature stay a pure union.
func RemoveComponent(w *World, entity EntityID, id ComponentID) {
	w.entities.ClearComponentBit(entity, id, w.Clock())
}

// AddTag sets id's bit with no backing storage at all.
func AddTag(w *World, entity EntityID, id ComponentID) {
	w.entities.SetComponentBit(entity, id, w.Clock())
}

// HasTag reports whether id's bit is set on entity.
func HasTag(w *World, entity EntityID, id ComponentID) bool {
	return HasComponent(w, entity, id)
}

// RemoveTag clears id's bit on entity.
func RemoveTag(w *World, entity EntityID, id ComponentID) {
	RemoveComponent(w, entity, id)
}
