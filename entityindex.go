package kinetic

import (
	"sync"

	roaring "github.com/RoaringBitmap/roaring/v2"

	"kinetic/chunk"
)

// EntityIndex is the generational entity handle table (C4). Entity
// headers are stored in a chunked table exactly like any component, so
// the chunk's own population counter and signature mask double as the
// "how many entities, which component types" summary the query engine
// needs for chunk skipping (see HeaderTable below).
//
// Recycled indices are tracked in a roaring bitmap rather than a plain
// slice stack: the free set is exactly the kind of sparse, possibly
// large integer set roaring bitmaps are built for, and Minimum hands back
// the lowest free index for reuse directly.
type EntityIndex struct {
	mu        sync.Mutex
	headers   *chunk.Table[EntityHeader]
	free      *roaring.Bitmap
	highWater uint32 // next never-allocated index; 0 is reserved invalid
}

// NewEntityIndex constructs an empty entity index.
func NewEntityIndex() *EntityIndex {
	return &EntityIndex{
		headers:   chunk.NewTable[EntityHeader](),
		free:      roaring.New(),
		highWater: 1,
	}
}

// HeaderTable exposes the underlying chunked header store, for the query
// engine, scheduler barrier, and recorder to iterate directly.
func (idx *EntityIndex) HeaderTable() *chunk.Table[EntityHeader] {
	return idx.headers
}

// Create allocates a new entity: a recycled index if one is free,
// otherwise the next never-used index. Fails with EntityIndexExhausted
// once MaxEntities have been allocated without enough destructions to
// free one back up.
func (idx *EntityIndex) Create(version uint64) (EntityID, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	var index uint32
	if !idx.free.IsEmpty() {
		index = idx.free.Minimum()
		idx.free.Remove(index)
	} else {
		if idx.highWater > MaxEntities {
			return InvalidEntityID, NewEntityIndexExhaustedError()
		}
		index = idx.highWater
		idx.highWater++
	}

	c, err := idx.headers.At(chunk.IndexOf(index))
	if err != nil {
		return InvalidEntityID, err
	}
	local := chunk.LocalOffset(index)
	generation := c.Data[local].Generation // preserved across reuse, not reset
	c.Data[local] = EntityHeader{Generation: generation, Flags: flagActive}
	c.Population++
	c.ChangeVersion = version

	return NewEntityID(index, generation), nil
}

// Destroy marks entity dead, advances its generation so stale copies of
// the handle are detectable, and returns its index to the free list. A
// no-op if the entity is not currently alive.
func (idx *EntityIndex) Destroy(entity EntityID, version uint64) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	index := entity.Index()
	chunkIdx := chunk.IndexOf(index)
	if !idx.headers.ExistsFor(chunkIdx) {
		return
	}
	c, _ := idx.headers.At(chunkIdx)
	local := chunk.LocalOffset(index)
	h := &c.Data[local]
	if !h.active() || h.Generation != entity.Generation() {
		return
	}

	h.ComponentMask = Mask256{}
	h.AuthorityMask = Mask256{}
	h.Flags &^= flagActive
	h.Generation++
	c.Population--
	c.ChangeVersion = version
	idx.free.Add(index)
}

// IsAlive reports whether entity refers to a currently live slot at the
// matching generation.
func (idx *EntityIndex) IsAlive(entity EntityID) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.isAliveLocked(entity)
}

func (idx *EntityIndex) isAliveLocked(entity EntityID) bool {
	index := entity.Index()
	chunkIdx := chunk.IndexOf(index)
	if !idx.headers.ExistsFor(chunkIdx) {
		return false
	}
	c, _ := idx.headers.Get(chunkIdx)
	h := c.Data[chunk.LocalOffset(index)]
	return h.active() && h.Generation == entity.Generation()
}

// Header returns a copy of the entity's current header, for read-only
// inspection (does not stamp the header chunk's change-version).
func (idx *EntityIndex) Header(entity EntityID) (EntityHeader, bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if !idx.isAliveLocked(entity) {
		return EntityHeader{}, false
	}
	chunkIdx := chunk.IndexOf(entity.Index())
	c, _ := idx.headers.Get(chunkIdx)
	return c.Data[chunk.LocalOffset(entity.Index())], true
}

// SetComponentBit marks type id present on entity and ORs it into the
// chunk's signature (which only ever grows, per the conservative-
// signature invariant). Stamps the header chunk's change-version with
// version, the repository's current clock value.
func (idx *EntityIndex) SetComponentBit(entity EntityID, id ComponentID, version uint64) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if !idx.isAliveLocked(entity) {
		return
	}
	c, _ := idx.headers.Get(chunk.IndexOf(entity.Index()))
	h := &c.Data[chunk.LocalOffset(entity.Index())]
	h.ComponentMask.Set(id)
	c.Signature.Set(id)
	c.ChangeVersion = version
}

// ClearComponentBit marks type id absent on entity. The chunk signature
// is left untouched: it is a conservative union and clearing does not
// shrink it.
func (idx *EntityIndex) ClearComponentBit(entity EntityID, id ComponentID, version uint64) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if !idx.isAliveLocked(entity) {
		return
	}
	c, _ := idx.headers.Get(chunk.IndexOf(entity.Index()))
	h := &c.Data[chunk.LocalOffset(entity.Index())]
	h.ComponentMask.Clear(id)
	c.ChangeVersion = version
}

// SetAuthorityBit sets or clears id in entity's authority mask.
func (idx *EntityIndex) SetAuthorityBit(entity EntityID, id ComponentID, value bool, version uint64) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if !idx.isAliveLocked(entity) {
		return
	}
	c, _ := idx.headers.Get(chunk.IndexOf(entity.Index()))
	h := &c.Data[chunk.LocalOffset(entity.Index())]
	if value {
		h.AuthorityMask.Set(id)
	} else {
		h.AuthorityMask.Clear(id)
	}
	c.ChangeVersion = version
}

// RebuildFreeList recomputes highWater and the free-index set by
// scanning every existing header chunk. Used by playback after writing
// restored header bytes directly, which bypasses Create/Destroy and so
// cannot keep those incrementally in sync.
func (idx *EntityIndex) RebuildFreeList() {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	chunkIndices := idx.headers.SortedIndices()

	var high uint32 = 1
	for _, chunkIdx := range chunkIndices {
		c, _ := idx.headers.Get(chunkIdx)
		base := chunkIdx * chunk.Capacity
		for local, h := range c.Data {
			index := base + uint32(local)
			if index != 0 && h.active() && index+1 > high {
				high = index + 1
			}
		}
	}

	idx.free = roaring.New()
	for _, chunkIdx := range chunkIndices {
		c, _ := idx.headers.Get(chunkIdx)
		base := chunkIdx * chunk.Capacity
		for local, h := range c.Data {
			index := base + uint32(local)
			if index != 0 && index < high && !h.active() {
				idx.free.Add(index)
			}
		}
	}
	idx.highWater = high
}

// HighWater returns the first never-allocated index, for diagnostics.
func (idx *EntityIndex) HighWater() uint32 {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.highWater
}

// Release unmaps every header chunk's backing memory.
func (idx *EntityIndex) Release() error {
	return idx.headers.Release()
}
