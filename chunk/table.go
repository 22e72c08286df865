package chunk

import (
	"sort"
	"sync"
	"unsafe"
)

// Capacity is the fixed number of elements per chunk. A build-time
// constant, power of two, per the design.
const Capacity = 16384

const (
	shift = 14 // log2(Capacity)
	mask  = Capacity - 1
)

// IndexOf returns the chunk index owning entity index i.
func IndexOf(i uint32) uint32 { return i >> shift }

// LocalOffset returns i's position within its chunk.
func LocalOffset(i uint32) uint32 { return i & mask }

// Chunk is one fixed-capacity contiguous run of elements of type T,
// together with the per-chunk metadata the query engine and recorder
// need: a monotonic change-version stamp, a live-entity population
// counter, and a conservative component-mask signature.
type Chunk[T any] struct {
	region        *Region
	Data          []T
	ChangeVersion uint64
	Population    int
	Signature     Mask256
}

// Table is a sparse map from chunk index to Chunk, with lazy chunk
// creation on first touch. This is the addressing scheme described for
// C2: index >> log2(Capacity) selects the chunk, index & (Capacity-1)
// selects the element within it.
type Table[T any] struct {
	mu     sync.RWMutex
	chunks map[uint32]*Chunk[T]
}

// NewTable constructs an empty chunk table for element type T.
func NewTable[T any]() *Table[T] {
	return &Table[T]{chunks: make(map[uint32]*Chunk[T])}
}

// At returns chunk number chunkIdx, allocating and committing it on
// first touch.
func (t *Table[T]) At(chunkIdx uint32) (*Chunk[T], error) {
	t.mu.RLock()
	c, ok := t.chunks[chunkIdx]
	t.mu.RUnlock()
	if ok {
		return c, nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok := t.chunks[chunkIdx]; ok {
		return c, nil
	}

	var zero T
	elemSize := int(unsafe.Sizeof(zero))
	region, err := Reserve(elemSize * Capacity)
	if err != nil {
		return nil, err
	}
	if err := region.Commit(0, elemSize*Capacity); err != nil {
		return nil, err
	}
	buf := region.Bytes()
	var data []T
	if elemSize > 0 {
		data = unsafe.Slice((*T)(unsafe.Pointer(&buf[0])), Capacity)
	}
	c = &Chunk[T]{region: region, Data: data}
	t.chunks[chunkIdx] = c
	return c, nil
}

// ExistsFor reports whether chunk number chunkIdx has been created,
// without allocating it.
func (t *Table[T]) ExistsFor(chunkIdx uint32) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.chunks[chunkIdx]
	return ok
}

// Get returns the chunk for chunkIdx if it exists, without allocating.
func (t *Table[T]) Get(chunkIdx uint32) (*Chunk[T], bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.chunks[chunkIdx]
	return c, ok
}

// ChangeVersionAt returns chunkIdx's change-version, for callers (the
// query engine) that only need the version stamp and not a typed
// element view. Implemented on every Table[T] regardless of T, so a
// type-erased `any` holding some *Table[T] can be recovered with a plain
// interface assertion.
func (t *Table[T]) ChangeVersionAt(chunkIdx uint32) (uint64, bool) {
	c, ok := t.Get(chunkIdx)
	if !ok {
		return 0, false
	}
	return c.ChangeVersion, true
}

// ElemSize returns sizeof(T), used by the recorder to frame raw chunk
// payloads without a type parameter.
func (t *Table[T]) ElemSize() int {
	var zero T
	return int(unsafe.Sizeof(zero))
}

// RawBytesAt returns chunkIdx's backing storage reinterpreted as a byte
// slice, for callers (the recorder) that need to copy a whole chunk's
// payload without knowing T. The slice aliases the chunk's memory; the
// recorder copies it before returning.
func (t *Table[T]) RawBytesAt(chunkIdx uint32) ([]byte, bool) {
	c, ok := t.Get(chunkIdx)
	if !ok {
		return nil, false
	}
	elemSize := t.ElemSize()
	if elemSize == 0 || len(c.Data) == 0 {
		return nil, true
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(&c.Data[0])), elemSize*len(c.Data)), true
}

// WriteRawBytesAt copies payload into chunkIdx's backing storage,
// allocating the chunk if it does not exist yet. len(payload) must equal
// Capacity*ElemSize(); used by playback to restore a recorded chunk
// verbatim.
func (t *Table[T]) WriteRawBytesAt(chunkIdx uint32, payload []byte, changeVersion uint64) error {
	c, err := t.At(chunkIdx)
	if err != nil {
		return err
	}
	elemSize := t.ElemSize()
	if elemSize > 0 && len(payload) > 0 {
		dst := unsafe.Slice((*byte)(unsafe.Pointer(&c.Data[0])), elemSize*len(c.Data))
		copy(dst, payload)
	}
	c.ChangeVersion = changeVersion
	return nil
}

// SortedIndices returns existing chunk indices in ascending order. Used
// by the recorder and sorted iteration to produce deterministic output.
func (t *Table[T]) SortedIndices() []uint32 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]uint32, 0, len(t.chunks))
	for idx := range t.chunks {
		out = append(out, idx)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Release unmaps every chunk's backing region. Safe to call once.
func (t *Table[T]) Release() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	var firstErr error
	for _, c := range t.chunks {
		if err := c.region.Release(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	t.chunks = make(map[uint32]*Chunk[T])
	return firstErr
}

// Reset clears every chunk's metadata and zeroes its data, without
// releasing the underlying regions. World.Reset does not use it: it
// replaces the stores with new, empty tables instead.
func (t *Table[T]) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, c := range t.chunks {
		var zero T
		for i := range c.Data {
			c.Data[i] = zero
		}
		c.ChangeVersion = 0
		c.Population = 0
		c.Signature = Mask256{}
	}
}
