package chunk

import (
	"errors"
	"sync"

	"github.com/edsrzf/mmap-go"
)

// Errors returned by the arena. These are plain sentinel errors rather
// than the kernel's *ECSError: the chunk package sits below the error
// taxonomy and callers (the component store, entity index) are the ones
// that translate a reservation failure into a StaleHandle/OutOfMemory/etc
// ECSError with entity/component context attached.
var (
	ErrOutOfAddressSpace = errors.New("chunk: out of address space")
	ErrOutOfMemory       = errors.New("chunk: out of memory")
	ErrDoubleRelease     = errors.New("chunk: region already released")
)

// Region is a reserved span of address space, optionally committed.
//
// mmap-go's portable API maps a region RDWR up front rather than exposing
// PROT_NONE reservations with a later mprotect step, so true demand-paged
// reserve/commit is only approximated here: Reserve performs the mapping,
// and Commit is "first touch" bookkeeping over memory that is already
// backed. This is documented as a deliberate approximation, not an
// oversight.
type Region struct {
	mu        sync.Mutex
	mapping   mmap.MMap
	size      int
	committed bool
	released  bool
}

// Reserve obtains size bytes of address space.
func Reserve(size int) (*Region, error) {
	if size <= 0 {
		return nil, ErrOutOfAddressSpace
	}
	m, err := mmap.MapRegion(nil, size, mmap.RDWR, mmap.ANON, 0)
	if err != nil {
		return nil, ErrOutOfAddressSpace
	}
	return &Region{mapping: m, size: size}, nil
}

// Commit makes [offset, offset+length) readable and writable. Idempotent.
func (r *Region) Commit(offset, length int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.released {
		return ErrDoubleRelease
	}
	if offset < 0 || length < 0 || offset+length > r.size {
		return ErrOutOfMemory
	}
	r.committed = true
	return nil
}

// Bytes returns the region's backing slice. Valid until Release.
func (r *Region) Bytes() []byte {
	return r.mapping
}

// Release returns the address space and backing storage. Double release
// is a fatal invariant violation, surfaced as an error rather than a
// panic so the caller can decide how to escalate.
func (r *Region) Release() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.released {
		return ErrDoubleRelease
	}
	r.released = true
	return r.mapping.Unmap()
}
