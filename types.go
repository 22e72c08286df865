// Package kinetic implements a chunked, Structure-of-Arrays Entity-
// Component-System kernel with an integrated flight recorder: generational
// entity handles, 256-bit signature masks, change-version-tracked component
// chunks, a query engine with chunk-skip culling, a deferred command buffer,
// a phase-ordered system scheduler, a double-buffered event bus, and a
// versioned binary recording/playback format.
package kinetic

import "kinetic/chunk"

// ComponentID and Mask256 are re-exported from the chunk package, which
// owns them because chunks need to stamp their own signature without
// importing the repository types that sit above them.
type ComponentID = chunk.ComponentID
type Mask256 = chunk.Mask256

const (
	// ChunkCapacity is the fixed element count of every chunk.
	ChunkCapacity = chunk.Capacity
	// MaxEntities bounds the entity index; the 1,000,001st create fails.
	MaxEntities = 1_000_000
	// MaxComponentTypes bounds the registry; ids are 0..255.
	MaxComponentTypes = 256
)

// EntityID is a generational handle: a dense index paired with a
// generation counter that increments on every destruction at that index,
// so a stale copy of a handle can always be told apart from its
// replacement.
type EntityID uint64

// NewEntityID packs an index and generation into a handle.
func NewEntityID(index, generation uint32) EntityID {
	return EntityID(uint64(generation)<<32 | uint64(index))
}

// Index returns the dense entity index.
func (e EntityID) Index() uint32 { return uint32(e) }

// Generation returns the entity's generation counter.
func (e EntityID) Generation() uint32 { return uint32(e >> 32) }

// InvalidEntityID is the zero handle; no live entity ever has this value
// because entity index allocation starts at 1.
const InvalidEntityID EntityID = 0

const flagActive uint32 = 1 << 0

// EntityHeader is stored in a chunked table exactly like any component,
// so scanning N consecutive indices touches a bounded number of cache
// lines regardless of how many component types are registered. Padded to
// 96 bytes (a multiple of 32) so mask loads can be aligned.
type EntityHeader struct {
	ComponentMask Mask256
	AuthorityMask Mask256
	Generation    uint32
	Flags         uint32
	_             [24]byte
}

func (h EntityHeader) active() bool { return h.Flags&flagActive != 0 }

// StorageClass selects how a registered component type is stored.
type StorageClass int

const (
	StorageInlineValue StorageClass = iota
	StorageBoxedObject
	StorageTag
	StorageMultiPart
)

func (s StorageClass) String() string {
	switch s {
	case StorageInlineValue:
		return "inline_value"
	case StorageBoxedObject:
		return "boxed_object"
	case StorageTag:
		return "tag"
	case StorageMultiPart:
		return "multi_part"
	default:
		return "unknown"
	}
}

// DataPolicy is a bitmask of recording/snapshot behaviors for a
// component type.
type DataPolicy uint8

const (
	PolicySnapshotable DataPolicy = 1 << iota
	PolicyRecordable
	PolicySaveable
	PolicyNeedsClone
)

// DefaultPolicy returns the default data policy for a storage class, per
// the registry's documented defaults: inline values get every bit;
// mutable boxed objects are recordable/saveable but not snapshotable
// unless the caller opts in via PolicyNeedsClone; tags carry no data so
// no policy bit applies to them.
func DefaultPolicy(class StorageClass) DataPolicy {
	switch class {
	case StorageBoxedObject:
		return PolicyRecordable | PolicySaveable
	case StorageTag:
		return 0
	case StorageMultiPart:
		return PolicySnapshotable | PolicyRecordable | PolicySaveable
	default:
		return PolicySnapshotable | PolicyRecordable | PolicySaveable
	}
}

// Phase is one of the five fixed, globally ordered per-frame stages.
type Phase int

const (
	PhaseInitialization Phase = iota
	PhaseNetworkReceive
	PhaseSimulation
	PhaseNetworkSend
	PhasePresentation
	phaseCount
)

// Phases lists every phase in execution order.
var Phases = []Phase{
	PhaseInitialization,
	PhaseNetworkReceive,
	PhaseSimulation,
	PhaseNetworkSend,
	PhasePresentation,
}

func (p Phase) String() string {
	switch p {
	case PhaseInitialization:
		return "initialization"
	case PhaseNetworkReceive:
		return "network-receive"
	case PhaseSimulation:
		return "simulation"
	case PhaseNetworkSend:
		return "network-send"
	case PhasePresentation:
		return "presentation"
	default:
		return "unknown"
	}
}
