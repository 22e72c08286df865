package kinetic

import (
	"sync/atomic"

	"kinetic/chunk"
)

// World is the process-local repository: the single point through which
// every other component (registry, entity index, stores, query engine,
// command buffers, scheduler, event bus) is reached. All state lives in
// or is indexed by it.
type World struct {
	registry *Registry
	entities *EntityIndex
	stores   *Stores
	events   *EventBus
	clock    atomic.Uint64
	appliers map[ComponentID]applier
}

// NewWorld constructs an empty repository.
func NewWorld() *World {
	return &World{
		registry: NewRegistry(),
		entities: NewEntityIndex(),
		stores:   NewStores(),
		events:   NewEventBus(),
		appliers: make(map[ComponentID]applier),
	}
}

// applier is the type-erased decode/apply side of a registered
// component type: the command buffer and playback only ever see a
// ComponentID and raw bytes, so they dispatch through this table rather
// than requiring a Go generic type parameter at decode time.
type applier struct {
	add          func(w *World, entity EntityID, id ComponentID, payload []byte) error
	remove       func(w *World, entity EntityID, id ComponentID)
	newTable     func() any // *chunk.Table[T], for the recorder's raw chunk-byte path
	newMultiPart func() any // *MultiPartStore[T], for the recorder's raw multi-part path
	isMultiPart  bool
}

// applierFor builds the decode/apply closures for T under class. Every
// class but StorageMultiPart stores T directly in a chunk table; a
// multi-part command instead carries a gob-encoded []T (the entity's
// whole element run) and is applied via SetParts rather than
// AddComponent. Recorded frames do not go through add: they restore
// chunks and multi-part runs through the raw paths of the stores that
// newTable and newMultiPart build.
func applierFor[T any](class StorageClass) applier {
	if class == StorageMultiPart {
		return applier{
			add: func(w *World, entity EntityID, id ComponentID, payload []byte) error {
				var parts []T
				if len(payload) > 0 {
					if err := gobDecode(payload, &parts); err != nil {
						return err
					}
				}
				return SetParts(w, entity, id, parts)
			},
			remove: func(w *World, entity EntityID, id ComponentID) {
				RemovePartsAll[T](w, entity, id)
			},
			newMultiPart: func() any {
				return NewMultiPartStore[T]()
			},
			isMultiPart: true,
		}
	}
	return applier{
		add: func(w *World, entity EntityID, id ComponentID, payload []byte) error {
			var v T
			if len(payload) > 0 {
				if err := gobDecode(payload, &v); err != nil {
					return err
				}
			}
			return AddComponent(w, entity, id, v)
		},
		remove: func(w *World, entity EntityID, id ComponentID) {
			RemoveComponent(w, entity, id)
		},
		newTable: func() any {
			return chunk.NewTable[T]()
		},
	}
}

// Register assigns a component id to T (with the storage class's
// default data policy) and installs the decode/apply closures the
// command buffer and playback need, without the caller ever touching
// the registry or applier table directly.
func Register[T any](w *World, class StorageClass) (ComponentID, error) {
	id, err := RegisterComponentDefault[T](w.registry, class)
	if err != nil {
		return 0, err
	}
	w.appliers[id] = applierFor[T](class)
	return id, nil
}

// Registry returns the repository's component type registry.
func (w *World) Registry() *Registry { return w.registry }

// Entities returns the repository's entity index.
func (w *World) Entities() *EntityIndex { return w.entities }

// Stores returns the repository's component storage manager.
func (w *World) Stores() *Stores { return w.stores }

// Events returns the repository's event bus.
func (w *World) Events() *EventBus { return w.events }

// Clock returns the repository's current global clock value.
func (w *World) Clock() uint64 { return w.clock.Load() }

// Tick advances the repository's global clock and returns the new
// value. Must be called exactly once at the start of every frame,
// before any mutating access whose changes should land in that frame's
// delta recording — see the recording-order contract.
func (w *World) Tick() uint64 {
	return w.clock.Add(1)
}

// CreateEntity allocates a new entity handle.
func (w *World) CreateEntity() (EntityID, error) {
	return w.entities.Create(w.Clock())
}

// DestroyEntity destroys entity, a no-op if it is not currently alive.
func (w *World) DestroyEntity(entity EntityID) {
	w.entities.Destroy(entity, w.Clock())
}

// IsAlive reports whether entity is currently live.
func (w *World) IsAlive(entity EntityID) bool {
	return w.entities.IsAlive(entity)
}

// Reset replaces the entity index and every component store with new,
// empty ones; the old chunks are not released. Playback calls it from
// Player.Rewind and at the start of Player.SeekToFrame.
func (w *World) Reset() {
	w.entities = NewEntityIndex()
	w.stores = NewStores()
}

// Release unmaps every chunk's backing memory across the entity index
// and all component stores.
func (w *World) Release() error {
	if err := w.entities.Release(); err != nil {
		return err
	}
	return w.stores.Release()
}
