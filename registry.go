package kinetic

import (
	"reflect"
	"sync"
)

// TypeDescriptor is the registry's record for one component type: its
// assigned id, storage class, element size (0 for tags and boxed
// objects, whose payload is not a fixed-size inline blob), and data
// policy bits.
type TypeDescriptor struct {
	ID       ComponentID
	Name     string
	Storage  StorageClass
	ElemSize int
	Policy   DataPolicy
}

// Registry assigns dense component type ids in registration order and
// remembers each type's descriptor. Lookup by Go type or by name is O(1).
type Registry struct {
	mu          sync.RWMutex
	byType      map[reflect.Type]ComponentID
	byName      map[string]ComponentID
	descriptors []TypeDescriptor
}

// NewRegistry constructs an empty component registry.
func NewRegistry() *Registry {
	return &Registry{
		byType: make(map[reflect.Type]ComponentID),
		byName: make(map[string]ComponentID),
	}
}

// RegisterComponent assigns a component id to T, the first time it is
// called for that type. A second registration with the same storage
// class and policy is idempotent and returns the existing id; one with
// a conflicting descriptor fails with AlreadyRegistered.
func RegisterComponent[T any](r *Registry, class StorageClass, policy DataPolicy) (ComponentID, error) {
	key := reflect.TypeOf((*T)(nil)).Elem()

	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.byType[key]; ok {
		existing := r.descriptors[id]
		if existing.Storage != class || existing.Policy != policy {
			return 0, NewAlreadyRegisteredError(key.String())
		}
		return id, nil
	}

	if len(r.descriptors) >= MaxComponentTypes {
		return 0, NewTypeIDExhaustedError()
	}

	elemSize := 0
	if class == StorageInlineValue {
		elemSize = int(key.Size())
	}

	id := ComponentID(len(r.descriptors))
	r.descriptors = append(r.descriptors, TypeDescriptor{
		ID:       id,
		Name:     key.String(),
		Storage:  class,
		ElemSize: elemSize,
		Policy:   policy,
	})
	r.byType[key] = id
	r.byName[key.String()] = id
	return id, nil
}

// RegisterComponentDefault registers T with the storage class's default
// data policy.
func RegisterComponentDefault[T any](r *Registry, class StorageClass) (ComponentID, error) {
	return RegisterComponent[T](r, class, DefaultPolicy(class))
}

// Lookup returns T's assigned id, if registered.
func Lookup[T any](r *Registry) (ComponentID, bool) {
	key := reflect.TypeOf((*T)(nil)).Elem()
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byType[key]
	return id, ok
}

// Descriptor returns the registered descriptor for id.
func (r *Registry) Descriptor(id ComponentID) (TypeDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if int(id) >= len(r.descriptors) {
		return TypeDescriptor{}, false
	}
	return r.descriptors[id], true
}

// DescriptorByName returns the registered descriptor for a type name, as
// used by the recorder/playback when a recording names a type that may
// no longer match a live reflect.Type in this process.
func (r *Registry) DescriptorByName(name string) (TypeDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byName[name]
	if !ok {
		return TypeDescriptor{}, false
	}
	return r.descriptors[id], true
}

// Count returns the number of registered component types.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.descriptors)
}

// All returns every registered descriptor, in id order.
func (r *Registry) All() []TypeDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]TypeDescriptor, len(r.descriptors))
	copy(out, r.descriptors)
	return out
}
