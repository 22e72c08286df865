package kinetic

import (
	"reflect"
	"sync"
	"unsafe"
)

// valueStream is a double-buffered stream of fixed-size value events.
// pending is multi-writer append-only; current is read-only between
// swaps and only ever replaced wholesale, by Swap or Inject.
type valueStream struct {
	mu       sync.Mutex
	elemSize int
	pending  []byte
	current  []byte
}

// objectStream is the boxed-object analogue: two ordered lists instead
// of two byte buffers.
type objectStream struct {
	mu       sync.Mutex
	typeName string
	pending  []any
	current  []any
}

// EventBus owns every value-event and object-event stream in a
// repository, identified by the event type's stable name. Publishers
// write pending; consumers read current; Swap happens exactly once per
// frame, at a known phase boundary, making an event published in frame N
// visible starting frame N+1 and never in the frame it was published.
type EventBus struct {
	mu            sync.Mutex
	valueStreams  map[string]*valueStream
	objectStreams map[string]*objectStream
	decoders      map[string]func([]byte) (any, error)
}

// NewEventBus constructs an empty event bus.
func NewEventBus() *EventBus {
	return &EventBus{
		valueStreams:  make(map[string]*valueStream),
		objectStreams: make(map[string]*objectStream),
		decoders:      make(map[string]func([]byte) (any, error)),
	}
}

func valueEventName[T any]() string {
	return reflect.TypeOf((*T)(nil)).Elem().String()
}

func (b *EventBus) ensureValueStream(name string, elemSize int) *valueStream {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.valueStreams[name]
	if !ok {
		s = &valueStream{elemSize: elemSize}
		b.valueStreams[name] = s
	}
	return s
}

func (b *EventBus) ensureObjectStream(name string) *objectStream {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.objectStreams[name]
	if !ok {
		s = &objectStream{typeName: name}
		b.objectStreams[name] = s
	}
	return s
}

// RegisterObjectEventType installs a gob-based decoder for T, so
// playback (which only ever sees a type name and bytes) can reconstruct
// T when injecting recorded object events.
func RegisterObjectEventType[T any](b *EventBus) {
	name := valueEventName[T]()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.decoders[name] = func(payload []byte) (any, error) {
		var v T
		if err := gobDecode(payload, &v); err != nil {
			return nil, err
		}
		return v, nil
	}
}

// PublishValue appends value to T's pending buffer. Safe to call from
// many goroutines concurrently; the stream's own lock serializes the
// append.
func PublishValue[T any](b *EventBus, value T) {
	name := valueEventName[T]()
	elemSize := int(unsafe.Sizeof(value))
	s := b.ensureValueStream(name, elemSize)
	bytesView := (*[1 << 20]byte)(unsafe.Pointer(&value))[:elemSize:elemSize]

	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, bytesView...)
}

// ConsumeValues returns a copy of T's current buffer, decoded as a slice
// of T. Consumers only ever see the most recent completed swap.
func ConsumeValues[T any](b *EventBus) []T {
	name := valueEventName[T]()
	b.mu.Lock()
	s, ok := b.valueStreams[name]
	b.mu.Unlock()
	if !ok {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.current) == 0 || s.elemSize == 0 {
		return nil
	}
	count := len(s.current) / s.elemSize
	out := make([]T, count)
	copy(out, unsafe.Slice((*T)(unsafe.Pointer(&s.current[0])), count))
	return out
}

// PublishObject appends value to T's pending list.
func PublishObject[T any](b *EventBus, value T) {
	name := valueEventName[T]()
	s := b.ensureObjectStream(name)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, value)
}

// ConsumeObjects returns a copy of T's current list.
func ConsumeObjects[T any](b *EventBus) []T {
	name := valueEventName[T]()
	b.mu.Lock()
	s, ok := b.objectStreams[name]
	b.mu.Unlock()
	if !ok {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]T, len(s.current))
	for i, v := range s.current {
		out[i] = v.(T)
	}
	return out
}

// Swap atomically swaps pending and current for every stream; the new
// pending is empty. Must be called exactly once per frame, at a fixed
// phase boundary.
func (b *EventBus) Swap() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.valueStreams {
		s.mu.Lock()
		s.current, s.pending = s.pending, s.current[:0]
		s.mu.Unlock()
	}
	for _, s := range b.objectStreams {
		s.mu.Lock()
		s.current, s.pending = s.pending, s.current[:0]
		s.mu.Unlock()
	}
}

// InjectValues is used only by playback: it replaces the current buffer
// of the stream name with the recorded bytes, bypassing pending and
// creating the stream if it does not exist. Other streams are left as
// they are; clearing them is ClearCurrent's job.
func (b *EventBus) InjectValues(name string, elemSize int, raw []byte) {
	s := b.ensureValueStream(name, elemSize)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = append([]byte(nil), raw...)
}

// InjectObjects deserializes each payload in raw by looking up name's
// registered decoder and writes the results directly into current.
// Returns UnknownTypeName if no decoder is registered.
func (b *EventBus) InjectObjects(name string, payloads [][]byte) error {
	b.mu.Lock()
	decode, ok := b.decoders[name]
	b.mu.Unlock()
	if !ok {
		return NewUnknownTypeNameError(name, 0)
	}
	values := make([]any, len(payloads))
	for i, p := range payloads {
		v, err := decode(p)
		if err != nil {
			return err
		}
		values[i] = v
	}
	s := b.ensureObjectStream(name)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = values
	return nil
}

// ClearCurrent empties current across every stream, the first step of
// frame-apply's event injection (step 3/4 of the playback contract).
func (b *EventBus) ClearCurrent() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.valueStreams {
		s.mu.Lock()
		s.current = nil
		s.mu.Unlock()
	}
	for _, s := range b.objectStreams {
		s.mu.Lock()
		s.current = nil
		s.mu.Unlock()
	}
}

// snapshotValueStreams returns, for every stream with a non-empty
// current buffer, its name/element-size/raw bytes — used by the
// recorder to serialize the value-event block of a frame.
func (b *EventBus) snapshotValueStreams() map[string]struct {
	elemSize int
	data     []byte
} {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]struct {
		elemSize int
		data     []byte
	})
	for name, s := range b.valueStreams {
		s.mu.Lock()
		if len(s.current) > 0 {
			out[name] = struct {
				elemSize int
				data     []byte
			}{elemSize: s.elemSize, data: append([]byte(nil), s.current...)}
		}
		s.mu.Unlock()
	}
	return out
}
