package kinetic

import (
	"bytes"
	"encoding/binary"
	"io"
)

type cmdTag byte

const (
	cmdCreate cmdTag = iota
	cmdDestroy
	cmdAdd
	cmdSet
	cmdRemove
)

// Ref names a command buffer's operand: either a live entity handle, or
// a placeholder returned by a Create() recorded earlier in the same
// buffer. Placeholders are remapped to the entity actually created only
// at playback time.
type Ref struct {
	placeholder   bool
	placeholderID int32
	entity        EntityID
}

// RefTo wraps an existing entity handle as a command operand.
func RefTo(entity EntityID) Ref {
	return Ref{entity: entity}
}

// CommandBuffer is an append-only typed byte stream of deferred
// structural mutations. Recording is lock-free from a single owner's
// perspective; distinct buffers owned by distinct threads may record
// concurrently. Playback is single-threaded, in record order, against
// one repository.
type CommandBuffer struct {
	buf             bytes.Buffer
	nextPlaceholder int32
}

// NewCommandBuffer constructs an empty command buffer.
func NewCommandBuffer() *CommandBuffer {
	return &CommandBuffer{}
}

// Create records an entity creation and returns a placeholder operand
// other commands in this buffer can target before the entity actually
// exists.
func (cb *CommandBuffer) Create() Ref {
	cb.nextPlaceholder--
	id := cb.nextPlaceholder
	cb.buf.WriteByte(byte(cmdCreate))
	writeInt32(&cb.buf, id)
	return Ref{placeholder: true, placeholderID: id}
}

// Destroy records a destruction of ref.
func (cb *CommandBuffer) Destroy(ref Ref) {
	cb.buf.WriteByte(byte(cmdDestroy))
	writeRef(&cb.buf, ref)
}

// CommandAddComponent records adding component id with value to ref.
func CommandAddComponent[T any](cb *CommandBuffer, ref Ref, id ComponentID, value T) error {
	return cb.writeComponentCmd(cmdAdd, ref, id, value)
}

// CommandSetComponent records overwriting component id on ref with
// value. Identical wire shape to an add; the distinction exists so a
// reader of a recorded stream can tell intent apart, since this kernel's
// stores treat add and set as the same operation (a set on an absent
// component creates it).
func CommandSetComponent[T any](cb *CommandBuffer, ref Ref, id ComponentID, value T) error {
	return cb.writeComponentCmd(cmdSet, ref, id, value)
}

// CommandRemoveComponent records clearing component id on ref.
func CommandRemoveComponent(cb *CommandBuffer, ref Ref, id ComponentID) {
	cb.buf.WriteByte(byte(cmdRemove))
	writeRef(&cb.buf, ref)
	writeComponentID(&cb.buf, id)
}

func (cb *CommandBuffer) writeComponentCmd(tag cmdTag, ref Ref, id ComponentID, value any) error {
	payload, err := gobEncode(value)
	if err != nil {
		return err
	}
	cb.buf.WriteByte(byte(tag))
	writeRef(&cb.buf, ref)
	writeComponentID(&cb.buf, id)
	writeBytes(&cb.buf, payload)
	return nil
}

// Playback applies every recorded command to w, in record order, on the
// calling goroutine (the caller is responsible for exclusive repository
// access). Aborting mid-playback (a non-nil error) leaves the repository
// partially updated; the caller must treat that as fatal. On completion
// the buffer is cleared.
func (w *World) Playback(cb *CommandBuffer) error {
	r := bytes.NewReader(cb.buf.Bytes())
	placeholders := make(map[int32]EntityID)

	for {
		tagByte, err := r.ReadByte()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		tag := cmdTag(tagByte)

		switch tag {
		case cmdCreate:
			placeholderID, err := readInt32(r)
			if err != nil {
				return err
			}
			entity, err := w.CreateEntity()
			if err != nil {
				return err
			}
			placeholders[placeholderID] = entity

		case cmdDestroy:
			entity, resolved := resolveRef(r, placeholders)
			if resolved && w.IsAlive(entity) {
				w.DestroyEntity(entity)
			}

		case cmdAdd, cmdSet:
			entity, resolved := resolveRef(r, placeholders)
			id, err := readComponentID(r)
			if err != nil {
				return err
			}
			payload, err := readBytes(r)
			if err != nil {
				return err
			}
			if !resolved || !w.IsAlive(entity) {
				continue
			}
			ap, ok := w.appliers[id]
			if !ok {
				return NewTypeIDNotRegisteredError(id)
			}
			if err := ap.add(w, entity, id, payload); err != nil {
				return err
			}

		case cmdRemove:
			entity, resolved := resolveRef(r, placeholders)
			id, err := readComponentID(r)
			if err != nil {
				return err
			}
			if !resolved || !w.IsAlive(entity) {
				continue
			}
			ap, ok := w.appliers[id]
			if !ok {
				return NewTypeIDNotRegisteredError(id)
			}
			ap.remove(w, entity, id)

		default:
			return NewMalformedFrameError("unknown command tag", int64(len(cb.buf.Bytes())-r.Len()-1))
		}
	}

	cb.buf.Reset()
	cb.nextPlaceholder = 0
	return nil
}

func resolveRef(r *bytes.Reader, placeholders map[int32]EntityID) (EntityID, bool) {
	isPlaceholder, _ := r.ReadByte()
	if isPlaceholder == 1 {
		id, err := readInt32(r)
		if err != nil {
			return InvalidEntityID, false
		}
		entity, ok := placeholders[id]
		return entity, ok
	}
	entity, err := readUint64(r)
	if err != nil {
		return InvalidEntityID, false
	}
	return EntityID(entity), true
}

func writeRef(buf *bytes.Buffer, ref Ref) {
	if ref.placeholder {
		buf.WriteByte(1)
		writeInt32(buf, ref.placeholderID)
		return
	}
	buf.WriteByte(0)
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], uint64(ref.entity))
	buf.Write(tmp[:])
}

func writeInt32(buf *bytes.Buffer, v int32) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], uint32(v))
	buf.Write(tmp[:])
}

func readInt32(r *bytes.Reader) (int32, error) {
	var tmp [4]byte
	if _, err := io.ReadFull(r, tmp[:]); err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(tmp[:])), nil
}

func readUint64(r *bytes.Reader) (uint64, error) {
	var tmp [8]byte
	if _, err := io.ReadFull(r, tmp[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(tmp[:]), nil
}

func writeComponentID(buf *bytes.Buffer, id ComponentID) {
	buf.WriteByte(byte(id))
}

func readComponentID(r *bytes.Reader) (ComponentID, error) {
	b, err := r.ReadByte()
	if err != nil {
		return 0, err
	}
	return ComponentID(b), nil
}

func writeBytes(buf *bytes.Buffer, payload []byte) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], uint32(len(payload)))
	buf.Write(tmp[:])
	buf.Write(payload)
}

func readBytes(r *bytes.Reader) ([]byte, error) {
	var tmp [4]byte
	if _, err := io.ReadFull(r, tmp[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(tmp[:])
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}
