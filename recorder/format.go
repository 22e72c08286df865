// Package recorder implements the flight recorder (C10) and its
// playback counterpart (C11): a versioned binary frame format, an
// injected-sink writer with backpressure, and frame-indexed seeking
// driven by the nearest keyframe.
package recorder

import (
	"encoding/binary"
	"io"

	"kinetic"
)

// Magic opens every recording file; FormatVersion is the only version
// this kernel reads or writes. Earlier recordings (version 1: no
// object-event block-length prefix; version 2: no multi-part block) are
// not supported — opening one fails as a BadMagic-class format error,
// per the design notes' resolution of that open question.
const (
	Magic         = "KNTC"
	FormatVersion = uint32(3)
)

func writeU32(w io.Writer, v uint32) error {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	_, err := w.Write(tmp[:])
	return err
}

func writeU64(w io.Writer, v uint64) error {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	_, err := w.Write(tmp[:])
	return err
}

func readU32(r io.Reader) (uint32, error) {
	var tmp [4]byte
	if _, err := io.ReadFull(r, tmp[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(tmp[:]), nil
}

func readU64(r io.Reader) (uint64, error) {
	var tmp [8]byte
	if _, err := io.ReadFull(r, tmp[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(tmp[:]), nil
}

func writeString(w io.Writer, s string) error {
	if err := writeU32(w, uint32(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func readString(r io.Reader) (string, error) {
	n, err := readU32(r)
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func writeBytes(w io.Writer, b []byte) error {
	if err := writeU32(w, uint32(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

func readBytes(r io.Reader) ([]byte, error) {
	n, err := readU32(r)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func writeChunkRecord(w io.Writer, rec kinetic.ChunkRecord) error {
	if _, err := w.Write([]byte{byte(rec.ComponentID)}); err != nil {
		return err
	}
	if err := writeU32(w, rec.ChunkIndex); err != nil {
		return err
	}
	if err := writeU64(w, rec.ChangeVersion); err != nil {
		return err
	}
	if err := writeU32(w, rec.ElemSize); err != nil {
		return err
	}
	return writeBytes(w, rec.Payload)
}

func readChunkRecord(r io.Reader) (kinetic.ChunkRecord, error) {
	var rec kinetic.ChunkRecord
	var idByte [1]byte
	if _, err := io.ReadFull(r, idByte[:]); err != nil {
		return rec, err
	}
	rec.ComponentID = kinetic.ComponentID(idByte[0])
	chunkIdx, err := readU32(r)
	if err != nil {
		return rec, err
	}
	rec.ChunkIndex = chunkIdx
	version, err := readU64(r)
	if err != nil {
		return rec, err
	}
	rec.ChangeVersion = version
	elemSize, err := readU32(r)
	if err != nil {
		return rec, err
	}
	rec.ElemSize = elemSize
	payload, err := readBytes(r)
	if err != nil {
		return rec, err
	}
	rec.Payload = payload
	return rec, nil
}

func writeMultiPartRecord(w io.Writer, rec kinetic.MultiPartRecord) error {
	if _, err := w.Write([]byte{byte(rec.ComponentID)}); err != nil {
		return err
	}
	if err := writeU32(w, rec.EntityIndex); err != nil {
		return err
	}
	if err := writeU64(w, rec.ChangeVersion); err != nil {
		return err
	}
	if err := writeU32(w, rec.ElemSize); err != nil {
		return err
	}
	return writeBytes(w, rec.Payload)
}

func readMultiPartRecord(r io.Reader) (kinetic.MultiPartRecord, error) {
	var rec kinetic.MultiPartRecord
	var idByte [1]byte
	if _, err := io.ReadFull(r, idByte[:]); err != nil {
		return rec, err
	}
	rec.ComponentID = kinetic.ComponentID(idByte[0])
	entityIdx, err := readU32(r)
	if err != nil {
		return rec, err
	}
	rec.EntityIndex = entityIdx
	version, err := readU64(r)
	if err != nil {
		return rec, err
	}
	rec.ChangeVersion = version
	elemSize, err := readU32(r)
	if err != nil {
		return rec, err
	}
	rec.ElemSize = elemSize
	payload, err := readBytes(r)
	if err != nil {
		return rec, err
	}
	rec.Payload = payload
	return rec, nil
}

// EncodeFrame writes f in the recording wire format: tick, kind,
// destruction list, header-chunk block (an extension: the entity header
// table is recorded as its own block rather than a reserved component
// id, to avoid colliding with a real registered type), value-event
// block, object-event block, component-chunk block, multi-part block.
func EncodeFrame(w io.Writer, f *kinetic.Frame) error {
	if err := writeU64(w, f.Tick); err != nil {
		return err
	}
	if _, err := w.Write([]byte{byte(f.Kind)}); err != nil {
		return err
	}

	if err := writeU32(w, uint32(len(f.Destructions))); err != nil {
		return err
	}
	for _, e := range f.Destructions {
		if err := writeU64(w, uint64(e)); err != nil {
			return err
		}
	}

	if err := writeU32(w, uint32(len(f.HeaderChunks))); err != nil {
		return err
	}
	for _, rec := range f.HeaderChunks {
		if err := writeChunkRecord(w, rec); err != nil {
			return err
		}
	}

	if err := writeU32(w, uint32(len(f.ValueEvents))); err != nil {
		return err
	}
	for _, ev := range f.ValueEvents {
		if err := writeString(w, ev.Name); err != nil {
			return err
		}
		if err := writeU32(w, ev.ElemSize); err != nil {
			return err
		}
		if err := writeBytes(w, ev.Payload); err != nil {
			return err
		}
	}

	if err := writeU32(w, uint32(len(f.ObjectEvents))); err != nil {
		return err
	}
	for _, ev := range f.ObjectEvents {
		if err := writeString(w, ev.Name); err != nil {
			return err
		}
		if err := writeU32(w, 0); err != nil { // marker element_size = 0
			return err
		}
		blockLen := objectStreamBlockLength(ev)
		if err := writeU32(w, blockLen); err != nil {
			return err
		}
		if err := writeU32(w, uint32(len(ev.Payloads))); err != nil {
			return err
		}
		for _, p := range ev.Payloads {
			if err := writeBytes(w, p); err != nil {
				return err
			}
		}
	}

	if err := writeU32(w, uint32(len(f.Chunks))); err != nil {
		return err
	}
	for _, rec := range f.Chunks {
		if err := writeChunkRecord(w, rec); err != nil {
			return err
		}
	}

	if err := writeU32(w, uint32(len(f.MultiParts))); err != nil {
		return err
	}
	for _, rec := range f.MultiParts {
		if err := writeMultiPartRecord(w, rec); err != nil {
			return err
		}
	}
	return nil
}

// objectStreamBlockLength computes the byte length of an object-event
// stream's count+payloads section, so a reader can skip the whole stream
// in O(1) without deserializing any payload — the optimization Scenario
// D depends on.
func objectStreamBlockLength(ev kinetic.ObjectEventRecord) uint32 {
	total := uint32(4) // count field
	for _, p := range ev.Payloads {
		total += 4 + uint32(len(p))
	}
	return total
}

// DecodeFrame reads one frame in the wire format written by EncodeFrame.
func DecodeFrame(r io.Reader) (*kinetic.Frame, error) {
	f := &kinetic.Frame{}

	tick, err := readU64(r)
	if err != nil {
		return nil, err
	}
	f.Tick = tick

	var kindByte [1]byte
	if _, err := io.ReadFull(r, kindByte[:]); err != nil {
		return nil, err
	}
	f.Kind = kinetic.FrameKind(kindByte[0])

	destCount, err := readU32(r)
	if err != nil {
		return nil, err
	}
	f.Destructions = make([]kinetic.EntityID, destCount)
	for i := range f.Destructions {
		v, err := readU64(r)
		if err != nil {
			return nil, err
		}
		f.Destructions[i] = kinetic.EntityID(v)
	}

	headerCount, err := readU32(r)
	if err != nil {
		return nil, err
	}
	f.HeaderChunks = make([]kinetic.ChunkRecord, headerCount)
	for i := range f.HeaderChunks {
		rec, err := readChunkRecord(r)
		if err != nil {
			return nil, err
		}
		f.HeaderChunks[i] = rec
	}

	valueCount, err := readU32(r)
	if err != nil {
		return nil, err
	}
	f.ValueEvents = make([]kinetic.ValueEventRecord, valueCount)
	for i := range f.ValueEvents {
		name, err := readString(r)
		if err != nil {
			return nil, err
		}
		elemSize, err := readU32(r)
		if err != nil {
			return nil, err
		}
		payload, err := readBytes(r)
		if err != nil {
			return nil, err
		}
		f.ValueEvents[i] = kinetic.ValueEventRecord{Name: name, ElemSize: elemSize, Payload: payload}
	}

	objectCount, err := readU32(r)
	if err != nil {
		return nil, err
	}
	f.ObjectEvents = make([]kinetic.ObjectEventRecord, objectCount)
	for i := range f.ObjectEvents {
		name, err := readString(r)
		if err != nil {
			return nil, err
		}
		if _, err := readU32(r); err != nil { // marker element_size, always 0
			return nil, err
		}
		if _, err := readU32(r); err != nil { // block_byte_length, unused on full decode
			return nil, err
		}
		count, err := readU32(r)
		if err != nil {
			return nil, err
		}
		payloads := make([][]byte, count)
		for j := range payloads {
			p, err := readBytes(r)
			if err != nil {
				return nil, err
			}
			payloads[j] = p
		}
		f.ObjectEvents[i] = kinetic.ObjectEventRecord{Name: name, Payloads: payloads}
	}

	chunkCount, err := readU32(r)
	if err != nil {
		return nil, err
	}
	f.Chunks = make([]kinetic.ChunkRecord, chunkCount)
	for i := range f.Chunks {
		rec, err := readChunkRecord(r)
		if err != nil {
			return nil, err
		}
		f.Chunks[i] = rec
	}

	multiPartCount, err := readU32(r)
	if err != nil {
		return nil, err
	}
	f.MultiParts = make([]kinetic.MultiPartRecord, multiPartCount)
	for i := range f.MultiParts {
		rec, err := readMultiPartRecord(r)
		if err != nil {
			return nil, err
		}
		f.MultiParts[i] = rec
	}

	return f, nil
}

// DecodeFrameSkippingObjects behaves like DecodeFrame but discards each
// object-event stream's payload bytes in bulk via its declared block
// length instead of deserializing them — the optimization Scenario D
// depends on for a consumer that only needs component/header state
// along the way to a seek target.
func DecodeFrameSkippingObjects(r io.Reader) (*kinetic.Frame, error) {
	f := &kinetic.Frame{}

	tick, err := readU64(r)
	if err != nil {
		return nil, err
	}
	f.Tick = tick

	var kindByte [1]byte
	if _, err := io.ReadFull(r, kindByte[:]); err != nil {
		return nil, err
	}
	f.Kind = kinetic.FrameKind(kindByte[0])

	destCount, err := readU32(r)
	if err != nil {
		return nil, err
	}
	f.Destructions = make([]kinetic.EntityID, destCount)
	for i := range f.Destructions {
		v, err := readU64(r)
		if err != nil {
			return nil, err
		}
		f.Destructions[i] = kinetic.EntityID(v)
	}

	headerCount, err := readU32(r)
	if err != nil {
		return nil, err
	}
	f.HeaderChunks = make([]kinetic.ChunkRecord, headerCount)
	for i := range f.HeaderChunks {
		rec, err := readChunkRecord(r)
		if err != nil {
			return nil, err
		}
		f.HeaderChunks[i] = rec
	}

	valueCount, err := readU32(r)
	if err != nil {
		return nil, err
	}
	f.ValueEvents = make([]kinetic.ValueEventRecord, valueCount)
	for i := range f.ValueEvents {
		name, err := readString(r)
		if err != nil {
			return nil, err
		}
		elemSize, err := readU32(r)
		if err != nil {
			return nil, err
		}
		payload, err := readBytes(r)
		if err != nil {
			return nil, err
		}
		f.ValueEvents[i] = kinetic.ValueEventRecord{Name: name, ElemSize: elemSize, Payload: payload}
	}

	objectCount, err := readU32(r)
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < objectCount; i++ {
		if _, err := readString(r); err != nil {
			return nil, err
		}
		if _, err := readU32(r); err != nil { // marker element_size
			return nil, err
		}
		blockLen, err := readU32(r)
		if err != nil {
			return nil, err
		}
		if _, err := io.CopyN(io.Discard, r, int64(blockLen)); err != nil {
			return nil, err
		}
	}

	chunkCount, err := readU32(r)
	if err != nil {
		return nil, err
	}
	f.Chunks = make([]kinetic.ChunkRecord, chunkCount)
	for i := range f.Chunks {
		rec, err := readChunkRecord(r)
		if err != nil {
			return nil, err
		}
		f.Chunks[i] = rec
	}

	multiPartCount, err := readU32(r)
	if err != nil {
		return nil, err
	}
	f.MultiParts = make([]kinetic.MultiPartRecord, multiPartCount)
	for i := range f.MultiParts {
		rec, err := readMultiPartRecord(r)
		if err != nil {
			return nil, err
		}
		f.MultiParts[i] = rec
	}

	return f, nil
}
