package kinetic

// FrameKind distinguishes a full keyframe (every populated chunk) from a
// delta (only chunks whose change_version exceeds a baseline tick).
type FrameKind byte

const (
	FrameDelta    FrameKind = 0
	FrameKeyframe FrameKind = 1
)

// ChunkRecord is one component type's one chunk, as it appears in a
// recorded frame: enough to restore the chunk's bytes and change-version
// verbatim. ComponentID is unused (zero) on header-chunk records, since a
// repository has exactly one header table.
type ChunkRecord struct {
	ComponentID   ComponentID
	ChunkIndex    uint32
	ChangeVersion uint64
	ElemSize      uint32
	Payload       []byte
}

// MultiPartRecord is one entity's whole element run on one multi-part
// component, recorded as the spec's single blob of (count, elements):
// count is implied by len(Payload)/ElemSize, replayed identically by
// overwriting the entity's run wholesale rather than diffing elements.
type MultiPartRecord struct {
	ComponentID   ComponentID
	EntityIndex   uint32
	ChangeVersion uint64
	ElemSize      uint32
	Payload       []byte
}

// ValueEventRecord is one value-event stream's current buffer.
type ValueEventRecord struct {
	Name     string
	ElemSize uint32
	Payload  []byte
}

// ObjectEventRecord is one object-event stream's current list, each
// element already serialized by the type's registered encoder.
type ObjectEventRecord struct {
	Name     string
	Payloads [][]byte
}

// Frame is the in-memory form of one recorded tick: everything the
// recorder needs to write to a sink, and everything playback needs to
// apply back to a repository. The entity header table is recorded
// separately from ordinary component chunks (HeaderChunks) rather than
// under a reserved component id, since reserving an id out of the
// 0..255 component space would collide with a legitimately registered
// type — an extension of the literal wire format the spec leaves to the
// implementer to resolve.
type Frame struct {
	Tick         uint64
	Kind         FrameKind
	Destructions []EntityID
	HeaderChunks []ChunkRecord
	Chunks       []ChunkRecord
	MultiParts   []MultiPartRecord
	ValueEvents  []ValueEventRecord
	ObjectEvents []ObjectEventRecord
}

// CaptureKeyframe snapshots every populated header chunk and every
// existing component chunk, plus the current swapped-in event streams.
func (w *World) CaptureKeyframe() *Frame {
	return &Frame{
		Tick:         w.Clock(),
		Kind:         FrameKeyframe,
		HeaderChunks: w.captureHeaderChunks(0, true),
		Chunks:       w.captureComponentChunks(0, true),
		MultiParts:   w.captureMultiParts(0, true),
		ValueEvents:  w.captureValueEvents(),
		ObjectEvents: w.captureObjectEvents(),
	}
}

// CaptureDelta snapshots only chunks whose change-version exceeds
// previousTick, plus destructions the caller observed since then (the
// kernel does not keep its own rolling destruction journal; a system
// that calls DestroyEntity is expected to also record the handle for
// its next capture_frame call, per the documented recording-order
// contract).
func (w *World) CaptureDelta(previousTick uint64, destructions []EntityID) *Frame {
	return &Frame{
		Tick:         w.Clock(),
		Kind:         FrameDelta,
		Destructions: destructions,
		HeaderChunks: w.captureHeaderChunks(previousTick, false),
		Chunks:       w.captureComponentChunks(previousTick, false),
		MultiParts:   w.captureMultiParts(previousTick, false),
		ValueEvents:  w.captureValueEvents(),
		ObjectEvents: w.captureObjectEvents(),
	}
}

func (w *World) captureHeaderChunks(previousTick uint64, all bool) []ChunkRecord {
	table := w.entities.HeaderTable()
	elemSize := table.ElemSize()
	var out []ChunkRecord
	for _, idx := range table.SortedIndices() {
		version, _ := table.ChangeVersionAt(idx)
		if !all && version <= previousTick {
			continue
		}
		raw, _ := table.RawBytesAt(idx)
		out = append(out, ChunkRecord{
			ChunkIndex:    idx,
			ChangeVersion: version,
			ElemSize:      uint32(elemSize),
			Payload:       append([]byte(nil), raw...),
		})
	}
	return out
}

func (w *World) captureComponentChunks(previousTick uint64, all bool) []ChunkRecord {
	var out []ChunkRecord
	for _, desc := range w.registry.All() {
		if desc.Storage == StorageTag || desc.Storage == StorageMultiPart {
			continue // tags have no backing storage; multi-part is captured separately
		}
		elemSize := w.stores.ElemSize(desc.ID)
		for _, idx := range w.stores.ChunkIndices(desc.ID) {
			version, _ := w.stores.ChangeVersionAt(desc.ID, idx)
			if !all && version <= previousTick {
				continue
			}
			raw, ok := w.stores.RawChunkBytes(desc.ID, idx)
			if !ok {
				continue
			}
			out = append(out, ChunkRecord{
				ComponentID:   desc.ID,
				ChunkIndex:    idx,
				ChangeVersion: version,
				ElemSize:      uint32(elemSize),
				Payload:       raw,
			})
		}
	}
	return out
}

// captureMultiParts snapshots every entity's element run on every
// registered multi-part component whose run changed after previousTick
// (or every run, if all), as a single (count, elements) blob per entity
// per the multi-part recording contract.
func (w *World) captureMultiParts(previousTick uint64, all bool) []MultiPartRecord {
	var out []MultiPartRecord
	for _, desc := range w.registry.All() {
		if desc.Storage != StorageMultiPart {
			continue
		}
		elemSize := w.stores.MultiPartElemSize(desc.ID)
		for _, idx := range w.stores.MultiPartIndices(desc.ID) {
			version, _ := w.stores.MultiPartVersionAt(desc.ID, idx)
			if !all && version <= previousTick {
				continue
			}
			raw, _ := w.stores.RawMultiPartBytes(desc.ID, idx)
			out = append(out, MultiPartRecord{
				ComponentID:   desc.ID,
				EntityIndex:   idx,
				ChangeVersion: version,
				ElemSize:      uint32(elemSize),
				Payload:       raw,
			})
		}
	}
	return out
}

func (w *World) captureValueEvents() []ValueEventRecord {
	snap := w.events.snapshotValueStreams()
	out := make([]ValueEventRecord, 0, len(snap))
	for name, s := range snap {
		out = append(out, ValueEventRecord{Name: name, ElemSize: uint32(s.elemSize), Payload: s.data})
	}
	return out
}

func (w *World) captureObjectEvents() []ObjectEventRecord {
	w.events.mu.Lock()
	streams := make([]*objectStream, 0, len(w.events.objectStreams))
	names := make([]string, 0, len(w.events.objectStreams))
	for name, s := range w.events.objectStreams {
		names = append(names, name)
		streams = append(streams, s)
	}
	w.events.mu.Unlock()

	var out []ObjectEventRecord
	for i, s := range streams {
		s.mu.Lock()
		if len(s.current) == 0 {
			s.mu.Unlock()
			continue
		}
		payloads := make([][]byte, 0, len(s.current))
		for _, v := range s.current {
			p, err := gobEncode(v)
			if err != nil {
				continue
			}
			payloads = append(payloads, p)
		}
		s.mu.Unlock()
		out = append(out, ObjectEventRecord{Name: names[i], Payloads: payloads})
	}
	return out
}

// ApplyFrame is playback's inverse of capture: it destroys the recorded
// entities, overwrites header and component chunk bytes unconditionally
// (regardless of authority_mask, per the design notes' resolution of
// that open question), and injects the recorded event streams.
func (w *World) ApplyFrame(f *Frame) error {
	for _, e := range f.Destructions {
		w.entities.Destroy(e, f.Tick)
	}

	headerTable := w.entities.HeaderTable()
	for _, rec := range f.HeaderChunks {
		if err := headerTable.WriteRawBytesAt(rec.ChunkIndex, rec.Payload, rec.ChangeVersion); err != nil {
			return err
		}
		// WriteRawBytesAt only restores bytes; population/signature are
		// derived metadata and must be recomputed from the restored
		// headers themselves.
		c, _ := headerTable.Get(rec.ChunkIndex)
		population := 0
		var signature Mask256
		for _, h := range c.Data {
			if h.active() {
				population++
				signature = signature.Union(h.ComponentMask)
			}
		}
		c.Population = population
		c.Signature = signature
	}
	if len(f.HeaderChunks) > 0 {
		w.entities.RebuildFreeList()
	}

	for _, rec := range f.Chunks {
		ap, ok := w.appliers[rec.ComponentID]
		if !ok {
			return NewTypeIDNotRegisteredError(rec.ComponentID)
		}
		if err := w.stores.WriteRawChunkBytes(rec.ComponentID, rec.ChunkIndex, rec.Payload, rec.ChangeVersion, ap.newTable); err != nil {
			return err
		}
	}

	for _, rec := range f.MultiParts {
		ap, ok := w.appliers[rec.ComponentID]
		if !ok {
			return NewTypeIDNotRegisteredError(rec.ComponentID)
		}
		if err := w.stores.WriteRawMultiPartBytes(rec.ComponentID, rec.EntityIndex, rec.Payload, rec.ChangeVersion, ap.newMultiPart); err != nil {
			return err
		}
	}

	w.events.ClearCurrent()
	for _, rec := range f.ValueEvents {
		w.events.InjectValues(rec.Name, int(rec.ElemSize), rec.Payload)
	}
	for _, rec := range f.ObjectEvents {
		if err := w.events.InjectObjects(rec.Name, rec.Payloads); err != nil {
			return err
		}
	}
	return nil
}
