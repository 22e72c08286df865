package recorder

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"

	"kinetic"
)

type recPosition struct{ X, Y float64 }

type recExplosion struct{ X, Y, R float64 }

func writeHeader(t *testing.T, sink *MemorySink) {
	t.Helper()
	_, err := sink.Write([]byte(Magic))
	assert.NoError(t, err)
	assert.NoError(t, writeU32(sink, FormatVersion))
}

func Test_Recorder_ScenarioC_RecordAndReplayWithEvents(t *testing.T) {
	// Arrange
	w := kinetic.NewWorld()
	posID, err := kinetic.Register[recPosition](w, kinetic.StorageInlineValue)
	assert.NoError(t, err)
	e, _ := w.CreateEntity()
	assert.NoError(t, kinetic.AddComponent(w, e, posID, recPosition{X: 0, Y: 0}))

	sink := NewMemorySink()
	writeHeader(t, sink)
	rec := NewRecorder(sink)

	// tick 1: keyframe
	w.Tick()
	assert.NoError(t, rec.CaptureKeyframe(w))
	t1 := w.Clock()

	// tick 2: mutate position, publish explosion, swap, delta
	w.Tick()
	p, err := kinetic.GetComponentMut[recPosition](w, e, posID)
	assert.NoError(t, err)
	p.X = 2
	kinetic.PublishValue(w.Events(), recExplosion{X: 1, Y: 1, R: 3})
	w.Events().Swap()
	assert.NoError(t, rec.CaptureFrame(w, t1, nil))
	t2 := w.Clock()

	// tick 3: mutate again, swap (no new events), delta
	w.Tick()
	p, err = kinetic.GetComponentMut[recPosition](w, e, posID)
	assert.NoError(t, err)
	p.X = 4
	w.Events().Swap()
	assert.NoError(t, rec.CaptureFrame(w, t2, nil))

	assert.NoError(t, rec.Close())

	// Act: replay into a fresh repository + bus
	dst := kinetic.NewWorld()
	dstPosID, err := kinetic.Register[recPosition](dst, kinetic.StorageInlineValue)
	assert.NoError(t, err)
	assert.Equal(t, posID, dstPosID)

	player, err := Open(bytes.NewReader(sink.Bytes()), dst)
	assert.NoError(t, err)

	assert.NoError(t, player.StepForward())
	got, err := kinetic.GetComponent[recPosition](dst, e, dstPosID)
	assert.NoError(t, err)
	assert.Equal(t, recPosition{X: 0, Y: 0}, got)
	assert.Empty(t, kinetic.ConsumeValues[recExplosion](dst.Events()))

	assert.NoError(t, player.StepForward())
	got, err = kinetic.GetComponent[recPosition](dst, e, dstPosID)
	assert.NoError(t, err)
	assert.Equal(t, recPosition{X: 2, Y: 0}, got)
	assert.Equal(t, []recExplosion{{X: 1, Y: 1, R: 3}}, kinetic.ConsumeValues[recExplosion](dst.Events()))

	assert.NoError(t, player.StepForward())
	got, err = kinetic.GetComponent[recPosition](dst, e, dstPosID)
	assert.NoError(t, err)
	assert.Equal(t, recPosition{X: 4, Y: 0}, got)
	assert.Empty(t, kinetic.ConsumeValues[recExplosion](dst.Events()))
}

func Test_Recorder_OpenRejectsBadMagic(t *testing.T) {
	// Arrange
	var buf bytes.Buffer
	buf.WriteString("NOPE")
	assert.NoError(t, writeU32(&buf, FormatVersion))

	// Act
	_, err := Open(bytes.NewReader(buf.Bytes()), kinetic.NewWorld())

	// Assert
	assert.Error(t, err)
}

func Test_Recorder_OpenRejectsUnsupportedVersion(t *testing.T) {
	// Arrange
	var buf bytes.Buffer
	buf.WriteString(Magic)
	assert.NoError(t, writeU32(&buf, 1)) // version 1, explicitly unsupported

	// Act
	_, err := Open(bytes.NewReader(buf.Bytes()), kinetic.NewWorld())

	// Assert
	assert.Error(t, err)
}

func Test_Recorder_CompressionRoundTrips(t *testing.T) {
	// Arrange
	w := kinetic.NewWorld()
	posID, _ := kinetic.Register[recPosition](w, kinetic.StorageInlineValue)
	e, _ := w.CreateEntity()
	assert.NoError(t, kinetic.AddComponent(w, e, posID, recPosition{X: 9, Y: 9}))
	w.Tick()

	sink := NewMemorySink()
	writeHeader(t, sink)
	rec := NewRecorder(sink, WithCompression())
	assert.NoError(t, rec.CaptureKeyframe(w))
	assert.NoError(t, rec.Close())

	// Act
	dst := kinetic.NewWorld()
	dstPosID, _ := kinetic.Register[recPosition](dst, kinetic.StorageInlineValue)
	player, err := Open(bytes.NewReader(sink.Bytes()), dst)
	assert.NoError(t, err)
	assert.NoError(t, player.StepForward())

	// Assert
	got, err := kinetic.GetComponent[recPosition](dst, e, dstPosID)
	assert.NoError(t, err)
	assert.Equal(t, recPosition{X: 9, Y: 9}, got)
}

// scanFrameOffsets linearly walks a recording file and returns, for
// each frame in order, the byte offset its envelope starts at and the
// tick it decodes to — an independent cross-check for whatever offsets
// the recorder's background writer recorded into the keyframe index.
func scanFrameOffsets(t *testing.T, path string) map[uint64]int64 {
	t.Helper()
	f, err := os.Open(path)
	assert.NoError(t, err)
	defer f.Close()

	var magicVer [8]byte
	_, err = f.Read(magicVer[:])
	assert.NoError(t, err)

	offsets := make(map[uint64]int64)
	for {
		offset, err := f.Seek(0, io.SeekCurrent)
		assert.NoError(t, err)
		frame, err := ReadEnvelope(f)
		if err != nil {
			break
		}
		offsets[frame.Tick] = offset
	}
	return offsets
}

func Test_Recorder_KeyframeIndexOffsetsMatchActualWritePositions(t *testing.T) {
	// Arrange: enqueue many frames back-to-back, faster than the single
	// background writer goroutine can drain them, so a keyframe's offset
	// must be read at write time rather than at enqueue time (the bug
	// this test guards against).
	dir := t.TempDir()
	path := filepath.Join(dir, "recording.bin")
	sink, err := OpenFileSink(path)
	assert.NoError(t, err)
	rec := NewRecorder(sink)

	w := kinetic.NewWorld()
	posID, _ := kinetic.Register[recPosition](w, kinetic.StorageInlineValue)
	e, _ := w.CreateEntity()
	assert.NoError(t, kinetic.AddComponent(w, e, posID, recPosition{X: 0, Y: 0}))

	w.Tick()
	assert.NoError(t, rec.CaptureKeyframe(w))
	prev := w.Clock()

	const deltas = 40
	var lastKeyframeTick uint64
	for i := 0; i < deltas; i++ {
		w.Tick()
		p, err := kinetic.GetComponentMut[recPosition](w, e, posID)
		assert.NoError(t, err)
		p.X++
		w.Events().Swap()
		if i == deltas/2 {
			assert.NoError(t, rec.CaptureKeyframe(w))
			lastKeyframeTick = w.Clock()
		} else {
			assert.NoError(t, rec.CaptureFrame(w, prev, nil))
		}
		prev = w.Clock()
	}
	assert.NoError(t, rec.Close())

	// Act
	actualOffsets := scanFrameOffsets(t, path)
	index, err := LoadKeyframeIndex(path)
	assert.NoError(t, err)

	// Assert: every recorded keyframe offset must match where that
	// tick's envelope actually starts in the file.
	assert.NotEmpty(t, index)
	for _, k := range index {
		want, ok := actualOffsets[k.Tick]
		assert.True(t, ok, "no frame found for recorded keyframe tick %d", k.Tick)
		assert.Equal(t, want, k.Offset, "keyframe at tick %d has wrong recorded offset", k.Tick)
	}
	assert.Contains(t, index, keyframeEntry{Tick: lastKeyframeTick, Offset: actualOffsets[lastKeyframeTick]})
}

func Test_Recorder_RewindReturnsToInitialState(t *testing.T) {
	// Arrange
	w := kinetic.NewWorld()
	posID, _ := kinetic.Register[recPosition](w, kinetic.StorageInlineValue)
	e, _ := w.CreateEntity()
	assert.NoError(t, kinetic.AddComponent(w, e, posID, recPosition{X: 5, Y: 5}))
	w.Tick()

	sink := NewMemorySink()
	writeHeader(t, sink)
	rec := NewRecorder(sink)
	assert.NoError(t, rec.CaptureKeyframe(w))
	assert.NoError(t, rec.Close())

	dst := kinetic.NewWorld()
	dstPosID, _ := kinetic.Register[recPosition](dst, kinetic.StorageInlineValue)
	player, err := Open(bytes.NewReader(sink.Bytes()), dst)
	assert.NoError(t, err)
	assert.NoError(t, player.StepForward())

	// Act
	assert.NoError(t, player.Rewind())
	assert.NoError(t, player.StepForward())

	// Assert
	got, err := kinetic.GetComponent[recPosition](dst, e, dstPosID)
	assert.NoError(t, err)
	assert.Equal(t, recPosition{X: 5, Y: 5}, got)
}
