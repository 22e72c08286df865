package components

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"

	"kinetic"
	"kinetic/recorder"
)

func Test_Components_AllFourStorageClassesRegister(t *testing.T) {
	// Arrange
	w := kinetic.NewWorld()

	// Act
	posID, err1 := kinetic.Register[Position](w, kinetic.StorageInlineValue)
	healthID, err2 := kinetic.Register[Health](w, kinetic.StorageInlineValue)
	labelID, err3 := kinetic.Register[Label](w, kinetic.StorageBoxedObject)
	deadID, err4 := kinetic.Register[Dead](w, kinetic.StorageTag)

	// Assert
	assert.NoError(t, err1)
	assert.NoError(t, err2)
	assert.NoError(t, err3)
	assert.NoError(t, err4)
	assert.NotEqual(t, posID, healthID)
	assert.NotEqual(t, healthID, labelID)
	assert.NotEqual(t, labelID, deadID)
}

func Test_Components_LabelRoundTripsThroughComponentStore(t *testing.T) {
	// Arrange
	w := kinetic.NewWorld()
	labelID, err := kinetic.Register[Label](w, kinetic.StorageBoxedObject)
	assert.NoError(t, err)
	e, err := w.CreateEntity()
	assert.NoError(t, err)

	// Act
	assert.NoError(t, kinetic.AddComponent(w, e, labelID, NewLabel("goblin")))
	got, err := kinetic.GetComponent[Label](w, e, labelID)

	// Assert
	assert.NoError(t, err)
	assert.Equal(t, "goblin", got.String())
}

func Test_Components_DeadTagMarksEntityForDestruction(t *testing.T) {
	// Arrange
	w := kinetic.NewWorld()
	deadID, err := kinetic.Register[Dead](w, kinetic.StorageTag)
	assert.NoError(t, err)
	e, err := w.CreateEntity()
	assert.NoError(t, err)

	// Act
	assert.NoError(t, kinetic.AddComponent(w, e, deadID, Dead{}))

	// Assert
	assert.True(t, kinetic.HasTag(w, e, deadID))
}

func Test_Components_StatusEffectsStackAsMultiPartRun(t *testing.T) {
	// Arrange
	w := kinetic.NewWorld()
	effectsID, err := kinetic.Register[StatusEffect](w, kinetic.StorageMultiPart)
	assert.NoError(t, err)
	e, err := w.CreateEntity()
	assert.NoError(t, err)

	// Act
	assert.NoError(t, kinetic.AddPart(w, e, effectsID, StatusEffect{Type: StatusBurn, Magnitude: 2, RemainingTicks: 5}))
	assert.NoError(t, kinetic.AddPart(w, e, effectsID, StatusEffect{Type: StatusShield, Magnitude: 10, RemainingTicks: 20}))

	// Assert
	effects, err := kinetic.GetParts[StatusEffect](w, e, effectsID)
	assert.NoError(t, err)
	assert.Equal(t, []StatusEffect{
		{Type: StatusBurn, Magnitude: 2, RemainingTicks: 5},
		{Type: StatusShield, Magnitude: 10, RemainingTicks: 20},
	}, effects)

	// Act: the burn effect expires and is dropped
	assert.NoError(t, kinetic.RemovePart[StatusEffect](w, e, effectsID, 0))

	// Assert
	effects, err = kinetic.GetParts[StatusEffect](w, e, effectsID)
	assert.NoError(t, err)
	assert.Equal(t, []StatusEffect{{Type: StatusShield, Magnitude: 10, RemainingTicks: 20}}, effects)
}

func Test_Components_StatusEffectsSurviveKeyframeRecordAndReplay(t *testing.T) {
	// Arrange
	w := kinetic.NewWorld()
	effectsID, err := kinetic.Register[StatusEffect](w, kinetic.StorageMultiPart)
	assert.NoError(t, err)
	e, err := w.CreateEntity()
	assert.NoError(t, err)
	assert.NoError(t, kinetic.AddPart(w, e, effectsID, StatusEffect{Type: StatusPoison, Magnitude: 1, RemainingTicks: 3}))
	w.Tick()

	sink := recorder.NewMemorySink()
	_, werr := sink.Write([]byte(recorder.Magic))
	assert.NoError(t, werr)
	assert.NoError(t, writeVersion(sink))
	rec := recorder.NewRecorder(sink)
	assert.NoError(t, rec.CaptureKeyframe(w))
	assert.NoError(t, rec.Close())

	// Act
	dst := kinetic.NewWorld()
	dstEffectsID, err := kinetic.Register[StatusEffect](dst, kinetic.StorageMultiPart)
	assert.NoError(t, err)
	player, err := recorder.Open(bytes.NewReader(sink.Bytes()), dst)
	assert.NoError(t, err)
	assert.NoError(t, player.StepForward())

	// Assert
	got, err := kinetic.GetParts[StatusEffect](dst, e, dstEffectsID)
	assert.NoError(t, err)
	assert.Equal(t, []StatusEffect{{Type: StatusPoison, Magnitude: 1, RemainingTicks: 3}}, got)
}

func Test_Components_RecordAndSeekPastManyDeltas(t *testing.T) {
	// Arrange: Scenario D — a keyframe, many small deltas, then a seek
	// to the last tick. The in-memory recording has no keyframe index,
	// so the seek replays from the first frame; the test checks the
	// position reached, not the cost of the seek.
	w := kinetic.NewWorld()
	posID, err := kinetic.Register[Position](w, kinetic.StorageInlineValue)
	assert.NoError(t, err)
	velID, err := kinetic.Register[Velocity](w, kinetic.StorageInlineValue)
	assert.NoError(t, err)
	e, err := w.CreateEntity()
	assert.NoError(t, err)
	assert.NoError(t, kinetic.AddComponent(w, e, posID, Position{X: 0, Y: 0}))
	assert.NoError(t, kinetic.AddComponent(w, e, velID, Velocity{DX: 1, DY: 0}))

	sink := recorder.NewMemorySink()
	_, werr := sink.Write([]byte(recorder.Magic))
	assert.NoError(t, werr)
	assert.NoError(t, writeVersion(sink))
	rec := recorder.NewRecorder(sink)

	w.Tick()
	assert.NoError(t, rec.CaptureKeyframe(w))
	prev := w.Clock()

	const deltas = 50
	for i := 0; i < deltas; i++ {
		w.Tick()
		p, err := kinetic.GetComponentMut[Position](w, e, posID)
		assert.NoError(t, err)
		p.X++
		w.Events().Swap()
		assert.NoError(t, rec.CaptureFrame(w, prev, nil))
		prev = w.Clock()
	}
	assert.NoError(t, rec.Close())

	// Act
	dst := kinetic.NewWorld()
	dstPosID, _ := kinetic.Register[Position](dst, kinetic.StorageInlineValue)
	_, _ = kinetic.Register[Velocity](dst, kinetic.StorageInlineValue)
	player, err := recorder.Open(bytes.NewReader(sink.Bytes()), dst)
	assert.NoError(t, err)
	assert.NoError(t, player.SeekToFrame(prev))

	// Assert
	got, err := kinetic.GetComponent[Position](dst, e, dstPosID)
	assert.NoError(t, err)
	assert.Equal(t, float64(deltas), got.X)
}

func Test_Components_SeekToFrameSkipsIntermediateObjectEventsButKeepsTargetFramesEvents(t *testing.T) {
	// Arrange: a keyframe, then several deltas each publishing an
	// Announcement, then a seek to a tick in the middle of the run.
	// process_events = false for everything strictly before the target:
	// only the target frame's own announcement should end up visible.
	w := kinetic.NewWorld()
	_, err := kinetic.Register[Position](w, kinetic.StorageInlineValue)
	assert.NoError(t, err)

	sink := recorder.NewMemorySink()
	_, werr := sink.Write([]byte(recorder.Magic))
	assert.NoError(t, werr)
	assert.NoError(t, writeVersion(sink))
	rec := recorder.NewRecorder(sink)

	w.Tick()
	assert.NoError(t, rec.CaptureKeyframe(w))
	prev := w.Clock()

	const deltas = 10
	var targetTick uint64
	for i := 0; i < deltas; i++ {
		w.Tick()
		kinetic.PublishObject(w.Events(), Announcement{Text: "tick"})
		w.Events().Swap()
		assert.NoError(t, rec.CaptureFrame(w, prev, nil))
		prev = w.Clock()
		if i == deltas/2 {
			targetTick = w.Clock()
		}
	}
	assert.NoError(t, rec.Close())

	// Act
	dst := kinetic.NewWorld()
	_, _ = kinetic.Register[Position](dst, kinetic.StorageInlineValue)
	kinetic.RegisterObjectEventType[Announcement](dst.Events())
	player, err := recorder.Open(bytes.NewReader(sink.Bytes()), dst)
	assert.NoError(t, err)
	assert.NoError(t, player.SeekToFrame(targetTick))

	// Assert
	assert.Equal(t, targetTick, player.LastTick())
	assert.Equal(t, []Announcement{{Text: "tick"}}, kinetic.ConsumeObjects[Announcement](dst.Events()))
}

func writeVersion(sink *recorder.MemorySink) error {
	var buf [4]byte
	buf[0], buf[1], buf[2] = byte(recorder.FormatVersion>>24), byte(recorder.FormatVersion>>16), byte(recorder.FormatVersion>>8)
	buf[3] = byte(recorder.FormatVersion)
	_, err := sink.Write(buf[:])
	return err
}
