package recorder

import (
	"bytes"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"

	"kinetic"
)

func Test_Format_EncodeDecodeRoundTripsFrameExactly(t *testing.T) {
	// Arrange
	f := &kinetic.Frame{
		Tick:         3,
		Kind:         kinetic.FrameDelta,
		Destructions: []kinetic.EntityID{7, 9},
		HeaderChunks: []kinetic.ChunkRecord{
			{ComponentID: 0, ChunkIndex: 0, ChangeVersion: 2, ElemSize: 96, Payload: []byte{1, 2, 3}},
		},
		ValueEvents: []kinetic.ValueEventRecord{
			{Name: "recorder.recExplosion", ElemSize: 24, Payload: []byte{1, 2, 3, 4, 5, 6, 7, 8}},
		},
		ObjectEvents: []kinetic.ObjectEventRecord{
			{Name: "recorder.recAnnouncement", Payloads: [][]byte{{9, 9}, {8, 8, 8}}},
		},
		Chunks: []kinetic.ChunkRecord{
			{ComponentID: 1, ChunkIndex: 4, ChangeVersion: 3, ElemSize: 16, Payload: []byte{5, 6, 7, 8}},
		},
		MultiParts: []kinetic.MultiPartRecord{
			{ComponentID: 2, EntityIndex: 5, ChangeVersion: 3, ElemSize: 8, Payload: []byte{1, 2, 3, 4, 5, 6, 7, 8}},
		},
	}

	// Act
	var buf bytes.Buffer
	assert.NoError(t, EncodeFrame(&buf, f))
	got, err := DecodeFrame(bytes.NewReader(buf.Bytes()))
	assert.NoError(t, err)

	// Assert
	if diff := cmp.Diff(f, got); diff != "" {
		t.Fatalf("decoded frame differs from the original (-want +got):\n%s", diff)
	}
}

func Test_Format_DecodeFrameSkippingObjectsOmitsObjectPayloadsOnly(t *testing.T) {
	// Arrange
	f := &kinetic.Frame{
		Tick: 1,
		Kind: kinetic.FrameKeyframe,
		ObjectEvents: []kinetic.ObjectEventRecord{
			{Name: "recorder.recAnnouncement", Payloads: [][]byte{{1, 2, 3}}},
		},
		Chunks: []kinetic.ChunkRecord{
			{ComponentID: 2, ChunkIndex: 0, ChangeVersion: 1, ElemSize: 8, Payload: []byte{1, 2, 3, 4, 5, 6, 7, 8}},
		},
		MultiParts: []kinetic.MultiPartRecord{
			{ComponentID: 3, EntityIndex: 1, ChangeVersion: 1, ElemSize: 4, Payload: []byte{1, 2, 3, 4}},
		},
	}
	var buf bytes.Buffer
	assert.NoError(t, EncodeFrame(&buf, f))

	// Act
	got, err := DecodeFrameSkippingObjects(bytes.NewReader(buf.Bytes()))
	assert.NoError(t, err)

	// Assert
	assert.Empty(t, got.ObjectEvents)
	if diff := cmp.Diff(f.Chunks, got.Chunks); diff != "" {
		t.Fatalf("component chunks should survive the skip path unchanged (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(f.MultiParts, got.MultiParts); diff != "" {
		t.Fatalf("multi-part records should survive the skip path unchanged (-want +got):\n%s", diff)
	}
}
