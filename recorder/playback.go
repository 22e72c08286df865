package recorder

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"kinetic"
)

// headerSize is the byte length of the magic + format-version prologue
// every recording opens with.
const headerSize = len(Magic) + 4

// Player replays a recording into a *kinetic.World: step_forward applies
// the next frame in sequence; seek_to_frame jumps to the nearest
// keyframe at or before the target and replays forward from there;
// rewind resets the target world and repositions the stream at the
// first frame.
type Player struct {
	r                io.ReadSeeker
	closer           io.Closer
	world            *kinetic.World
	keyframeIndex    []keyframeEntry
	framesStreamFrom int64 // stream offset right after the magic/version header
	lastTick         uint64
}

// Open validates the magic and format version at the head of r and
// wraps it for playback against world. Fails with a BadMagic-class
// error for an unrecognized magic or any version other than
// FormatVersion (version-1 recordings are explicitly unsupported).
func Open(r io.ReadSeeker, world *kinetic.World) (*Player, error) {
	magic := make([]byte, len(Magic))
	if _, err := io.ReadFull(r, magic); err != nil {
		return nil, kinetic.NewBadMagicError(0)
	}
	if string(magic) != Magic {
		return nil, kinetic.NewBadMagicError(0)
	}
	var verBuf [4]byte
	if _, err := io.ReadFull(r, verBuf[:]); err != nil {
		return nil, kinetic.NewBadMagicError(int64(len(Magic)))
	}
	version := binary.BigEndian.Uint32(verBuf[:])
	if version != FormatVersion {
		return nil, kinetic.NewBadMagicError(int64(len(Magic)))
	}
	return &Player{r: r, world: world, framesStreamFrom: int64(headerSize)}, nil
}

// OpenFile opens path for playback, loading its sidecar keyframe index
// if one was published.
func OpenFile(path string, world *kinetic.World) (*Player, error) {
	f, err := os.Open(path) //nolint:gosec
	if err != nil {
		return nil, err
	}
	p, err := Open(f, world)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	p.closer = f
	idx, err := LoadKeyframeIndex(path)
	if err != nil {
		return nil, err
	}
	p.keyframeIndex = idx
	return p, nil
}

// Close releases the underlying file, if Player owns one.
func (p *Player) Close() error {
	if p.closer != nil {
		return p.closer.Close()
	}
	return nil
}

// StepForward decodes and applies the next frame in the stream,
// returning io.EOF once the stream is exhausted.
func (p *Player) StepForward() error {
	frame, err := ReadEnvelope(p.r)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return io.EOF
		}
		return fmt.Errorf("kinetic/recorder: decoding frame after tick %d: %w", p.lastTick, err)
	}
	if err := p.world.ApplyFrame(frame); err != nil {
		return err
	}
	p.lastTick = frame.Tick
	return nil
}

// Rewind resets world to empty and repositions the stream at the first
// frame.
func (p *Player) Rewind() error {
	p.world.Reset()
	p.lastTick = 0
	_, err := p.r.Seek(p.framesStreamFrom, io.SeekStart)
	return err
}

// SeekToFrame replays world to the state it had immediately after the
// frame tagged targetTick, starting from the latest keyframe at or
// before targetTick instead of from frame zero — the optimization
// Scenario D measures. Every frame strictly before targetTick is decoded
// with process_events = false: DecodeFrameSkippingObjects discards each
// object-event stream in bulk via its declared block length, never
// deserializing a payload the caller is about to overwrite anyway. Only
// the frame that reaches or passes targetTick is decoded in full, so the
// seek result carries real object events at the target tick.
func (p *Player) SeekToFrame(targetTick uint64) error {
	startOffset := p.framesStreamFrom
	for _, k := range p.keyframeIndex {
		if k.Tick <= targetTick {
			startOffset = k.Offset
		} else {
			break
		}
	}

	p.world.Reset()
	p.lastTick = 0
	if _, err := p.r.Seek(startOffset, io.SeekStart); err != nil {
		return err
	}

	for {
		payload, err := readEnvelopePayload(p.r)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		frame, err := DecodeFrameSkippingObjects(bytes.NewReader(payload))
		if err != nil {
			return err
		}
		if frame.Tick >= targetTick {
			// The seek target itself: re-decode in full so its object
			// events are actually available to the caller.
			frame, err = DecodeFrame(bytes.NewReader(payload))
			if err != nil {
				return err
			}
		}
		if err := p.world.ApplyFrame(frame); err != nil {
			return err
		}
		p.lastTick = frame.Tick
		if frame.Tick >= targetTick {
			return nil
		}
	}
}

// LastTick returns the tick of the most recently applied frame.
func (p *Player) LastTick() uint64 { return p.lastTick }
