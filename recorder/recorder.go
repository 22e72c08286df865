package recorder

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/klauspost/compress/zstd"

	"kinetic"
)

// BackpressurePolicy decides what the recorder does when its writer
// queue is full.
type BackpressurePolicy int

const (
	// PolicyBlock makes CaptureFrame/CaptureKeyframe block the calling
	// system until the background writer drains a slot.
	PolicyBlock BackpressurePolicy = iota
	// PolicyDrop discards the new frame immediately instead of blocking
	// the simulation; the recording gains a gap.
	PolicyDrop
)

// queueDepth bounds how many captured-but-unwritten frames the recorder
// will buffer before backpressure kicks in.
const queueDepth = 64

// Recorder drives a Sink from a background goroutine: capture_keyframe
// and capture_frame hand a *kinetic.Frame to a queue; the background
// writer encodes and writes it, retrying transient sink errors with
// github.com/cenkalti/backoff/v4 before giving up and poisoning the
// recorder (surfacing a SinkError to the next capture call, per the I/O
// error-handling policy).
type Recorder struct {
	sink     Sink
	fileSink *FileSink // non-nil only when sink is a *FileSink, for keyframe-index bookkeeping
	policy   BackpressurePolicy
	compress bool

	queue  chan queuedFrame
	done   chan struct{}
	wg     sync.WaitGroup
	poison atomic.Value // error
}

type queuedFrame struct {
	frame *kinetic.Frame
}

// Option configures a Recorder at construction.
type Option func(*Recorder)

// WithBackpressure overrides the default block-on-full-queue policy.
func WithBackpressure(p BackpressurePolicy) Option {
	return func(r *Recorder) { r.policy = p }
}

// WithCompression enables per-frame zstd compression of the encoded
// frame body.
func WithCompression() Option {
	return func(r *Recorder) { r.compress = true }
}

// NewRecorder constructs a recorder writing to sink and starts its
// background writer goroutine.
func NewRecorder(sink Sink, opts ...Option) *Recorder {
	r := &Recorder{
		sink:  sink,
		queue: make(chan queuedFrame, queueDepth),
		done:  make(chan struct{}),
	}
	if fs, ok := sink.(*FileSink); ok {
		r.fileSink = fs
	}
	for _, opt := range opts {
		opt(r)
	}
	r.wg.Add(1)
	go r.run()
	return r
}

func (r *Recorder) run() {
	defer r.wg.Done()
	for qf := range r.queue {
		// The write offset is only meaningful read right before this
		// frame's own write: the queue can hold many unwritten frames,
		// and the sink's offset only advances as each is actually
		// written here, not in the order frames were enqueued from the
		// producer side.
		offset, _ := r.sink.Offset()
		if err := r.writeWithRetry(qf.frame); err != nil {
			r.poison.Store(err)
			continue // drain the rest of the queue so CaptureFrame callers don't deadlock on a full channel
		}
		if qf.frame.Kind == kinetic.FrameKeyframe && r.fileSink != nil {
			r.fileSink.RecordKeyframe(qf.frame.Tick, offset)
		}
	}
	close(r.done)
}

func (r *Recorder) writeWithRetry(f *kinetic.Frame) error {
	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5)
	return backoff.Retry(func() error {
		var body bytes.Buffer
		if err := EncodeFrame(&body, f); err != nil {
			return backoff.Permanent(err)
		}

		payload := body.Bytes()
		compressed := byte(0)
		if r.compress {
			var zbuf bytes.Buffer
			enc, err := zstd.NewWriter(&zbuf)
			if err != nil {
				return backoff.Permanent(err)
			}
			if _, err := enc.Write(payload); err != nil {
				return backoff.Permanent(err)
			}
			if err := enc.Close(); err != nil {
				return backoff.Permanent(err)
			}
			payload = zbuf.Bytes()
			compressed = 1
		}

		if _, err := r.sink.Write([]byte{compressed}); err != nil {
			return err
		}
		if err := writeU32(r.sink, uint32(len(payload))); err != nil {
			return err
		}
		_, err := r.sink.Write(payload)
		return err
	}, policy)
}

// poisonErr reports the recorder's stored error, if any.
func (r *Recorder) poisonErr() error {
	v := r.poison.Load()
	if v == nil {
		return nil
	}
	return v.(error)
}

// CaptureKeyframe snapshots w's current state and enqueues it for
// writing. Fails immediately if the recorder is poisoned by an earlier
// I/O failure.
func (r *Recorder) CaptureKeyframe(w *kinetic.World) error {
	return r.enqueue(w.CaptureKeyframe())
}

// CaptureFrame snapshots w's changes since previousTick, plus
// destructions the caller observed, and enqueues the resulting delta.
func (r *Recorder) CaptureFrame(w *kinetic.World, previousTick uint64, destructions []kinetic.EntityID) error {
	return r.enqueue(w.CaptureDelta(previousTick, destructions))
}

func (r *Recorder) enqueue(f *kinetic.Frame) error {
	if err := r.poisonErr(); err != nil {
		return err
	}
	qf := queuedFrame{frame: f}

	switch r.policy {
	case PolicyDrop:
		select {
		case r.queue <- qf:
			return nil
		default:
			return kinetic.NewSinkError(errors.New("recorder queue full, frame dropped"))
		}
	default: // PolicyBlock
		r.queue <- qf
		return r.poisonErr()
	}
}

// Close stops accepting new frames, waits for the writer goroutine to
// drain the queue, then closes the underlying sink.
func (r *Recorder) Close() error {
	close(r.queue)
	r.wg.Wait()
	closeErr := r.sink.Close()
	if err := r.poisonErr(); err != nil {
		return err
	}
	return closeErr
}

// WaitIdle blocks until the writer queue is empty or ctx is done. An
// empty queue does not mean the sink is flushed: the writer may still be
// writing the last frame it took from the queue. Close waits for every
// write to finish.
func (r *Recorder) WaitIdle(ctx context.Context) error {
	for {
		if len(r.queue) == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
}
