package recorder

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/gofrs/flock"
	natomic "github.com/natefinch/atomic"

	"kinetic"
)

// Sink is the recorder's output abstraction: an io.Writer plus a way to
// learn the current write offset (needed to build the keyframe index)
// and a Close that finalizes the file. The kernel touches the
// filesystem only through an injected Sink — never directly.
type Sink interface {
	io.Writer
	Offset() (int64, error)
	Close() error
}

// keyframeEntry records one keyframe's file offset and tick, so seek can
// jump to the nearest keyframe at or before a target frame instead of
// replaying from the start.
type keyframeEntry struct {
	Tick   uint64
	Offset int64
}

// MemorySink is an in-process Sink backed by a byte buffer — used by
// tests and by any caller that wants a recording without touching disk.
type MemorySink struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

// NewMemorySink constructs an empty in-memory sink.
func NewMemorySink() *MemorySink { return &MemorySink{} }

func (s *MemorySink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *MemorySink) Offset() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(s.buf.Len()), nil
}

func (s *MemorySink) Close() error { return nil }

// Bytes returns the sink's accumulated content, for opening with a
// bytes.Reader on the playback side.
func (s *MemorySink) Bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.buf.Bytes()...)
}

// FileSink is a recording file on disk. It holds an exclusive
// github.com/gofrs/flock lock for the process lifetime of the
// recorder — the spec's "recorder owns a sink" contract implies a
// single writer — and, on Close, atomically publishes a keyframe-index
// trailer via github.com/natefinch/atomic so a concurrent reader never
// observes a half-written index.
type FileSink struct {
	mu        sync.Mutex
	path      string
	file      *os.File
	lock      *flock.Flock
	offset    int64
	keyframes []keyframeEntry
}

// OpenFileSink creates (or truncates) path, writes the magic and format
// version, and takes an exclusive file lock for the recorder's
// lifetime.
func OpenFileSink(path string) (*FileSink, error) {
	lock := flock.New(path + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, kinetic.NewSinkError(fmt.Errorf("locking recording file: %w", err))
	}
	if !locked {
		return nil, kinetic.NewSinkError(fmt.Errorf("recording file %s is already being written", path))
	}

	file, err := os.Create(path) //nolint:gosec
	if err != nil {
		_ = lock.Unlock()
		return nil, kinetic.NewSinkError(fmt.Errorf("creating recording file: %w", err))
	}

	s := &FileSink{path: path, file: file, lock: lock}
	if _, err := s.file.WriteString(Magic); err != nil {
		return nil, kinetic.NewSinkError(err)
	}
	var verBuf [4]byte
	binary.BigEndian.PutUint32(verBuf[:], FormatVersion)
	if _, err := s.file.Write(verBuf[:]); err != nil {
		return nil, kinetic.NewSinkError(err)
	}
	s.offset = int64(len(Magic) + 4)
	return s, nil
}

func (s *FileSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, err := s.file.Write(p)
	s.offset += int64(n)
	if err != nil {
		return n, kinetic.NewSinkError(err)
	}
	return n, nil
}

func (s *FileSink) Offset() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.offset, nil
}

// RecordKeyframe notes a keyframe's offset for the trailer index. The
// recorder calls this immediately after writing a keyframe.
func (s *FileSink) RecordKeyframe(tick uint64, offset int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keyframes = append(s.keyframes, keyframeEntry{Tick: tick, Offset: offset})
}

// indexPath is where the keyframe index for a recording at path lives:
// a sidecar file rather than an in-stream trailer, so it can be replaced
// atomically without rewriting the (potentially huge) frame stream.
func indexPath(recordingPath string) string { return recordingPath + ".index" }

// Close fsyncs the frame stream, atomically publishes the keyframe-index
// sidecar via github.com/natefinch/atomic (a reader never observes a
// half-written index, since the rename is atomic), then releases the
// file lock.
func (s *FileSink) Close() error {
	s.mu.Lock()
	var buf bytes.Buffer
	var countBuf [4]byte
	binary.BigEndian.PutUint32(countBuf[:], uint32(len(s.keyframes)))
	buf.Write(countBuf[:])
	for _, k := range s.keyframes {
		var tmp [16]byte
		binary.BigEndian.PutUint64(tmp[0:8], k.Tick)
		binary.BigEndian.PutUint64(tmp[8:16], uint64(k.Offset))
		buf.Write(tmp[:])
	}

	if err := s.file.Sync(); err != nil {
		s.mu.Unlock()
		return kinetic.NewSinkError(err)
	}
	s.mu.Unlock()

	if err := natomic.WriteFile(indexPath(s.path), bytes.NewReader(buf.Bytes())); err != nil {
		return kinetic.NewSinkError(fmt.Errorf("publishing keyframe index: %w", err))
	}

	if err := s.file.Close(); err != nil {
		_ = s.lock.Unlock()
		return kinetic.NewSinkError(err)
	}
	return s.lock.Unlock()
}

// LoadKeyframeIndex reads path's sidecar keyframe index, if present.
// Playback falls back to a linear scan when it is absent (e.g. a
// recording that was never cleanly closed).
func LoadKeyframeIndex(path string) ([]keyframeEntry, error) {
	data, err := os.ReadFile(indexPath(path)) //nolint:gosec
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	if len(data) < 4 {
		return nil, nil
	}
	count := binary.BigEndian.Uint32(data[0:4])
	entries := make([]keyframeEntry, 0, count)
	offset := 4
	for i := uint32(0); i < count && offset+16 <= len(data); i++ {
		tick := binary.BigEndian.Uint64(data[offset : offset+8])
		off := binary.BigEndian.Uint64(data[offset+8 : offset+16])
		entries = append(entries, keyframeEntry{Tick: tick, Offset: int64(off)})
		offset += 16
	}
	return entries, nil
}
