package recorder

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/zstd"

	"kinetic"
)

// ReadEnvelope reads one on-disk frame envelope (compressed flag, byte
// length, payload) and decodes it, decompressing first if the recorder
// wrote it with WithCompression.
func ReadEnvelope(r io.Reader) (*kinetic.Frame, error) {
	payload, err := readEnvelopePayload(r)
	if err != nil {
		return nil, err
	}
	return DecodeFrame(bytes.NewReader(payload))
}

// SkipEnvelope discards one frame envelope's payload in O(1) without
// decoding or decompressing it at all — the coarsest-grained skip,
// correct whenever the caller doesn't need this frame's state (it only
// needs to reach a later frame).
func SkipEnvelope(r io.Reader) error {
	var flagByte [1]byte
	if _, err := io.ReadFull(r, flagByte[:]); err != nil {
		return err
	}
	n, err := readU32(r)
	if err != nil {
		return err
	}
	_, err = io.CopyN(io.Discard, r, int64(n))
	return err
}

func readEnvelopePayload(r io.Reader) ([]byte, error) {
	var flagByte [1]byte
	if _, err := io.ReadFull(r, flagByte[:]); err != nil {
		return nil, err
	}
	n, err := readU32(r)
	if err != nil {
		return nil, err
	}
	raw := make([]byte, n)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, err
	}
	if flagByte[0] == 0 {
		return raw, nil
	}
	dec, err := zstd.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	return io.ReadAll(dec)
}
