package secure

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MaxFrameSize bounds a single frame body. Avatars travel base64-encoded
// inside JSON, so the limit is generous.
const MaxFrameSize = 8 << 20

// ErrFrameTooLarge is returned when a peer announces a frame beyond MaxFrameSize.
var ErrFrameTooLarge = fmt.Errorf("frame exceeds %d bytes", MaxFrameSize)

// WriteFrame writes one length-prefixed frame: uint32 big-endian length
// followed by the body. The caller is responsible for serializing
// concurrent writers.
func WriteFrame(w io.Writer, body []byte) error {
	if len(body) > MaxFrameSize {
		return ErrFrameTooLarge
	}
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(body)))
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("write frame header: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("write frame body: %w", err)
	}
	return nil
}

// ReadFrame reads exactly one frame. A short read anywhere is an error;
// the connection is unusable afterwards.
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(header[:])
	if n > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("read frame body: %w", err)
	}
	return body, nil
}
