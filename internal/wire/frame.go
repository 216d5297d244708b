// Package wire implements the length-prefixed binary framing used on every
// multichat connection, plus the fixed-width version handshake that precedes it.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Version identifies a wire-compatible protocol generation. Two peers are
// compatible iff their versions are byte-equal.
type Version uint16

// CurrentVersion is the version this implementation speaks.
const CurrentVersion Version = 1

// DefaultMaxSize is the frame size ceiling used when a Codec is built without
// an explicit override.
const DefaultMaxSize uint32 = 65535

// ErrSizeLimit is returned by Codec.ReadFrame and Codec.WriteFrame when a frame would
// exceed the configured maximum size.
var ErrSizeLimit = errors.New("wire: frame exceeds configured size limit")

// WriteVersion writes v as a big-endian uint16, bypassing the Codec.
func WriteVersion(w io.Writer, v Version) error {
	var buf [2]byte
	binary.BigEndian.PutUint16(buf[:], uint16(v))
	_, err := w.Write(buf[:])
	if err != nil {
		return fmt.Errorf("wire: write version: %w", err)
	}
	return nil
}

// ReadVersion reads a big-endian uint16, bypassing the Codec.
func ReadVersion(r io.Reader) (Version, error) {
	var buf [2]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, fmt.Errorf("wire: read version: %w", err)
	}
	return Version(binary.BigEndian.Uint16(buf[:])), nil
}

// Codec frames payloads as a big-endian uint32 length followed by that many
// bytes. MaxSize bounds both directions; zero means DefaultMaxSize.
type Codec struct {
	MaxSize uint32
}

func (c Codec) maxSize() uint32 {
	if c.MaxSize == 0 {
		return DefaultMaxSize
	}
	return c.MaxSize
}

// WriteFrame writes one length-prefixed frame. payload must not exceed the
// configured max size.
func (c Codec) WriteFrame(w io.Writer, payload []byte) error {
	if uint32(len(payload)) > c.maxSize() {
		return ErrSizeLimit
	}

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("wire: write frame length: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("wire: write frame payload: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed frame, rejecting declared lengths over
// the configured max size before allocating a buffer for them.
func (c Codec) ReadFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, fmt.Errorf("wire: read frame length: %w", err)
	}

	size := binary.BigEndian.Uint32(lenBuf[:])
	if size > c.maxSize() {
		return nil, ErrSizeLimit
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("wire: read frame payload: %w", err)
	}
	return payload, nil
}
