package protocol

import (
	"bytes"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// DecodeError wraps any failure to parse a message payload, letting callers
// distinguish malformed traffic from I/O failures.
type DecodeError struct {
	err error
}

func (e *DecodeError) Error() string { return fmt.Sprintf("protocol: decode: %v", e.err) }
func (e *DecodeError) Unwrap() error { return e.err }

func wrapDecodeErr(err error) error {
	if err == nil {
		return nil
	}
	return &DecodeError{err: err}
}

type trackingEncoder struct {
	*msgpack.Encoder
	err error
}

func newEncoder() (*trackingEncoder, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	return &trackingEncoder{Encoder: msgpack.NewEncoder(buf)}, buf
}

// encodeArray writes [tag, fields...] as a msgpack array, recording the
// first error encountered so call sites can chain without checking each step.
func encodeArray(enc *trackingEncoder, tag uint8, fields ...any) {
	if enc.err != nil {
		return
	}
	if err := enc.EncodeArrayLen(len(fields) + 1); err != nil {
		enc.err = err
		return
	}
	if err := enc.EncodeUint8(tag); err != nil {
		enc.err = err
		return
	}
	for _, f := range fields {
		if err := enc.Encode(f); err != nil {
			enc.err = err
			return
		}
	}
}

func newReader(data []byte) *bytes.Reader {
	return bytes.NewReader(data)
}
