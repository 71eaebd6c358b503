// Package codec provides the payload encoding used on the wire.
package codec

import (
	"errors"
	"fmt"
)

// ErrDecode is matched by every DecodeError
var ErrDecode = errors.New("codec: decode failed")

// Codec encodes and decodes wire payloads
type Codec interface {
	Encode(v interface{}) ([]byte, error)
	Decode(data []byte, v interface{}) error
	ContentType() string
}

// DecodeError reports a payload that could not be decoded
type DecodeError struct {
	Payload []byte
	Err     error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("codec: malformed payload (%d bytes): %v", len(e.Payload), e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrDecode) match any DecodeError
func (e *DecodeError) Is(target error) bool {
	return target == ErrDecode
}

// IsDecodeError reports whether err is, or wraps, a DecodeError
func IsDecodeError(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}
