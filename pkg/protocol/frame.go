package protocol

import (
	"encoding/binary"
	"errors"
	"math"
)

// HeaderSize is the size of the big-endian length prefix of a frame.
const HeaderSize = 4

// MaxFrameSize is the largest payload a 4-byte length prefix can describe.
const MaxFrameSize = math.MaxUint32

// ErrFrameTooLarge indicates a payload that does not fit the length prefix.
var ErrFrameTooLarge = errors.New("frame payload exceeds 4-byte length prefix")

// AppendFrame appends payload to dst, preceded by its length as a 4-byte
// big-endian unsigned integer.
func AppendFrame(dst, payload []byte) ([]byte, error) {
	if uint64(len(payload)) > MaxFrameSize {
		return dst, ErrFrameTooLarge
	}
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(payload)))
	return append(dst, payload...), nil
}

// EncodeFrame returns payload framed with its length prefix.
func EncodeFrame(payload []byte) ([]byte, error) {
	return AppendFrame(make([]byte, 0, HeaderSize+len(payload)), payload)
}
