package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"unicode/utf8"
)

// ErrInvalidUTF8 indicates a text unit containing a malformed UTF-8 sequence.
var ErrInvalidUTF8 = errors.New("malformed UTF-8 sequence")

// DecodeError reports a unit that could not be decoded. The connection it
// came from stays open; only the offending unit is dropped.
type DecodeError struct {
	Mode Mode
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s decode: %v", e.Mode, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Decoder accumulates the bytes read from one connection and emits complete
// units. Decode never retains p, and every unit passed to emit is a fresh
// slice the receiver may keep.
type Decoder interface {
	Decode(p []byte, emit func(unit []byte)) error
	// Buffered returns the number of bytes held back for a later unit.
	Buffered() int
}

// NewDecoder returns a decoder for mode. Each connection needs its own.
func NewDecoder(mode Mode) Decoder {
	switch mode {
	case ModeText:
		return &TextDecoder{}
	case ModeFramed:
		return NewFrameDecoder()
	default:
		return RawDecoder{}
	}
}

// RawDecoder delivers exactly the bytes of each read.
type RawDecoder struct{}

func (RawDecoder) Decode(p []byte, emit func([]byte)) error {
	if len(p) == 0 {
		return nil
	}
	unit := make([]byte, len(p))
	copy(unit, p)
	emit(unit)
	return nil
}

func (RawDecoder) Buffered() int { return 0 }

// TextDecoder delivers each read as UTF-8 text. A multi-byte sequence cut
// off at the end of a read is held until the next read completes it.
type TextDecoder struct {
	carry []byte
}

func (d *TextDecoder) Decode(p []byte, emit func([]byte)) error {
	buf := make([]byte, 0, len(d.carry)+len(p))
	buf = append(append(buf, d.carry...), p...)
	d.carry = d.carry[:0]

	cut := incompleteTail(buf)
	if cut < len(buf) {
		d.carry = append(d.carry, buf[cut:]...)
		buf = buf[:cut]
	}
	if len(buf) == 0 {
		return nil
	}
	if !utf8.Valid(buf) {
		d.carry = d.carry[:0]
		return &DecodeError{Mode: ModeText, Err: ErrInvalidUTF8}
	}
	emit(buf)
	return nil
}

func (d *TextDecoder) Buffered() int { return len(d.carry) }

// incompleteTail returns the index where a trailing, not yet complete,
// multi-byte sequence starts, or len(b) if there is none.
func incompleteTail(b []byte) int {
	for i := len(b) - 1; i >= 0 && len(b)-i < utf8.UTFMax; i-- {
		if !utf8.RuneStart(b[i]) {
			continue
		}
		if utf8.FullRune(b[i:]) {
			return len(b)
		}
		return i
	}
	return len(b)
}

// FrameDecoder reassembles length-prefixed frames split across reads.
type FrameDecoder struct {
	acc      []byte
	expected int64 // payload length of the frame in progress, -1 until known
}

// NewFrameDecoder returns an empty FrameDecoder.
func NewFrameDecoder() *FrameDecoder {
	return &FrameDecoder{expected: -1}
}

func (d *FrameDecoder) Decode(p []byte, emit func([]byte)) error {
	d.acc = append(d.acc, p...)

	off := 0
	for {
		rest := d.acc[off:]
		if d.expected < 0 {
			if len(rest) < HeaderSize {
				break
			}
			d.expected = int64(binary.BigEndian.Uint32(rest))
		}
		if int64(len(rest)) < HeaderSize+d.expected {
			break
		}
		unit := make([]byte, d.expected)
		copy(unit, rest[HeaderSize:])
		off += HeaderSize + int(d.expected)
		d.expected = -1
		emit(unit)
	}

	if off > 0 {
		n := copy(d.acc, d.acc[off:])
		d.acc = d.acc[:n]
		if n == 0 && cap(d.acc) > maxRetainedCapacity {
			d.acc = nil
		}
	}
	return nil
}

// Buffered returns the bytes of the frame still in progress.
func (d *FrameDecoder) Buffered() int { return len(d.acc) }

// Expected returns the payload length of the frame in progress, or -1 if
// its length prefix has not been read yet.
func (d *FrameDecoder) Expected() int64 { return d.expected }

// maxRetainedCapacity bounds the accumulator kept between frames.
const maxRetainedCapacity = 1 << 20
