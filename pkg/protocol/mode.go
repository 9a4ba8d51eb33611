// Package protocol implements the wire formats carried over a connection:
// unframed byte streams, UTF-8 text and length-prefixed frames holding
// structured messages.
package protocol

import (
	"fmt"
	"strings"
)

// Mode selects how the bytes of a connection are turned into delivered units.
type Mode int

const (
	// ModeRaw delivers every read as one unit, unbuffered.
	ModeRaw Mode = iota
	// ModeText delivers every read as one UTF-8 unit.
	ModeText
	// ModeFramed delivers one unit per length-prefixed frame.
	ModeFramed
)

// String returns the string representation of Mode
func (m Mode) String() string {
	switch m {
	case ModeRaw:
		return "raw"
	case ModeText:
		return "text"
	case ModeFramed:
		return "framed"
	default:
		return "unknown"
	}
}

// ParseMode parses the names returned by Mode.String.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "raw", "bytes":
		return ModeRaw, nil
	case "text", "utf8", "utf-8":
		return ModeText, nil
	case "framed", "frame", "message":
		return ModeFramed, nil
	default:
		return ModeRaw, fmt.Errorf("unknown mode %q", s)
	}
}
