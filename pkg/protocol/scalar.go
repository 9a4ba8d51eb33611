package protocol

import "strconv"

// Numeric convenience sends carry the decimal text of the value, never a
// binary encoding.

// FormatInt returns the decimal text of v.
func FormatInt(v int64) string {
	return strconv.FormatInt(v, 10)
}

// FormatFloat returns the shortest decimal text that round-trips v.
func FormatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// FormatByte returns the decimal text of a signed 8-bit value.
func FormatByte(v int8) string {
	return strconv.FormatInt(int64(v), 10)
}
