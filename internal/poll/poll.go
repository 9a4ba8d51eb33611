// Package poll waits for read readiness across many descriptors at once.
//
// A Poller is driven by a single goroutine calling Wait. Add, Remove and
// Wake may be called from any goroutine.
package poll

import "errors"

var (
	// ErrClosed is returned by operations on a closed Poller.
	ErrClosed = errors.New("poll: poller closed")
	// ErrUnsupported is returned by New on platforms without a backend.
	ErrUnsupported = errors.New("poll: readiness multiplexing not supported on this platform")
)

// Event reports that the descriptor registered under Token is ready.
// Hangups and errors are reported as readiness too; the read that follows
// tells them apart.
type Event struct {
	Token uint32
}

// WakeToken is reserved for the internal wakeup descriptor.
const WakeToken uint32 = 0
