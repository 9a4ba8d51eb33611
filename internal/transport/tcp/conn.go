// Package tcp provides TCP transport implementation for the event loop:
// listening and dialing, plus non-blocking accept and read on the raw
// descriptors that the loop multiplexes.
package tcp

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

// ErrWouldBlock is returned by the non-blocking operations when nothing is
// ready yet.
var ErrWouldBlock = errors.New("tcp: operation would block")

// Conn adapts a *net.TCPConn for the event loop. Reads are non-blocking and
// performed only by the loop goroutine; writes block the calling goroutine
// until every byte is accepted.
type Conn struct {
	conn    *net.TCPConn
	raw     syscall.RawConn
	fd      int
	writeMu sync.Mutex // serializes concurrent writes.
	closed  atomic.Bool
}

// NewConn wraps a net.TCPConn.
func NewConn(conn *net.TCPConn) (*Conn, error) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return nil, fmt.Errorf("failed to access raw connection: %w", err)
	}
	c := &Conn{conn: conn, raw: raw}
	if err := raw.Control(func(fd uintptr) { c.fd = int(fd) }); err != nil {
		return nil, fmt.Errorf("failed to access raw connection: %w", err)
	}
	return c, nil
}

// Fd returns the descriptor to register with a poller.
func (c *Conn) Fd() int {
	return c.fd
}

// ReadNonblock reads whatever is available into buf. It returns
// ErrWouldBlock if nothing is, and io.EOF once the peer has closed.
func (c *Conn) ReadNonblock(buf []byte) (int, error) {
	return readNonblock(c.raw, buf)
}

// Write writes all of p, looping until every byte is accepted or an error
// occurs. With a zero timeout it blocks for as long as the peer does not
// drain its receive window.
func (c *Conn) Write(p []byte, timeout time.Duration) (int, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if timeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
			return 0, err
		}
	}
	written := 0
	for written < len(p) {
		n, err := c.conn.Write(p[written:])
		written += n
		if err != nil {
			return written, err
		}
	}
	return written, nil
}

// SetKeepAlive enables TCP keepalive probes every period. A zero period
// leaves the current setting in place; a negative one disables probes.
func (c *Conn) SetKeepAlive(period time.Duration) error {
	switch {
	case period == 0:
		return nil
	case period < 0:
		return c.conn.SetKeepAlive(false)
	}
	if err := c.conn.SetKeepAlive(true); err != nil {
		return err
	}
	return c.conn.SetKeepAlivePeriod(period)
}

// Close closes the connection. Only the first call has an effect.
func (c *Conn) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	return c.conn.Close()
}

// Closed reports whether Close has been called.
func (c *Conn) Closed() bool {
	return c.closed.Load()
}

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// LocalAddr returns the local address.
func (c *Conn) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}
