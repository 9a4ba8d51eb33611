package tcp

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync/atomic"
	"syscall"
)

// Listener is a TCP listening socket accepted from without blocking.
type Listener struct {
	ln     *net.TCPListener
	raw    syscall.RawConn
	fd     int
	closed atomic.Bool
}

// Listen binds port on all interfaces. Port 0 selects an ephemeral port.
func Listen(port int) (*Listener, error) {
	ln, err := net.ListenTCP("tcp", &net.TCPAddr{Port: port})
	if err != nil {
		return nil, fmt.Errorf("failed to start TCP server: %w", err)
	}
	raw, err := ln.SyscallConn()
	if err != nil {
		ln.Close()
		return nil, fmt.Errorf("failed to access raw listener: %w", err)
	}
	l := &Listener{ln: ln, raw: raw}
	if err := raw.Control(func(fd uintptr) { l.fd = int(fd) }); err != nil {
		ln.Close()
		return nil, fmt.Errorf("failed to access raw listener: %w", err)
	}
	return l, nil
}

// Fd returns the descriptor to register with a poller.
func (l *Listener) Fd() int {
	return l.fd
}

// Port returns the bound port.
func (l *Listener) Port() int {
	return l.ln.Addr().(*net.TCPAddr).Port
}

// Addr returns the listening address.
func (l *Listener) Addr() string {
	return l.ln.Addr().String()
}

// AcceptNonblock accepts one pending connection, or returns ErrWouldBlock
// if none is pending.
func (l *Listener) AcceptNonblock() (*Conn, error) {
	tc, err := acceptNonblock(l.raw)
	if err != nil {
		return nil, err
	}
	c, err := NewConn(tc)
	if err != nil {
		tc.Close()
		return nil, err
	}
	return c, nil
}

// Close stops listening. Only the first call has an effect.
func (l *Listener) Close() error {
	if l.closed.Swap(true) {
		return nil
	}
	return l.ln.Close()
}

// Dial connects to host:port.
func Dial(ctx context.Context, host string, port int) (*Conn, error) {
	var d net.Dialer
	nc, err := d.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to server: %w", err)
	}
	tc, ok := nc.(*net.TCPConn)
	if !ok {
		nc.Close()
		return nil, fmt.Errorf("failed to connect to server: unexpected connection type %T", nc)
	}
	c, err := NewConn(tc)
	if err != nil {
		tc.Close()
		return nil, err
	}
	return c, nil
}
