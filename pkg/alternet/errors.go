package alternet

import (
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/omochice/alternet/internal/loop"
	"github.com/omochice/alternet/pkg/protocol"
)

var (
	// ErrNotConnected is returned by sends and DisconnectClient when no live
	// connection exists for the address. No I/O is performed.
	ErrNotConnected = errors.New("alternet: not connected")

	// ErrDisposed is returned by operations that need a running endpoint.
	ErrDisposed = errors.New("alternet: endpoint disposed")

	// ErrNotFramed is returned when a structured message is sent by an
	// endpoint that is not in ModeFramed.
	ErrNotFramed = errors.New("alternet: messages require framed mode")
)

// BindError reports that a Server could not listen on its port.
type BindError struct {
	Port int
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("alternet: bind port %d: %v", e.Port, e.Err)
}

func (e *BindError) Unwrap() error {
	return e.Err
}

// ConnectError reports that a Client could not connect to its server.
type ConnectError struct {
	Addr string
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("alternet: connect %s: %v", e.Addr, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// ChannelIOError reports an I/O failure on one connection. The connection
// has been torn down; every other connection is unaffected.
type ChannelIOError struct {
	Addr RemoteAddress
	Op   string
	Err  error
}

func (e *ChannelIOError) Error() string {
	return fmt.Sprintf("alternet: %s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *ChannelIOError) Unwrap() error {
	return e.Err
}

// MultiplexerError reports a failure of the readiness multiplexer. Failures
// while running are logged and retried; only a failure to create it is
// returned to the caller.
type MultiplexerError = loop.MultiplexerError

// DecodeError reports bytes that could not be decoded as the endpoint's
// mode requires. The unit is dropped and the connection stays open.
type DecodeError = protocol.DecodeError

// sendError maps an error from the loop's send path onto the public
// taxonomy.
func sendError(addr RemoteAddress, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, loop.ErrNotRegistered) {
		return ErrNotConnected
	}
	if errors.Is(err, protocol.ErrFrameTooLarge) {
		return fmt.Errorf("alternet: send to %s: %w", addr, err)
	}
	return &ChannelIOError{Addr: addr, Op: "write", Err: err}
}

func hostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}
