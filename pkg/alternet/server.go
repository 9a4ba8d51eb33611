package alternet

import (
	"errors"

	"github.com/omochice/alternet/internal/loop"
	"github.com/omochice/alternet/pkg/protocol"
)

// Server accepts TCP connections on one port and exchanges data with every
// connected client.
type Server struct {
	sender
}

var _ Endpoint = (*Server)(nil)

// NewServer listens on port on all interfaces and starts the server's
// event loop. Port 0 picks an ephemeral port; see Port. If the port cannot
// be bound the error is a *BindError and nothing is started.
func NewServer(port int, h Handlers, opts ...Option) (*Server, error) {
	cfg := newConfig(opts)
	lc := cfg.loopConfig("server")

	s := &Server{}
	d := &dispatcher{
		ready:   make(chan struct{}),
		h:       h,
		e:       s,
		mode:    cfg.Mode,
		log:     lc.Logger,
		metrics: lc.Metrics,
	}

	l, err := loop.Listen(port, lc, d.sink())
	if err != nil {
		var mErr *MultiplexerError
		if errors.As(err, &mErr) {
			return nil, err
		}
		return nil, &BindError{Port: port, Err: err}
	}
	s.sender = sender{loop: l, mode: cfg.Mode}
	close(d.ready)
	return s, nil
}

// Port returns the port the server listens on.
func (s *Server) Port() int {
	return s.loop.Port()
}

// SendTo writes data to the client at addr and returns once every byte has
// been accepted by its socket. In ModeFramed data is sent as one frame and
// the count excludes the length prefix. It returns ErrNotConnected if addr
// has no live connection. On a write failure the connection is torn down and
// the error is a *ChannelIOError.
func (s *Server) SendTo(addr RemoteAddress, data []byte) (int, error) {
	return s.sendTo(addr, data)
}

// SendTextTo writes text as UTF-8.
func (s *Server) SendTextTo(addr RemoteAddress, text string) (int, error) {
	return s.sendTo(addr, []byte(text))
}

// SendIntTo writes v as decimal text.
func (s *Server) SendIntTo(addr RemoteAddress, v int) (int, error) {
	return s.SendTextTo(addr, protocol.FormatInt(int64(v)))
}

// SendFloatTo writes v as decimal text.
func (s *Server) SendFloatTo(addr RemoteAddress, v float64) (int, error) {
	return s.SendTextTo(addr, protocol.FormatFloat(v))
}

// SendByteTo writes the signed byte v as decimal text.
func (s *Server) SendByteTo(addr RemoteAddress, v int8) (int, error) {
	return s.SendTextTo(addr, protocol.FormatByte(v))
}

// SendMessageTo writes msg as one frame. The server must be in ModeFramed.
func (s *Server) SendMessageTo(addr RemoteAddress, msg *protocol.Message) (int, error) {
	data, err := s.encode(msg)
	if err != nil {
		return 0, err
	}
	return s.sendTo(addr, data)
}

// SendToAll writes data to every client connected when it is called, one
// after the other. A failure on one client does not stop delivery to the
// rest; the failures are combined into the returned error. It returns the
// number of clients that received all of data, or ErrDisposed once the
// server has been disposed.
func (s *Server) SendToAll(data []byte) (int, error) {
	return s.sendToAll(data)
}

// SendTextToAll writes text as UTF-8 to every client.
func (s *Server) SendTextToAll(text string) (int, error) {
	return s.sendToAll([]byte(text))
}

// SendIntToAll writes v as decimal text to every client.
func (s *Server) SendIntToAll(v int) (int, error) {
	return s.SendTextToAll(protocol.FormatInt(int64(v)))
}

// SendFloatToAll writes v as decimal text to every client.
func (s *Server) SendFloatToAll(v float64) (int, error) {
	return s.SendTextToAll(protocol.FormatFloat(v))
}

// SendByteToAll writes the signed byte v as decimal text to every client.
func (s *Server) SendByteToAll(v int8) (int, error) {
	return s.SendTextToAll(protocol.FormatByte(v))
}

// SendMessageToAll writes msg as one frame to every client.
func (s *Server) SendMessageToAll(msg *protocol.Message) (int, error) {
	data, err := s.encode(msg)
	if err != nil {
		return 0, err
	}
	return s.sendToAll(data)
}

// DisconnectClient closes the connection to addr. Its OnDisconnect handler
// runs once, on the loop goroutine.
func (s *Server) DisconnectClient(addr RemoteAddress) error {
	return s.disconnect(addr)
}

// NumConnectedClients returns the number of live connections.
func (s *Server) NumConnectedClients() int {
	return s.loop.Len()
}

// ConnectedClients returns the addresses connected at the time of the call.
func (s *Server) ConnectedClients() []RemoteAddress {
	return s.loop.Peers()
}

// Dispose stops the server: it closes the listening socket and every
// connection. No handler runs once Dispose has returned, except one that
// was already running. Further sends report ErrNotConnected. Dispose does
// not wait for the loop goroutine to exit; Done is closed when it has.
// Calling Dispose again is a no-op.
func (s *Server) Dispose() error {
	return s.loop.Dispose()
}

// Done is closed once the server's loop goroutine has exited.
func (s *Server) Done() <-chan struct{} {
	return s.loop.Done()
}

// Disposed reports whether Dispose has been called.
func (s *Server) Disposed() bool {
	return s.loop.State() == loop.StateDisposed
}
