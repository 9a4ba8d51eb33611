package alternet

import (
	"context"
	"errors"

	"github.com/omochice/alternet/internal/loop"
	"github.com/omochice/alternet/pkg/protocol"
)

// Client is a connection to one server.
type Client struct {
	sender
	server RemoteAddress
	local  RemoteAddress
}

var _ Endpoint = (*Client)(nil)

// Dial connects to host:port and starts the client's event loop. If the
// server cannot be reached the error is a *ConnectError and nothing is
// started.
func Dial(host string, port int, h Handlers, opts ...Option) (*Client, error) {
	return DialContext(context.Background(), host, port, h, opts...)
}

// DialContext is like Dial but gives up connecting when ctx is done.
func DialContext(ctx context.Context, host string, port int, h Handlers, opts ...Option) (*Client, error) {
	cfg := newConfig(opts)
	lc := cfg.loopConfig("client")

	c := &Client{}
	d := &dispatcher{
		ready:   make(chan struct{}),
		h:       h,
		e:       c,
		mode:    cfg.Mode,
		log:     lc.Logger,
		metrics: lc.Metrics,
	}

	l, err := loop.Dial(ctx, host, port, lc, d.sink())
	if err != nil {
		var mErr *MultiplexerError
		if errors.As(err, &mErr) {
			return nil, err
		}
		return nil, &ConnectError{Addr: hostPort(host, port), Err: err}
	}
	c.sender = sender{loop: l, mode: cfg.Mode}
	c.server = l.Remote()
	c.local = l.Local()
	close(d.ready)
	return c, nil
}

// RemoteAddress returns the address of the server.
func (c *Client) RemoteAddress() RemoteAddress {
	return c.server
}

// LocalAddress returns the local address of the connection.
func (c *Client) LocalAddress() RemoteAddress {
	return c.local
}

// IsConnected reports whether the connection to the server is live.
func (c *Client) IsConnected() bool {
	return c.loop.Len() > 0
}

// Send writes data to the server and returns once every byte has been
// accepted by the socket. In ModeFramed data is sent as one frame and the
// count excludes the length prefix. It returns ErrNotConnected once the
// connection is gone. On a write failure the connection is torn down and
// the error is a *ChannelIOError.
func (c *Client) Send(data []byte) (int, error) {
	return c.sendTo(c.server, data)
}

// SendText writes text as UTF-8.
func (c *Client) SendText(text string) (int, error) {
	return c.Send([]byte(text))
}

// SendInt writes v as decimal text.
func (c *Client) SendInt(v int) (int, error) {
	return c.SendText(protocol.FormatInt(int64(v)))
}

// SendFloat writes v as decimal text.
func (c *Client) SendFloat(v float64) (int, error) {
	return c.SendText(protocol.FormatFloat(v))
}

// SendByte writes the signed byte v as decimal text.
func (c *Client) SendByte(v int8) (int, error) {
	return c.SendText(protocol.FormatByte(v))
}

// SendMessage writes msg as one frame. The client must be in ModeFramed.
func (c *Client) SendMessage(msg *protocol.Message) (int, error) {
	data, err := c.encode(msg)
	if err != nil {
		return 0, err
	}
	return c.Send(data)
}

// SendTo writes data to addr, which must be the server's address.
func (c *Client) SendTo(addr RemoteAddress, data []byte) (int, error) {
	return c.sendTo(addr, data)
}

// Disconnect closes the connection to the server. The OnDisconnect handler
// runs once, on the loop goroutine. The loop keeps running until Dispose.
func (c *Client) Disconnect() error {
	return c.disconnect(c.server)
}

// DisconnectClient closes the connection if addr is the server's address.
func (c *Client) DisconnectClient(addr RemoteAddress) error {
	return c.disconnect(addr)
}

// NumConnectedClients returns 1 while the connection is live, else 0.
func (c *Client) NumConnectedClients() int {
	return c.loop.Len()
}

// Dispose closes the connection and stops the event loop. No handler runs
// once Dispose has returned, except one that was already running. Calling
// it again is a no-op.
func (c *Client) Dispose() error {
	return c.loop.Dispose()
}

// Done is closed once the client's loop goroutine has exited.
func (c *Client) Done() <-chan struct{} {
	return c.loop.Done()
}
