// Package loop runs the event loop of an endpoint: one goroutine that owns
// the multiplexer, accepts and reads without blocking, decodes what it reads
// and dispatches every event to the endpoint's handlers.
//
// Sends run on the caller's goroutine and go straight to the connection.
// The connection registry is the only state they share with the loop.
package loop

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/pool/pbytes"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/omochice/alternet/internal/poll"
	"github.com/omochice/alternet/internal/registry"
	"github.com/omochice/alternet/internal/transport/tcp"
	"github.com/omochice/alternet/pkg/peer"
	"github.com/omochice/alternet/pkg/protocol"
)

// ErrNotRegistered is returned when no live connection exists for an address.
var ErrNotRegistered = errors.New("loop: no connection registered for address")

// MultiplexerError reports a failure of the readiness multiplexer itself
// rather than of one connection.
type MultiplexerError struct {
	Err error
}

func (e *MultiplexerError) Error() string {
	return fmt.Sprintf("multiplexer: %v", e.Err)
}

func (e *MultiplexerError) Unwrap() error {
	return e.Err
}

// State is the lifecycle state of a Loop.
type State int32

const (
	StateCreated State = iota
	StateRunning
	StateDisposed
)

// String returns the string representation of State
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateDisposed:
		return "disposed"
	default:
		return "unknown"
	}
}

// Sink receives the events of a Loop, always on the loop goroutine. Nil
// members are skipped. A handler that blocks stalls every connection of the
// loop until it returns.
type Sink struct {
	Connect    func(addr peer.Address)
	Disconnect func(addr peer.Address)
	Unit       func(addr peer.Address, unit []byte)
}

const (
	listenerToken  uint32 = 1
	firstConnToken uint32 = 2

	maxAcceptsPerWake = 64
	waitRetryDelay    = 10 * time.Millisecond
)

// acceptRetryDelay is how long the listener stays unwatched after an
// accept error other than would-block, such as running out of descriptors.
var acceptRetryDelay = 100 * time.Millisecond

type noticeKind int

const (
	noticeConnect noticeKind = iota
	noticeDisconnect
)

// notice is an event raised off the loop goroutine and delivered by it.
type notice struct {
	kind noticeKind
	c    *conn
}

// conn is one registered connection.
type conn struct {
	*tcp.Conn
	addr    peer.Address
	token   uint32
	decoder protocol.Decoder
	poller  *poll.Poller
}

// Close unwatches and closes the connection. The registry calls it while
// removing the entry.
func (c *conn) Close() error {
	if c.Closed() {
		return nil
	}
	err := c.poller.Remove(c.Fd())
	return multierr.Append(err, c.Conn.Close())
}

// Loop is the event loop of one Server or Client.
type Loop struct {
	cfg      Config
	sink     Sink
	log      *zap.Logger
	poller   *poll.Poller
	listener *tcp.Listener
	remote   peer.Address // dialed loops only.
	local    peer.Address // dialed loops only.
	registry *registry.Registry[peer.Address, *conn]
	state    atomic.Int32

	// Owned by the loop goroutine once it runs.
	conns        map[uint32]*conn
	nextToken    uint32
	buf          []byte
	acceptPaused bool
	acceptResume time.Time

	mu      sync.Mutex // guards notices.
	notices []notice

	done chan struct{}
}

func newLoop(cfg Config, sink Sink) (*Loop, error) {
	cfg.applyDefaults()
	p, err := poll.New(cfg.MaxEvents)
	if err != nil {
		return nil, &MultiplexerError{Err: err}
	}
	return &Loop{
		cfg:       cfg,
		sink:      sink,
		log:       cfg.Logger,
		poller:    p,
		registry:  registry.New[peer.Address, *conn](),
		conns:     make(map[uint32]*conn),
		nextToken: firstConnToken - 1,
		done:      make(chan struct{}),
	}, nil
}

// Listen binds port on all interfaces and starts a loop accepting
// connections on it. Nothing is started if binding fails.
func Listen(port int, cfg Config, sink Sink) (*Loop, error) {
	l, err := newLoop(cfg, sink)
	if err != nil {
		return nil, err
	}
	ln, err := tcp.Listen(port)
	if err != nil {
		l.poller.Close()
		return nil, err
	}
	if err := l.poller.Add(ln.Fd(), listenerToken); err != nil {
		ln.Close()
		l.poller.Close()
		return nil, &MultiplexerError{Err: fmt.Errorf("failed to watch listener: %w", err)}
	}
	l.listener = ln
	l.start()

	l.log.Info("server started", zap.String("addr", ln.Addr()), zap.Stringer("mode", l.cfg.Mode))
	return l, nil
}

// Dial connects to host:port and starts a loop reading from the
// connection. Nothing is started if connecting fails.
func Dial(ctx context.Context, host string, port int, cfg Config, sink Sink) (*Loop, error) {
	l, err := newLoop(cfg, sink)
	if err != nil {
		return nil, err
	}
	tc, err := tcp.Dial(ctx, host, port)
	if err != nil {
		l.poller.Close()
		return nil, err
	}
	c, err := l.attach(tc)
	if err != nil {
		tc.Close()
		l.poller.Close()
		return nil, err
	}
	l.remote = c.addr
	l.local = peer.FromNetAddr(tc.LocalAddr())
	// Queued before the loop runs so that nothing read from c can be
	// delivered ahead of its connect event.
	l.post(notice{kind: noticeConnect, c: c})
	l.start()

	l.log.Info("connected", zap.Stringer("remote", c.addr), zap.Stringer("mode", l.cfg.Mode))
	return l, nil
}

func (l *Loop) start() {
	l.buf = pbytes.GetLen(l.cfg.ReadBufferSize)
	l.state.Store(int32(StateRunning))
	go l.run()
}

// State returns the lifecycle state.
func (l *Loop) State() State {
	return State(l.state.Load())
}

func (l *Loop) running() bool {
	return l.State() == StateRunning
}

// Done is closed once the loop goroutine has exited.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Port returns the listening port, or 0 for a dialed loop.
func (l *Loop) Port() int {
	if l.listener == nil {
		return 0
	}
	return l.listener.Port()
}

// Len returns the number of registered connections.
func (l *Loop) Len() int {
	return l.registry.Len()
}

// Peers returns the addresses registered at the instant of the call.
func (l *Loop) Peers() []peer.Address {
	return l.registry.Keys()
}

// Remote returns the address a dialed loop connected to.
func (l *Loop) Remote() peer.Address {
	return l.remote
}

// Local returns the local address of a dialed loop's connection.
func (l *Loop) Local() peer.Address {
	return l.local
}

func (l *Loop) run() {
	defer close(l.done)
	defer l.release()

	for l.running() {
		l.resumeAccept()
		l.drainNotices()

		events, err := l.poller.Wait()
		if !l.running() {
			return
		}
		if err != nil {
			l.log.Error("multiplexer wait failed, retrying", zap.Error(&MultiplexerError{Err: err}))
			time.Sleep(waitRetryDelay)
			continue
		}

		for _, ev := range events {
			if !l.running() {
				return
			}
			if ev.Token == listenerToken {
				l.accept()
				continue
			}
			if c, ok := l.conns[ev.Token]; ok {
				l.read(c)
			}
		}
	}
}

func (l *Loop) release() {
	if err := l.poller.Close(); err != nil {
		l.log.Debug("failed to close multiplexer", zap.Error(err))
	}
	pbytes.Put(l.buf)
	l.buf = nil
	l.conns = nil
	l.log.Debug("event loop stopped")
}

func (l *Loop) accept() {
	for i := 0; i < maxAcceptsPerWake; i++ {
		tc, err := l.listener.AcceptNonblock()
		if errors.Is(err, tcp.ErrWouldBlock) {
			return
		}
		if err != nil {
			if l.running() {
				l.log.Warn("failed to accept connection, pausing", zap.Error(err), zap.Duration("retry", acceptRetryDelay))
				l.pauseAccept()
			}
			return
		}

		c, err := l.attach(tc)
		if err != nil {
			tc.Close()
			if l.running() {
				l.log.Warn("failed to register connection", zap.Stringer("remote", tc.RemoteAddr()), zap.Error(err))
			}
			continue
		}

		l.log.Info("client connected", zap.Stringer("remote", c.addr))
		l.deliver(func() {
			if l.sink.Connect != nil {
				l.sink.Connect(c.addr)
			}
		})
	}
}

// pauseAccept stops watching the listener for acceptRetryDelay. A failing
// accept leaves the listener readable, so watching it would spin.
func (l *Loop) pauseAccept() {
	if err := l.poller.Remove(l.listener.Fd()); err != nil {
		l.log.Debug("failed to unwatch listener", zap.Error(err))
	}
	l.acceptPaused = true
	l.acceptResume = time.Now().Add(acceptRetryDelay)
	time.AfterFunc(acceptRetryDelay, func() {
		if err := l.poller.Wake(); err != nil && !errors.Is(err, poll.ErrClosed) {
			l.log.Debug("failed to wake event loop", zap.Error(err))
		}
	})
}

// resumeAccept watches the listener again once its pause has elapsed.
func (l *Loop) resumeAccept() {
	if !l.acceptPaused || time.Now().Before(l.acceptResume) {
		return
	}
	if err := l.poller.Add(l.listener.Fd(), listenerToken); err != nil {
		if l.running() {
			l.log.Warn("failed to watch listener again", zap.Error(err))
			l.pauseAccept()
		}
		return
	}
	l.acceptPaused = false
	l.log.Debug("accepting again")
}

// attach registers tc and starts watching it.
func (l *Loop) attach(tc *tcp.Conn) (*conn, error) {
	if err := tc.SetKeepAlive(l.cfg.KeepAlive); err != nil {
		l.log.Debug("failed to enable keepalive", zap.Error(err))
	}

	c := &conn{
		Conn:    tc,
		addr:    peer.FromNetAddr(tc.RemoteAddr()),
		token:   l.allocToken(),
		decoder: protocol.NewDecoder(l.cfg.Mode),
		poller:  l.poller,
	}

	err := l.registry.Add(c.addr, c)
	if errors.Is(err, registry.ErrDuplicate) {
		// A stale entry for the same address has not been torn down yet.
		if old, ok := l.registry.Lookup(c.addr); ok {
			l.teardown(old)
		}
		err = l.registry.Add(c.addr, c)
	}
	if err != nil {
		return nil, err
	}

	if err := l.poller.Add(tc.Fd(), c.token); err != nil {
		l.registry.CloseIf(c.addr, func(v *conn) bool { return v == c })
		return nil, fmt.Errorf("failed to watch connection: %w", err)
	}

	l.conns[c.token] = c
	l.cfg.Metrics.Connected()
	return c, nil
}

func (l *Loop) allocToken() uint32 {
	for {
		l.nextToken++
		if l.nextToken < firstConnToken {
			l.nextToken = firstConnToken
		}
		if _, used := l.conns[l.nextToken]; !used {
			return l.nextToken
		}
	}
}

func (l *Loop) read(c *conn) {
	if c.Closed() {
		return
	}

	n, err := c.ReadNonblock(l.buf)
	switch {
	case errors.Is(err, tcp.ErrWouldBlock):
		return
	case errors.Is(err, io.EOF):
		l.log.Debug("peer closed connection", zap.Stringer("remote", c.addr))
		l.teardown(c)
		return
	case err != nil:
		if !c.Closed() {
			l.log.Warn("read failed, closing connection", zap.Stringer("remote", c.addr), zap.Error(err))
		}
		l.teardown(c)
		return
	}

	l.cfg.Metrics.Received(n)
	l.log.Debug("read", zap.Stringer("remote", c.addr), zap.Int("bytes", n))

	mode := l.cfg.Mode.String()
	err = c.decoder.Decode(l.buf[:n], func(unit []byte) {
		if c.Closed() {
			return
		}
		l.cfg.Metrics.Delivered(mode)
		l.deliver(func() {
			if l.sink.Unit != nil {
				l.sink.Unit(c.addr, unit)
			}
		})
	})
	if err != nil {
		l.cfg.Metrics.DecodeFailed()
		l.log.Warn("dropped undecodable data", zap.Stringer("remote", c.addr), zap.Error(err))
	}

	if n == len(l.buf) {
		l.grow()
	}
}

// grow doubles the scratch buffer after a read filled it. Nothing is lost
// meanwhile: the kernel keeps the rest and the descriptor stays ready.
func (l *Loop) grow() {
	if len(l.buf) >= l.cfg.MaxReadBufferSize {
		return
	}
	size := min(len(l.buf)*2, l.cfg.MaxReadBufferSize)
	pbytes.Put(l.buf)
	l.buf = pbytes.GetLen(size)
	l.log.Debug("grew read buffer", zap.Int("size", size))
}

// teardown runs on the loop goroutine for a connection that failed or was
// closed by its peer.
func (l *Loop) teardown(c *conn) {
	if !l.detach(c) {
		return
	}
	delete(l.conns, c.token)
	l.deliver(func() {
		if l.sink.Disconnect != nil {
			l.sink.Disconnect(c.addr)
		}
	})
}

// detach closes c and removes it from the registry in one step. Exactly
// one caller wins for a given connection and owns its disconnect event.
func (l *Loop) detach(c *conn) bool {
	_, took, err := l.registry.CloseIf(c.addr, func(v *conn) bool { return v == c })
	if !took {
		return false
	}
	if err != nil {
		l.log.Debug("error while closing connection", zap.Stringer("remote", c.addr), zap.Error(err))
	}
	l.cfg.Metrics.Disconnected()
	l.log.Info("connection closed", zap.Stringer("remote", c.addr))
	return true
}

// deliver runs a handler unless the loop has been disposed. A panicking
// handler is logged and does not stop the loop.
func (l *Loop) deliver(fn func()) {
	if !l.running() {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("handler panicked", zap.Any("panic", r))
		}
	}()
	fn()
}

// post queues a notice for the loop goroutine and wakes it.
func (l *Loop) post(n notice) {
	l.mu.Lock()
	if l.State() == StateDisposed {
		l.mu.Unlock()
		return
	}
	l.notices = append(l.notices, n)
	l.mu.Unlock()

	if err := l.poller.Wake(); err != nil && !errors.Is(err, poll.ErrClosed) {
		l.log.Warn("failed to wake event loop", zap.Error(err))
	}
}

func (l *Loop) drainNotices() {
	l.mu.Lock()
	notices := l.notices
	l.notices = nil
	l.mu.Unlock()

	for _, n := range notices {
		c := n.c
		switch n.kind {
		case noticeConnect:
			l.deliver(func() {
				if l.sink.Connect != nil {
					l.sink.Connect(c.addr)
				}
			})
		case noticeDisconnect:
			delete(l.conns, c.token)
			l.deliver(func() {
				if l.sink.Disconnect != nil {
					l.sink.Disconnect(c.addr)
				}
			})
		}
	}
}
