package loop

import (
	"errors"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/omochice/alternet/internal/poll"
	"github.com/omochice/alternet/pkg/peer"
	"github.com/omochice/alternet/pkg/protocol"
)

// Send writes payload to the connection registered for addr, blocking
// until every byte has been accepted by the socket. In framed mode the
// payload is preceded by its length prefix and the returned count excludes
// it. A write error tears the connection down; its disconnect event is
// delivered by the loop goroutine.
func (l *Loop) Send(addr peer.Address, payload []byte) (int, error) {
	c, ok := l.registry.Lookup(addr)
	if !ok {
		return 0, ErrNotRegistered
	}

	data := payload
	if l.cfg.Mode == protocol.ModeFramed {
		framed, err := protocol.EncodeFrame(payload)
		if err != nil {
			return 0, err
		}
		data = framed
	}

	n, err := c.Write(data, l.cfg.WriteTimeout)
	l.cfg.Metrics.Sent(n)
	if l.cfg.Mode == protocol.ModeFramed {
		n = max(n-protocol.HeaderSize, 0)
	}
	if err != nil {
		if !l.closeFromCaller(c) {
			// Closed underneath us by Disconnect or Dispose.
			return n, ErrNotRegistered
		}
		l.cfg.Metrics.SendFailed()
		l.log.Warn("write failed, closing connection", zap.Stringer("remote", addr), zap.Error(err))
		return n, err
	}
	return n, nil
}

// Disconnect tears down the connection registered for addr.
func (l *Loop) Disconnect(addr peer.Address) error {
	c, ok := l.registry.Lookup(addr)
	if !ok || !l.closeFromCaller(c) {
		return ErrNotRegistered
	}
	return nil
}

// closeFromCaller tears c down from any goroutine and queues its
// disconnect event for the loop.
func (l *Loop) closeFromCaller(c *conn) bool {
	if !l.detach(c) {
		return false
	}
	l.post(notice{kind: noticeDisconnect, c: c})
	return true
}

// Dispose stops the loop: it closes the listener and every connection and
// wakes the loop goroutine so it exits. No handler runs once Dispose has
// returned, except one that was already running. Dispose does not wait for
// the goroutine; use Done for that. Calling it again is a no-op.
func (l *Loop) Dispose() error {
	for {
		s := l.State()
		if s == StateDisposed {
			return nil
		}
		if l.state.CompareAndSwap(int32(s), int32(StateDisposed)) {
			break
		}
	}

	l.mu.Lock()
	l.notices = nil
	l.mu.Unlock()

	var err error
	if l.listener != nil {
		err = multierr.Append(err, l.poller.Remove(l.listener.Fd()))
		err = multierr.Append(err, l.listener.Close())
	}
	closed, cerr := l.registry.CloseAll()
	err = multierr.Append(err, cerr)
	for i := 0; i < closed; i++ {
		l.cfg.Metrics.Disconnected()
	}
	if werr := l.poller.Wake(); werr != nil && !errors.Is(werr, poll.ErrClosed) {
		err = multierr.Append(err, werr)
	}

	l.log.Info("disposed")
	return err
}
