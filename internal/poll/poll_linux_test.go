//go:build linux

package poll_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/omochice/alternet/internal/poll"
)

func newPipe(t *testing.T) (r, w int) {
	t.Helper()
	var fds [2]int
	require.NoError(t, unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC))
	t.Cleanup(func() {
		unix.Close(fds[0])
		unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func waitAsync(p *poll.Poller) <-chan []poll.Event {
	ch := make(chan []poll.Event, 1)
	go func() {
		events, _ := p.Wait()
		ch <- append([]poll.Event(nil), events...)
	}()
	return ch
}

func TestPoller_ReportsReadable(t *testing.T) {
	p, err := poll.New(8)
	require.NoError(t, err)
	defer p.Close()

	r, w := newPipe(t)
	require.NoError(t, p.Add(r, 7))

	_, err = unix.Write(w, []byte("x"))
	require.NoError(t, err)

	events, err := p.Wait()
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, uint32(7), events[0].Token)

	// Level triggered: still ready until drained.
	events, err = p.Wait()
	require.NoError(t, err)
	require.Len(t, events, 1)
}

func TestPoller_Hangup(t *testing.T) {
	p, err := poll.New(8)
	require.NoError(t, err)
	defer p.Close()

	var fds [2]int
	require.NoError(t, unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC))
	defer unix.Close(fds[0])
	require.NoError(t, p.Add(fds[0], 3))
	require.NoError(t, unix.Close(fds[1]))

	events, err := p.Wait()
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, uint32(3), events[0].Token)

	n, err := unix.Read(fds[0], make([]byte, 1))
	require.NoError(t, err)
	assert.Zero(t, n, "the read after a hangup reports end of stream")
}

func TestPoller_WakeInterruptsWait(t *testing.T) {
	p, err := poll.New(8)
	require.NoError(t, err)
	defer p.Close()

	r, _ := newPipe(t)
	require.NoError(t, p.Add(r, 2))

	ch := waitAsync(p)
	select {
	case <-ch:
		t.Fatal("Wait returned without readiness")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, p.Wake())
	select {
	case events := <-ch:
		assert.Empty(t, events)
	case <-time.After(2 * time.Second):
		t.Fatal("Wake did not interrupt Wait")
	}
}

func TestPoller_Remove(t *testing.T) {
	p, err := poll.New(8)
	require.NoError(t, err)
	defer p.Close()

	r, w := newPipe(t)
	require.NoError(t, p.Add(r, 5))
	require.NoError(t, p.Remove(r))
	require.NoError(t, p.Remove(r), "removing twice is harmless")

	_, err = unix.Write(w, []byte("x"))
	require.NoError(t, err)

	ch := waitAsync(p)
	select {
	case events := <-ch:
		t.Fatalf("removed descriptor reported: %v", events)
	case <-time.After(50 * time.Millisecond):
	}
	require.NoError(t, p.Wake())
	<-ch
}

func TestPoller_Close(t *testing.T) {
	p, err := poll.New(0)
	require.NoError(t, err)

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())

	r, _ := newPipe(t)
	assert.ErrorIs(t, p.Add(r, 1), poll.ErrClosed)
	assert.ErrorIs(t, p.Wake(), poll.ErrClosed)
	assert.NoError(t, p.Remove(r))
}
