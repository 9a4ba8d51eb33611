//go:build linux

package alternet_test

import (
	"io"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/omochice/alternet/pkg/alternet"
	"github.com/omochice/alternet/pkg/peer"
	"github.com/omochice/alternet/pkg/protocol"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

type received struct {
	addr alternet.RemoteAddress
	data []byte
}

// events records what the handlers of one endpoint see.
type events struct {
	connects    chan alternet.RemoteAddress
	disconnects chan alternet.RemoteAddress
	bytes       chan received
	texts       chan string
	messages    chan *protocol.Message
}

func newEvents() *events {
	return &events{
		connects:    make(chan alternet.RemoteAddress, 64),
		disconnects: make(chan alternet.RemoteAddress, 64),
		bytes:       make(chan received, 64),
		texts:       make(chan string, 64),
		messages:    make(chan *protocol.Message, 64),
	}
}

func (ev *events) handlers() alternet.Handlers {
	return alternet.Handlers{
		OnConnect: func(_ alternet.Endpoint, addr alternet.RemoteAddress) {
			ev.connects <- addr
		},
		OnDisconnect: func(_ alternet.Endpoint, addr alternet.RemoteAddress) {
			ev.disconnects <- addr
		},
		OnReceiveBytes: func(_ alternet.Endpoint, addr alternet.RemoteAddress, data []byte) {
			ev.bytes <- received{addr: addr, data: data}
		},
		OnReceiveText: func(_ alternet.Endpoint, _ alternet.RemoteAddress, text string) {
			ev.texts <- text
		},
		OnReceiveMessage: func(_ alternet.Endpoint, _ alternet.RemoteAddress, msg *protocol.Message) {
			ev.messages <- msg
		},
	}
}

func next[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for event")
		var zero T
		return zero
	}
}

func none[T any](t *testing.T, ch <-chan T) {
	t.Helper()
	select {
	case v := <-ch:
		t.Fatalf("unexpected event: %v", v)
	case <-time.After(100 * time.Millisecond):
	}
}

func startServer(t *testing.T, h alternet.Handlers, opts ...alternet.Option) *alternet.Server {
	t.Helper()
	srv, err := alternet.NewServer(0, h, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { srv.Dispose() })
	return srv
}

// connect dials srv with a plain socket and waits until srv has registered
// it. It returns the socket and the address srv knows it by.
func connect(t *testing.T, srv *alternet.Server) (net.Conn, alternet.RemoteAddress) {
	t.Helper()
	before := srv.NumConnectedClients()
	conn, err := net.Dial("tcp", "127.0.0.1:"+strconv.Itoa(srv.Port()))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.Eventually(t, func() bool {
		return srv.NumConnectedClients() == before+1
	}, waitFor, tick)
	return conn, peer.FromNetAddr(conn.LocalAddr())
}

func readN(t *testing.T, conn net.Conn, n int) []byte {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(waitFor)))
	buf := make([]byte, n)
	_, err := io.ReadFull(conn, buf)
	require.NoError(t, err)
	return buf
}
