//go:build linux

package alternet_test

import (
	"bytes"
	"errors"
	"io"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/omochice/alternet/pkg/alternet"
	"github.com/omochice/alternet/pkg/protocol"
)

func TestServer_TextRoundTrip(t *testing.T) {
	ev := newEvents()
	srv := startServer(t, ev.handlers())

	conn, addr := connect(t, srv)
	assert.Equal(t, addr, next(t, ev.connects))

	_, err := conn.Write([]byte("hello"))
	require.NoError(t, err)

	assert.Equal(t, "hello", next(t, ev.texts))
	got := next(t, ev.bytes)
	assert.Equal(t, addr, got.addr)
	assert.Equal(t, []byte("hello"), got.data)
	none(t, ev.texts)
}

func TestServer_EchoFromHandler(t *testing.T) {
	srv := startServer(t, alternet.Handlers{
		OnReceiveBytes: func(e alternet.Endpoint, addr alternet.RemoteAddress, data []byte) {
			e.SendTo(addr, data)
		},
	})

	conn, _ := connect(t, srv)
	_, err := conn.Write([]byte("echo"))
	require.NoError(t, err)
	assert.Equal(t, []byte("echo"), readN(t, conn, 4))
}

func TestServer_SendToAll(t *testing.T) {
	srv := startServer(t, alternet.Handlers{})

	const peers = 5
	conns := make([]net.Conn, peers)
	for i := range conns {
		conns[i], _ = connect(t, srv)
	}

	payload := []byte("broadcast")
	n, err := srv.SendToAll(payload)
	require.NoError(t, err)
	assert.Equal(t, peers, n)

	for _, conn := range conns {
		assert.Equal(t, payload, readN(t, conn, len(payload)))
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(50*time.Millisecond)))
		_, err := conn.Read(make([]byte, 1))
		var netErr net.Error
		require.ErrorAs(t, err, &netErr, "each peer receives the payload once")
		assert.True(t, netErr.Timeout())
	}
}

func TestServer_DisconnectClient(t *testing.T) {
	ev := newEvents()
	srv := startServer(t, ev.handlers())

	a, addrA := connect(t, srv)
	b, addrB := connect(t, srv)
	_, addrC := connect(t, srv)
	require.Equal(t, 3, srv.NumConnectedClients())

	require.NoError(t, srv.DisconnectClient(addrC))
	assert.Equal(t, 2, srv.NumConnectedClients())
	assert.Equal(t, addrC, next(t, ev.disconnects))
	none(t, ev.disconnects)

	assert.ErrorIs(t, srv.DisconnectClient(addrC), alternet.ErrNotConnected)
	assert.ElementsMatch(t, []alternet.RemoteAddress{addrA, addrB}, srv.ConnectedClients())

	_, err := srv.SendTextTo(addrA, "a")
	require.NoError(t, err)
	_, err = srv.SendTextTo(addrB, "b")
	require.NoError(t, err)
	assert.Equal(t, []byte("a"), readN(t, a, 1))
	assert.Equal(t, []byte("b"), readN(t, b, 1))
}

func TestServer_PeerCloseTearsDownOnce(t *testing.T) {
	ev := newEvents()
	srv := startServer(t, ev.handlers())

	conn, addr := connect(t, srv)
	require.NoError(t, conn.Close())

	assert.Equal(t, addr, next(t, ev.disconnects))
	none(t, ev.disconnects)
	assert.Zero(t, srv.NumConnectedClients())

	_, err := srv.SendTo(addr, []byte("late"))
	assert.ErrorIs(t, err, alternet.ErrNotConnected)
}

func TestServer_Dispose(t *testing.T) {
	ev := newEvents()
	srv, err := alternet.NewServer(0, ev.handlers())
	require.NoError(t, err)

	conn, addr := connect(t, srv)
	next(t, ev.connects)

	require.NoError(t, srv.Dispose())
	require.NoError(t, srv.Dispose())
	assert.True(t, srv.Disposed())

	select {
	case <-srv.Done():
	case <-time.After(waitFor):
		t.Fatal("event loop did not stop")
	}

	_, err = srv.SendTo(addr, []byte("x"))
	assert.ErrorIs(t, err, alternet.ErrNotConnected)
	_, err = srv.SendToAll([]byte("x"))
	assert.ErrorIs(t, err, alternet.ErrDisposed)
	assert.Zero(t, srv.NumConnectedClients())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(waitFor)))
	_, err = conn.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF, "the server side is closed")

	_, err = net.Dial("tcp", "127.0.0.1:"+strconv.Itoa(srv.Port()))
	assert.Error(t, err, "the listener is closed")

	none(t, ev.disconnects)
	none(t, ev.bytes)
	none(t, ev.connects)
}

func TestServer_ConcurrentSendsRacingTeardown(t *testing.T) {
	ev := newEvents()
	srv := startServer(t, ev.handlers())

	a, addrA := connect(t, srv)
	b, addrB := connect(t, srv)
	c, addrC := connect(t, srv)
	for i := 0; i < 3; i++ {
		next(t, ev.connects)
	}

	const sends = 200
	var g errgroup.Group
	for _, addr := range []alternet.RemoteAddress{addrA, addrB} {
		addr := addr
		g.Go(func() error {
			for i := 0; i < sends; i++ {
				if _, err := srv.SendTextTo(addr, "x"); err != nil {
					return err
				}
			}
			return nil
		})
	}
	g.Go(c.Close)
	g.Go(func() error {
		_, err := io.ReadFull(a, make([]byte, sends))
		return err
	})
	g.Go(func() error {
		_, err := io.ReadFull(b, make([]byte, sends))
		return err
	})
	require.NoError(t, g.Wait())

	assert.Equal(t, addrC, next(t, ev.disconnects))
	assert.Equal(t, 2, srv.NumConnectedClients())
	assert.ElementsMatch(t, []alternet.RemoteAddress{addrA, addrB}, srv.ConnectedClients())
}

func TestServer_NumericSends(t *testing.T) {
	srv := startServer(t, alternet.Handlers{})
	conn, addr := connect(t, srv)

	tests := []struct {
		name string
		send func() (int, error)
		want string
	}{
		{name: "int", send: func() (int, error) { return srv.SendIntTo(addr, -42) }, want: "-42"},
		{name: "float", send: func() (int, error) { return srv.SendFloatTo(addr, 3.5) }, want: "3.5"},
		{name: "whole float", send: func() (int, error) { return srv.SendFloatTo(addr, 2) }, want: "2"},
		{name: "byte", send: func() (int, error) { return srv.SendByteTo(addr, -128) }, want: "-128"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := tt.send()
			require.NoError(t, err)
			assert.Equal(t, len(tt.want), n)
			assert.Equal(t, tt.want, string(readN(t, conn, len(tt.want))))
		})
	}
}

func TestServer_InvalidUTF8DroppedForText(t *testing.T) {
	ev := newEvents()
	srv := startServer(t, ev.handlers(), alternet.WithMode(protocol.ModeText))

	conn, _ := connect(t, srv)
	_, err := conn.Write([]byte{0xff, 0xfe})
	require.NoError(t, err)
	none(t, ev.texts)

	_, err = conn.Write([]byte("still open"))
	require.NoError(t, err)
	assert.Equal(t, "still open", next(t, ev.texts))
}

func TestServer_HandlerPanicKeepsLoop(t *testing.T) {
	got := make(chan string, 4)
	srv := startServer(t, alternet.Handlers{
		OnReceiveText: func(_ alternet.Endpoint, _ alternet.RemoteAddress, text string) {
			if text == "boom" {
				panic("boom")
			}
			got <- text
		},
	})

	conn, _ := connect(t, srv)
	_, err := conn.Write([]byte("boom"))
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)
	_, err = conn.Write([]byte("after"))
	require.NoError(t, err)
	assert.Equal(t, "after", next(t, got))
}

func TestNewServer_BindError(t *testing.T) {
	ln, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	srv, err := alternet.NewServer(port, alternet.Handlers{})
	require.Error(t, err)
	assert.Nil(t, srv)

	var bindErr *alternet.BindError
	require.ErrorAs(t, err, &bindErr)
	assert.Equal(t, port, bindErr.Port)
}

func TestServer_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	srv := startServer(t, alternet.Handlers{}, alternet.WithRegisterer(reg))

	conn, addr := connect(t, srv)
	_, err := conn.Write([]byte("abc"))
	require.NoError(t, err)
	_, err = srv.SendTo(addr, []byte("de"))
	require.NoError(t, err)
	readN(t, conn, 2)

	require.Eventually(t, func() bool {
		return gather(t, reg)["alternet_bytes_received_total"] == 3
	}, waitFor, tick)
	values := gather(t, reg)
	assert.Equal(t, 1.0, values["alternet_connections_active"])
	assert.Equal(t, 1.0, values["alternet_connections_total"])
	assert.Equal(t, 2.0, values["alternet_bytes_sent_total"])

	require.NoError(t, srv.Dispose())
	assert.Equal(t, 0.0, gather(t, reg)["alternet_connections_active"])
}

func gather(t *testing.T, reg *prometheus.Registry) map[string]float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	values := map[string]float64{}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			switch {
			case m.GetGauge() != nil:
				values[mf.GetName()] += m.GetGauge().GetValue()
			case m.GetCounter() != nil:
				values[mf.GetName()] += m.GetCounter().GetValue()
			}
		}
	}
	return values
}

func TestServer_SendToAllSkipsVanishedPeers(t *testing.T) {
	srv := startServer(t, alternet.Handlers{})
	a, _ := connect(t, srv)
	_, addrB := connect(t, srv)
	require.NoError(t, srv.DisconnectClient(addrB))

	n, err := srv.SendToAll([]byte("z"))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, bytes.Equal([]byte("z"), readN(t, a, 1)))
	assert.False(t, errors.Is(err, alternet.ErrNotConnected))
}
