//go:build !linux

package tcp

import (
	"errors"
	"net"
	"syscall"
)

var errUnsupported = errors.New("tcp: non-blocking I/O not supported on this platform")

func readNonblock(raw syscall.RawConn, buf []byte) (int, error) {
	return 0, errUnsupported
}

func acceptNonblock(raw syscall.RawConn) (*net.TCPConn, error) {
	return nil, errUnsupported
}
