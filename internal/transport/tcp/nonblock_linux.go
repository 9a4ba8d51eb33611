//go:build linux

package tcp

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// The read callback always returns true, so the runtime never parks the
// caller waiting for readiness: readiness is the poller's job.

func readNonblock(raw syscall.RawConn, buf []byte) (int, error) {
	var (
		n    int
		rerr error
	)
	err := raw.Read(func(fd uintptr) bool {
		n, rerr = unix.Read(int(fd), buf)
		return true
	})
	if err != nil {
		return 0, err
	}
	switch {
	case rerr == nil && n == 0:
		return 0, io.EOF
	case rerr == nil:
		return n, nil
	case errors.Is(rerr, unix.EAGAIN), errors.Is(rerr, unix.EINTR):
		return 0, ErrWouldBlock
	default:
		return 0, os.NewSyscallError("read", rerr)
	}
}

func acceptNonblock(raw syscall.RawConn) (*net.TCPConn, error) {
	var (
		nfd  int
		aerr error
	)
	// A listener's RawConn rejects Read, so accept through Control.
	err := raw.Control(func(fd uintptr) {
		nfd, _, aerr = unix.Accept4(int(fd), unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	})
	if err != nil {
		return nil, err
	}
	if aerr != nil {
		if errors.Is(aerr, unix.EAGAIN) || errors.Is(aerr, unix.EINTR) || errors.Is(aerr, unix.ECONNABORTED) {
			return nil, ErrWouldBlock
		}
		return nil, os.NewSyscallError("accept4", aerr)
	}

	// FileConn duplicates the descriptor and hands it to the runtime.
	f := os.NewFile(uintptr(nfd), "tcp")
	nc, err := net.FileConn(f)
	f.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to wrap accepted connection: %w", err)
	}
	tc, ok := nc.(*net.TCPConn)
	if !ok {
		nc.Close()
		return nil, fmt.Errorf("failed to wrap accepted connection: unexpected type %T", nc)
	}
	return tc, nil
}
