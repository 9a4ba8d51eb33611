//go:build linux

package poll

import (
	"encoding/binary"
	"errors"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// Poller is an epoll instance plus an eventfd used to interrupt Wait.
type Poller struct {
	epfd   int
	wakefd int
	raw    []unix.EpollEvent
	ready  []Event
	closed bool
	mu     sync.RWMutex
}

// New creates a Poller reporting at most maxEvents events per Wait.
func New(maxEvents int) (*Poller, error) {
	if maxEvents <= 0 {
		maxEvents = 128
	}
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, os.NewSyscallError("epoll_create1", err)
	}
	wakefd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(epfd)
		return nil, os.NewSyscallError("eventfd", err)
	}
	p := &Poller{
		epfd:   epfd,
		wakefd: wakefd,
		raw:    make([]unix.EpollEvent, maxEvents),
		ready:  make([]Event, 0, maxEvents),
	}
	if err := p.Add(wakefd, WakeToken); err != nil {
		unix.Close(wakefd)
		unix.Close(epfd)
		return nil, err
	}
	return p, nil
}

// Add starts watching fd for read readiness. Readiness is level triggered:
// a descriptor keeps being reported until it has been drained.
func (p *Poller) Add(fd int, token uint32) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN | unix.EPOLLRDHUP, Fd: int32(token)}
	return os.NewSyscallError("epoll_ctl", unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev))
}

// Remove stops watching fd. Removing a descriptor that is not watched is
// not an error. Remove must be called before fd is closed.
func (p *Poller) Remove(fd int) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return nil
	}
	err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, &unix.EpollEvent{})
	if errors.Is(err, unix.ENOENT) || errors.Is(err, unix.EBADF) {
		return nil
	}
	return os.NewSyscallError("epoll_ctl", err)
}

// Wait blocks until at least one descriptor is ready or Wake is called.
// The returned slice is reused by the next call. A Wake alone yields an
// empty slice.
func (p *Poller) Wait() ([]Event, error) {
	n, err := unix.EpollWait(p.epfd, p.raw, -1)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return p.ready[:0], nil
		}
		return nil, os.NewSyscallError("epoll_wait", err)
	}
	ready := p.ready[:0]
	for i := 0; i < n; i++ {
		ev := p.raw[i]
		token := uint32(ev.Fd)
		if token == WakeToken {
			p.drainWake()
			continue
		}
		ready = append(ready, Event{Token: token})
	}
	p.ready = ready
	return ready, nil
}

// Wake makes a blocked or the next Wait return.
func (p *Poller) Wake() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], 1)
	_, err := unix.Write(p.wakefd, buf[:])
	if err != nil && !errors.Is(err, unix.EAGAIN) {
		return os.NewSyscallError("write", err)
	}
	return nil
}

func (p *Poller) drainWake() {
	var buf [8]byte
	for {
		if _, err := unix.Read(p.wakefd, buf[:]); err != nil {
			return
		}
	}
}

// Close releases the epoll instance. It must not race with Wait; the
// goroutine driving Wait closes the Poller once it is done with it.
func (p *Poller) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	err := unix.Close(p.wakefd)
	if cerr := unix.Close(p.epfd); err == nil {
		err = cerr
	}
	return os.NewSyscallError("close", err)
}
