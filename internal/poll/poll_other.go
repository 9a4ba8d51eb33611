//go:build !linux

package poll

// Poller is unavailable on this platform; New always fails.
type Poller struct{}

// New reports ErrUnsupported.
func New(maxEvents int) (*Poller, error) {
	return nil, ErrUnsupported
}

func (p *Poller) Add(fd int, token uint32) error { return ErrUnsupported }

func (p *Poller) Remove(fd int) error { return nil }

func (p *Poller) Wait() ([]Event, error) { return nil, ErrUnsupported }

func (p *Poller) Wake() error { return ErrUnsupported }

func (p *Poller) Close() error { return nil }
