package alternet

import (
	"errors"

	"go.uber.org/multierr"

	"github.com/omochice/alternet/internal/loop"
	"github.com/omochice/alternet/pkg/protocol"
)

// sender is the synchronous write path shared by Server and Client.
type sender struct {
	loop *loop.Loop
	mode protocol.Mode
}

func (s sender) sendTo(addr RemoteAddress, data []byte) (int, error) {
	n, err := s.loop.Send(addr, data)
	return n, sendError(addr, err)
}

// sendToAll writes data to every peer registered when it is called, one
// after the other. A failing peer does not stop the rest; peers that
// disconnected meanwhile are skipped. It returns how many peers received
// all of data.
func (s sender) sendToAll(data []byte) (int, error) {
	if s.loop.State() == loop.StateDisposed {
		return 0, ErrDisposed
	}
	var (
		delivered int
		errs      error
	)
	for _, addr := range s.loop.Peers() {
		_, err := s.sendTo(addr, data)
		switch {
		case err == nil:
			delivered++
		case errors.Is(err, ErrNotConnected):
		default:
			errs = multierr.Append(errs, err)
		}
	}
	return delivered, errs
}

func (s sender) encode(msg *protocol.Message) ([]byte, error) {
	if s.mode != protocol.ModeFramed {
		return nil, ErrNotFramed
	}
	return msg.Encode()
}

func (s sender) disconnect(addr RemoteAddress) error {
	if err := s.loop.Disconnect(addr); err != nil {
		return ErrNotConnected
	}
	return nil
}
