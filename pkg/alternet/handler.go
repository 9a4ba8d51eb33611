package alternet

import (
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/omochice/alternet/internal/loop"
	"github.com/omochice/alternet/internal/metrics"
	"github.com/omochice/alternet/pkg/protocol"
)

// Endpoint is the Server or Client an event belongs to. Handlers may send
// through it; they run on the loop goroutine, so a send that blocks stalls
// the endpoint until it completes.
type Endpoint interface {
	SendTo(addr RemoteAddress, data []byte) (int, error)
	DisconnectClient(addr RemoteAddress) error
	NumConnectedClients() int
	Dispose() error
}

// Handlers is the set of events an application wants. Every field is
// optional; a nil field means the event is not delivered. When both receive
// handlers are set, both run for every unit, bytes first.
type Handlers struct {
	OnConnect        func(e Endpoint, addr RemoteAddress)
	OnDisconnect     func(e Endpoint, addr RemoteAddress)
	OnReceiveBytes   func(e Endpoint, addr RemoteAddress, data []byte)
	OnReceiveText    func(e Endpoint, addr RemoteAddress, text string)
	OnReceiveMessage func(e Endpoint, addr RemoteAddress, msg *protocol.Message)
}

// ConnectHandler is implemented by hosts that want connect events.
type ConnectHandler interface {
	OnConnect(e Endpoint, addr RemoteAddress)
}

// DisconnectHandler is implemented by hosts that want disconnect events.
type DisconnectHandler interface {
	OnDisconnect(e Endpoint, addr RemoteAddress)
}

// BytesHandler is implemented by hosts that want every unit as bytes.
type BytesHandler interface {
	OnReceiveBytes(e Endpoint, addr RemoteAddress, data []byte)
}

// TextHandler is implemented by hosts that want every unit as text.
type TextHandler interface {
	OnReceiveText(e Endpoint, addr RemoteAddress, text string)
}

// MessageHandler is implemented by hosts that want framed units decoded
// as structured messages.
type MessageHandler interface {
	OnReceiveMessage(e Endpoint, addr RemoteAddress, msg *protocol.Message)
}

// HandlersFrom builds Handlers from whichever handler interfaces host
// implements. The check happens once, here.
func HandlersFrom(host any) Handlers {
	var h Handlers
	if v, ok := host.(ConnectHandler); ok {
		h.OnConnect = v.OnConnect
	}
	if v, ok := host.(DisconnectHandler); ok {
		h.OnDisconnect = v.OnDisconnect
	}
	if v, ok := host.(BytesHandler); ok {
		h.OnReceiveBytes = v.OnReceiveBytes
	}
	if v, ok := host.(TextHandler); ok {
		h.OnReceiveText = v.OnReceiveText
	}
	if v, ok := host.(MessageHandler); ok {
		h.OnReceiveMessage = v.OnReceiveMessage
	}
	return h
}

// dispatcher adapts Handlers to the loop's sink for one endpoint. Events
// wait for ready, which the endpoint closes once it is fully constructed.
type dispatcher struct {
	ready   chan struct{}
	h       Handlers
	e       Endpoint
	mode    protocol.Mode
	log     *zap.Logger
	metrics *metrics.Metrics
}

func (d *dispatcher) sink() loop.Sink {
	var s loop.Sink
	if d.h.OnConnect != nil {
		s.Connect = func(addr RemoteAddress) {
			<-d.ready
			d.h.OnConnect(d.e, addr)
		}
	}
	if d.h.OnDisconnect != nil {
		s.Disconnect = func(addr RemoteAddress) {
			<-d.ready
			d.h.OnDisconnect(d.e, addr)
		}
	}
	if d.h.OnReceiveBytes != nil || d.h.OnReceiveText != nil || d.h.OnReceiveMessage != nil {
		s.Unit = d.unit
	}
	return s
}

func (d *dispatcher) unit(addr RemoteAddress, data []byte) {
	<-d.ready
	if d.h.OnReceiveBytes != nil {
		d.h.OnReceiveBytes(d.e, addr, data)
	}
	if d.h.OnReceiveText != nil {
		d.text(addr, data)
	}
	if d.h.OnReceiveMessage != nil && d.mode == protocol.ModeFramed {
		d.message(addr, data)
	}
}

func (d *dispatcher) text(addr RemoteAddress, data []byte) {
	// Text mode has validated the unit already.
	if d.mode != protocol.ModeText && !utf8.Valid(data) {
		d.dropped(addr, &protocol.DecodeError{Mode: protocol.ModeText, Err: protocol.ErrInvalidUTF8})
		return
	}
	d.h.OnReceiveText(d.e, addr, string(data))
}

func (d *dispatcher) message(addr RemoteAddress, data []byte) {
	msg := &protocol.Message{}
	if err := msg.Decode(data); err != nil {
		d.dropped(addr, &protocol.DecodeError{Mode: protocol.ModeFramed, Err: err})
		return
	}
	d.h.OnReceiveMessage(d.e, addr, msg)
}

func (d *dispatcher) dropped(addr RemoteAddress, err error) {
	d.metrics.DecodeFailed()
	d.log.Warn("dropped undecodable unit", zap.Stringer("remote", addr), zap.Error(err))
}
