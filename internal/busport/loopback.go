package busport

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/wirenboard/wb-mqtt-smartweb/internal/canframe"
)

// Loopback is an in-memory Port: every Send is immediately visible to its
// own handlers, exactly like a real SocketCAN socket with loopback and
// receive-own-messages enabled. It exists so gateway logic can be tested
// without a kernel CAN interface, and doubles as the transport on
// platforms without SocketCAN.
type Loopback struct {
	handlerList

	mu     sync.Mutex
	closed bool
	sent   []canframe.Frame // frames accepted by Send, for assertions in tests
}

// NewLoopback creates a ready-to-use in-memory bus port.
func NewLoopback() *Loopback {
	return &Loopback{}
}

func (p *Loopback) AddHandler(h Handler)    { p.add(h) }
func (p *Loopback) RemoveHandler(h Handler) { p.remove(h) }

// Send dispatches f to registered handlers synchronously, as if it had
// been looped back by the bus, then returns nil.
func (p *Loopback) Send(f canframe.Frame) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrWriteTimeout
	}
	p.sent = append(p.sent, f)
	p.mu.Unlock()

	p.dispatch(f, func(r any) {
		logrus.WithField("recover", r).Warn("busport: handler panicked")
	})
	return nil
}

// Sent returns every frame accepted by Send so far, for test assertions.
func (p *Loopback) Sent() []canframe.Frame {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]canframe.Frame, len(p.sent))
	copy(out, p.sent)
	return out
}

// Deliver injects f as if it had arrived from the bus (i.e. from a peer,
// not our own loopback), for test setup.
func (p *Loopback) Deliver(f canframe.Frame) bool {
	return p.dispatch(f, func(r any) {
		logrus.WithField("recover", r).Warn("busport: handler panicked")
	})
}

func (p *Loopback) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}
