// Package busport owns the single physical CAN bus socket shared by every
// gateway (spec.md §4.2). It fans inbound frames out to registered
// handlers in insertion order, stopping at the first handler that claims
// a frame, and serializes outbound writes behind a loopback-confirmation
// wait so every Send has per-frame flow control without a kernel ACK.
package busport

import (
	"errors"
	"time"

	"github.com/wirenboard/wb-mqtt-smartweb/internal/canframe"
	"github.com/wirenboard/wb-mqtt-smartweb/internal/metrics"
)

// WriteTimeout is how long Send waits for loopback confirmation before
// failing (spec.md §4.2).
const WriteTimeout = 5 * time.Second

// ErrWriteTimeout is returned by Send when no loopback confirmation
// arrives within WriteTimeout.
var ErrWriteTimeout = errors.New("busport: write-confirm timeout")

// Handler claims and processes inbound frames. Handle returns true if it
// claimed the frame, which stops dispatch to any later-registered handler.
type Handler interface {
	Handle(f canframe.Frame) bool
}

// HandlerFunc adapts a plain function to a Handler.
type HandlerFunc func(f canframe.Frame) bool

func (fn HandlerFunc) Handle(f canframe.Frame) bool { return fn(f) }

// Port is the bus transport every gateway depends on. It is implemented
// by SocketCANPort (real Linux SocketCAN) and by Loopback (an in-memory
// stand-in used by tests and non-Linux builds).
type Port interface {
	// AddHandler registers h to receive inbound frames. Handlers are
	// tried in registration order; the first to return true from Handle
	// stops dispatch.
	AddHandler(h Handler)
	// RemoveHandler deregisters h. A no-op if h was never registered.
	RemoveHandler(h Handler)
	// SetMetrics attaches a metrics registry so every dispatched inbound
	// frame increments FramesReceived. A nil registry (the default) makes
	// dispatch a no-op for metrics, so tests needn't supply one.
	SetMetrics(mx *metrics.Registry)
	// Send blocks until the frame's loopback confirmation arrives,
	// returns ErrWriteTimeout after WriteTimeout, or returns an OS error
	// on write failure.
	Send(f canframe.Frame) error
	// Close stops the listener and releases the underlying socket.
	Close() error
}
