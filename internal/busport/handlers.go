package busport

import (
	"strconv"
	"sync"

	"github.com/wirenboard/wb-mqtt-smartweb/internal/canframe"
	"github.com/wirenboard/wb-mqtt-smartweb/internal/metrics"
)

// handlerList is the shared handler-registration and dispatch logic used
// by every Port implementation (invariant: the handler list is mutated
// only while holding handlersMu; dispatch holds it too, spec.md §3
// invariant 5).
type handlerList struct {
	mu       sync.Mutex
	handlers []Handler
	mx       *metrics.Registry
}

// SetMetrics attaches the registry dispatch increments FramesReceived on.
func (l *handlerList) SetMetrics(mx *metrics.Registry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.mx = mx
}

func (l *handlerList) add(h Handler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handlers = append(l.handlers, h)
}

func (l *handlerList) remove(h Handler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, existing := range l.handlers {
		if existing == h {
			l.handlers = append(l.handlers[:i], l.handlers[i+1:]...)
			return
		}
	}
}

// dispatch calls each handler in registration order until one claims the
// frame (returns true). A panicking handler is recovered and treated as
// "did not claim", matching the do-not-crash-the-listener rule of
// spec.md §4.2.
func (l *handlerList) dispatch(f canframe.Frame, onPanic func(r any)) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.mx != nil {
		l.mx.FramesReceived.WithLabelValues(strconv.Itoa(int(f.Header().ProgramType))).Inc()
	}
	for _, h := range l.handlers {
		if claimed := safeHandle(h, f, onPanic); claimed {
			return true
		}
	}
	return false
}

func safeHandle(h Handler, f canframe.Frame, onPanic func(r any)) (claimed bool) {
	defer func() {
		if r := recover(); r != nil {
			if onPanic != nil {
				onPanic(r)
			}
			claimed = false
		}
	}()
	return h.Handle(f)
}
