//go:build linux

package busport

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/wirenboard/wb-mqtt-smartweb/internal/canframe"
)

const (
	canFrameSize  = 16 // sizeof(struct can_frame)
	canEFFFlag    = 0x80000000
	canEFFMask    = 0x1FFFFFFF
	readinessWait = time.Second
)

// SocketCANPort is the real Bus Port transport: a raw AF_CAN/SOCK_RAW
// socket bound to a named interface, with loopback and receive-own-
// messages enabled so that Send's own write is locally visible as its
// confirmation (spec.md §4.2 rationale).
type SocketCANPort struct {
	handlerList

	fd     int
	iface  string
	logger *logrus.Entry

	writeMu   sync.Mutex
	writeCond *sync.Cond
	confirmed bool

	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

// Open binds a SocketCANPort to the named CAN interface (e.g. "can0") and
// starts its listener goroutine.
func Open(iface string, logger *logrus.Entry) (*SocketCANPort, error) {
	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, unix.CAN_RAW)
	if err != nil {
		return nil, fmt.Errorf("busport: socket: %w", err)
	}

	one := 1
	if err := unix.SetsockoptInt(fd, unix.SOL_CAN_RAW, unix.CAN_RAW_LOOPBACK, one); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("busport: enable loopback: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_CAN_RAW, unix.CAN_RAW_RECV_OWN_MSGS, one); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("busport: enable recv-own-msgs: %w", err)
	}

	ifi, err := unix.IfNameToIndex(iface)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("busport: interface %q: %w", iface, err)
	}
	addr := &unix.SockaddrCAN{Ifindex: ifi}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("busport: bind %q: %w", iface, err)
	}

	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	p := &SocketCANPort{
		fd:     fd,
		iface:  iface,
		logger: logger.WithField("component", "busport"),
		done:   make(chan struct{}),
	}
	p.writeCond = sync.NewCond(&p.writeMu)

	p.wg.Add(1)
	go p.listen()
	return p, nil
}

func (p *SocketCANPort) AddHandler(h Handler)    { p.add(h) }
func (p *SocketCANPort) RemoveHandler(h Handler) { p.remove(h) }

// listen waits for readiness (~1s), reads one frame, and either routes it
// to Send's confirmation wait (own-message loopback) or dispatches it to
// handlers. It never exits on a handler error; an unexpected read error
// is fatal, since the bus is a hard dependency.
func (p *SocketCANPort) listen() {
	defer p.wg.Done()
	buf := make([]byte, canFrameSize)
	oob := make([]byte, 64)

	for {
		select {
		case <-p.done:
			return
		default:
		}

		ready, err := p.pollReadable(readinessWait)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			p.logger.WithError(err).Fatal("busport: poll failed, bus is a hard dependency")
		}
		if !ready {
			continue
		}

		n, oobn, flags, _, err := unix.Recvmsg(p.fd, buf, oob, 0)
		if err != nil {
			if err == unix.EINTR || err == unix.EAGAIN {
				continue
			}
			p.logger.WithError(err).Fatal("busport: read failed, bus is a hard dependency")
		}
		if n < canFrameSize {
			continue
		}
		_ = oobn

		frame, err := decodeWireFrame(buf[:n])
		if err != nil {
			p.logger.WithError(err).Debug("busport: malformed frame, dropping")
			continue
		}

		if flags&unix.MSG_CONFIRM != 0 {
			p.writeMu.Lock()
			p.confirmed = true
			p.writeCond.Broadcast()
			p.writeMu.Unlock()
			continue
		}

		p.dispatch(frame, func(r any) {
			p.logger.WithField("recover", r).Warn("busport: handler panicked")
		})
	}
}

func (p *SocketCANPort) pollReadable(timeout time.Duration) (bool, error) {
	fds := []unix.PollFd{{Fd: int32(p.fd), Events: unix.POLLIN}}
	n, err := unix.Poll(fds, int(timeout.Milliseconds()))
	if err != nil {
		return false, err
	}
	return n > 0 && fds[0].Revents&unix.POLLIN != 0, nil
}

// Send writes f to the bus and blocks for its loopback confirmation.
func (p *SocketCANPort) Send(f canframe.Frame) error {
	p.writeMu.Lock()
	p.confirmed = false
	wire := encodeWireFrame(f)
	n, err := unix.Write(p.fd, wire)
	if err != nil {
		p.writeMu.Unlock()
		return fmt.Errorf("busport: write: %w", err)
	}
	if n != len(wire) {
		p.writeMu.Unlock()
		return fmt.Errorf("busport: short write: %d of %d bytes", n, len(wire))
	}

	deadline := time.Now().Add(WriteTimeout)
	for !p.confirmed {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			p.writeMu.Unlock()
			return ErrWriteTimeout
		}
		timer := time.AfterFunc(remaining, func() {
			p.writeMu.Lock()
			p.writeCond.Broadcast()
			p.writeMu.Unlock()
		})
		p.writeCond.Wait()
		timer.Stop()
	}
	p.writeMu.Unlock()
	return nil
}

func (p *SocketCANPort) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.done)
		err = unix.Close(p.fd)
		p.wg.Wait()
	})
	return err
}

// encodeWireFrame packs a Frame into the 16-byte struct can_frame layout:
// canid_t (4, LE, with the extended-frame flag set), can_dlc, 3 reserved
// bytes, then 8 data bytes.
func encodeWireFrame(f canframe.Frame) []byte {
	buf := make([]byte, canFrameSize)
	id := (f.ID & canEFFMask) | canEFFFlag
	buf[0] = byte(id)
	buf[1] = byte(id >> 8)
	buf[2] = byte(id >> 16)
	buf[3] = byte(id >> 24)
	buf[4] = f.Length
	copy(buf[8:], f.Data[:])
	return buf
}

func decodeWireFrame(buf []byte) (canframe.Frame, error) {
	if len(buf) < canFrameSize {
		return canframe.Frame{}, fmt.Errorf("busport: short frame: %d bytes", len(buf))
	}
	id := uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16 | uint32(buf[3])<<24
	length := buf[4]
	if length > 8 {
		length = 8
	}
	f := canframe.Frame{ID: id & canEFFMask, Length: length}
	copy(f.Data[:], buf[8:16])
	return f, nil
}
