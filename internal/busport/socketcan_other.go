//go:build !linux

package busport

import "github.com/sirupsen/logrus"

// Open is unavailable outside Linux (SocketCAN is a Linux-only kernel
// subsystem); callers on other platforms should use NewLoopback for
// development and testing.
func Open(iface string, logger *logrus.Entry) (*Loopback, error) {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	logger.WithField("iface", iface).Warn("busport: SocketCAN unavailable on this platform, using in-memory loopback")
	return NewLoopback(), nil
}
