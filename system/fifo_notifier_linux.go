package system

import (
	"os"

	"github.com/fzft/go-wake-event/log"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// FifoNotifier is a producer in another process than the WakeEvent. It
// wakes a NamedFifo wake event through its rendezvous path.
type FifoNotifier struct {
	path string
	fd   int
}

// OpenFifoNotifier opens a non-blocking writer on path. It fails with
// OSFailure wrapping ENXIO when no wake event is reading the FIFO, and with
// PermissionOrPath when the path is missing, not a FIFO or not writable.
func OpenFifoNotifier(path string) (*FifoNotifier, error) {
	if err := checkFifo(path); err != nil {
		return nil, newWakeError(PermissionOrPath, "open", err)
	}

	fd, err := unix.Open(path, unix.O_WRONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		kind := PermissionOrPath
		if err == unix.ENXIO {
			kind = OSFailure
		}
		return nil, newWakeError(kind, "open", &os.PathError{Op: "open", Path: path, Err: err})
	}
	return &FifoNotifier{path: path, fd: fd}, nil
}

// Notify writes one wake byte. A full FIFO is not an error.
func (n *FifoNotifier) Notify() error {
	if err := writeWakeByte(n.fd); err != nil {
		log.Logger.Debug("Failed to notify event by fifo", zap.String("path", n.path), zap.Error(err))
		return newWakeError(OSFailure, "notify", &os.PathError{Op: "write", Path: n.path, Err: err})
	}
	return nil
}

func (n *FifoNotifier) Path() string {
	return n.path
}

func (n *FifoNotifier) Close() error {
	if n.fd < 0 {
		return nil
	}
	err := unix.Close(n.fd)
	n.fd = -1
	return os.NewSyscallError("close", err)
}
