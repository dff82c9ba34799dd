package system

import (
	"os"

	"github.com/fzft/go-wake-event/log"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// confirmBufferSize bounds each read while draining a pipe or FIFO.
const confirmBufferSize = 128

var wakeByte = []byte{1}

type pipeBackend struct{}

func (pipeBackend) open(w *WakeEvent) error {
	var fds [2]int
	// O_NONBLOCK on both ends: Notify must never block on a full pipe and
	// Confirm must stop once the pipe is empty.
	if err := unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		log.Logger.Error("Failed to create wake pipe", zap.Error(err))
		return newWakeError(ResourceExhausted, "open", os.NewSyscallError("pipe2", err))
	}
	w.readFD, w.writeFD = fds[0], fds[1]
	return nil
}

func (pipeBackend) notify(w *WakeEvent) error {
	if err := writeWakeByte(w.writeFD); err != nil {
		return newWakeError(OSFailure, "notify", os.NewSyscallError("write", err))
	}
	return nil
}

func (pipeBackend) confirm(w *WakeEvent) {
	if err := drainPipe(w.readFD); err != nil {
		log.Logger.Error("System wake event confirm failed",
			zap.Stringer("backend", w.kind), zap.Error(err))
	}
}

// writeWakeByte writes a single byte. A full pipe already guarantees a wake,
// so EAGAIN counts as success.
func writeWakeByte(fd int) error {
	for {
		_, err := unix.Write(fd, wakeByte)
		switch {
		case err == nil, isWouldBlock(err):
			return nil
		case err == unix.EINTR:
			continue
		default:
			return err
		}
	}
}

// drainPipe reads until the pipe is empty.
func drainPipe(fd int) error {
	var buf [confirmBufferSize]byte
	for {
		n, err := unix.Read(fd, buf[:])
		switch {
		case err == unix.EINTR:
			continue
		case isWouldBlock(err):
			return nil
		case err != nil:
			return os.NewSyscallError("read", err)
		case n == 0:
			// every writer is gone
			return nil
		}
	}
}
