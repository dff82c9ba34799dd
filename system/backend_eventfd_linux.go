package system

import (
	"os"
	"unsafe"

	"github.com/fzft/go-wake-event/log"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// eventfdBackend uses one eventfd for both sides. Each Notify adds 1 to the
// kernel counter and Confirm reads and resets it in one syscall.
type eventfdBackend struct{}

func (eventfdBackend) open(w *WakeEvent) error {
	fd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		log.Logger.Error("Failed to create eventfd", zap.Error(err))
		return newWakeError(ResourceExhausted, "open", os.NewSyscallError("eventfd", err))
	}
	w.readFD, w.writeFD = fd, fd
	return nil
}

func (eventfdBackend) notify(w *WakeEvent) error {
	one := uint64(1)
	buf := (*(*[8]byte)(unsafe.Pointer(&one)))[:]
	for {
		_, err := unix.Write(w.writeFD, buf)
		switch {
		case err == nil, isWouldBlock(err):
			// EAGAIN: the counter is saturated, a wake is pending anyway
			return nil
		case err == unix.EINTR:
			continue
		default:
			return newWakeError(OSFailure, "notify", os.NewSyscallError("write", err))
		}
	}
}

func (eventfdBackend) confirm(w *WakeEvent) {
	var value uint64
	buf := (*(*[8]byte)(unsafe.Pointer(&value)))[:]
	for {
		_, err := unix.Read(w.readFD, buf)
		if err == unix.EINTR {
			continue
		}
		if err != nil && !isWouldBlock(err) {
			log.Logger.Error("System wake event confirm failed",
				zap.Stringer("backend", w.kind), zap.Error(os.NewSyscallError("read", err)))
		}
		return
	}
}
