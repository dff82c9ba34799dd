package system

import (
	"os"
	"unsafe"

	"github.com/fzft/go-wake-event/log"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// embeddedEventfdBackend has the semantics of eventfdBackend but goes
// through the eventfd/eventfd_read/eventfd_write call surface that embedded
// POSIX layers expose instead of plain read(2)/write(2) on a Go buffer.
type embeddedEventfdBackend struct{}

func eventfdCreate(initval uint, flags int) (int, error) {
	fd, _, errno := unix.Syscall(unix.SYS_EVENTFD2, uintptr(initval), uintptr(flags), 0)
	if errno != 0 {
		return -1, errno
	}
	return int(fd), nil
}

func eventfdRead(fd int, value *uint64) error {
	for {
		_, _, errno := unix.Syscall(unix.SYS_READ, uintptr(fd), uintptr(unsafe.Pointer(value)), unsafe.Sizeof(*value))
		if errno == unix.EINTR {
			continue
		}
		if errno != 0 {
			return errno
		}
		return nil
	}
}

func eventfdWrite(fd int, value uint64) error {
	for {
		_, _, errno := unix.Syscall(unix.SYS_WRITE, uintptr(fd), uintptr(unsafe.Pointer(&value)), unsafe.Sizeof(value))
		if errno == unix.EINTR {
			continue
		}
		if errno != 0 {
			return errno
		}
		return nil
	}
}

func (embeddedEventfdBackend) open(w *WakeEvent) error {
	fd, err := eventfdCreate(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		log.Logger.Error("Failed to create eventfd", zap.Error(err))
		return newWakeError(ResourceExhausted, "open", os.NewSyscallError("eventfd", err))
	}
	w.readFD, w.writeFD = fd, fd
	return nil
}

func (embeddedEventfdBackend) notify(w *WakeEvent) error {
	if err := eventfdWrite(w.writeFD, 1); err != nil && !isWouldBlock(err) {
		return newWakeError(OSFailure, "notify", os.NewSyscallError("eventfd_write", err))
	}
	return nil
}

func (embeddedEventfdBackend) confirm(w *WakeEvent) {
	var value uint64
	if err := eventfdRead(w.readFD, &value); err != nil && !isWouldBlock(err) {
		log.Logger.Error("System wake event confirm failed",
			zap.Stringer("backend", w.kind), zap.Error(os.NewSyscallError("eventfd_read", err)))
	}
}
