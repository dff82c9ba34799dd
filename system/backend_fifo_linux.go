package system

import (
	"errors"
	"fmt"
	"os"

	"github.com/fzft/go-wake-event/log"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

var errNotFifo = errors.New("not a fifo")

// fifoBackend works like pipeBackend but both ends are opened on a path, so
// producers in other processes can open their own writer.
type fifoBackend struct{}

func (fifoBackend) open(w *WakeEvent) error {
	path := w.opts.fifoPath

	if err := unix.Mkfifo(path, uint32(w.opts.fifoMode)); err != nil {
		if err != unix.EEXIST {
			log.Logger.Error("System wake event failed to create fifo", zap.String("path", path), zap.Error(err))
			return newWakeError(PermissionOrPath, "mkfifo", &os.PathError{Op: "mkfifo", Path: path, Err: err})
		}
		if err := checkFifo(path); err != nil {
			return newWakeError(PermissionOrPath, "mkfifo", err)
		}
	}

	// The reader has to exist first: a non-blocking writer open fails with
	// ENXIO while nobody is reading.
	rfd, err := unix.Open(path, unix.O_RDONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		log.Logger.Error("System wake event failed to open fifo", zap.String("path", path), zap.Error(err))
		return newWakeError(PermissionOrPath, "open", &os.PathError{Op: "open", Path: path, Err: err})
	}

	wfd, err := unix.Open(path, unix.O_WRONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		log.Logger.Error("System wake event failed to open fifo", zap.String("path", path), zap.Error(err))
		if cerr := unix.Close(rfd); cerr != nil {
			log.Logger.Error("Failed to close fifo reader", zap.Error(cerr))
		}
		return newWakeError(PermissionOrPath, "open", &os.PathError{Op: "open", Path: path, Err: err})
	}

	w.readFD, w.writeFD = rfd, wfd
	return nil
}

func checkFifo(path string) error {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return &os.PathError{Op: "stat", Path: path, Err: err}
	}
	if st.Mode&unix.S_IFMT != unix.S_IFIFO {
		return &os.PathError{Op: "mkfifo", Path: path, Err: errNotFifo}
	}
	return nil
}

// notify writes through the long-lived writer. If that write fails for any
// reason other than a full FIFO, one fresh writer is opened and tried.
func (fifoBackend) notify(w *WakeEvent) error {
	err := writeWakeByte(w.writeFD)
	if err == nil {
		return nil
	}
	log.Logger.Debug("wake fifo write failed, reopening writer",
		zap.String("path", w.opts.fifoPath), zap.Error(err))

	path := w.opts.fifoPath
	fd, err := unix.Open(path, unix.O_WRONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		log.Logger.Error("Notify event failed to open fifo", zap.String("path", path), zap.Error(err))
		return newWakeError(OSFailure, "notify", &os.PathError{Op: "open", Path: path, Err: err})
	}

	werr := writeWakeByte(fd)
	if cerr := unix.Close(fd); cerr != nil {
		log.Logger.Warn("Failed to close retry writer", zap.Int("fd", fd), zap.Error(cerr))
	}
	if werr != nil {
		log.Logger.Error("Failed to notify event by fifo", zap.String("path", path), zap.Error(werr))
		return newWakeError(OSFailure, "notify", fmt.Errorf("retry write %s: %w", path, werr))
	}
	return nil
}

func (fifoBackend) confirm(w *WakeEvent) {
	if err := drainPipe(w.readFD); err != nil {
		log.Logger.Error("System wake event confirm failed",
			zap.Stringer("backend", w.kind), zap.String("path", w.opts.fifoPath), zap.Error(err))
	}
}
