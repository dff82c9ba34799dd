// Package system holds the wake event that lets any goroutine, or another
// process, interrupt a goroutine blocked in a socket multiplexer.
package system

import (
	"fmt"
	"os"

	"github.com/fzft/go-wake-event/log"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// wakeBackend is implemented once per Backend value.
type wakeBackend interface {
	// open allocates w.readFD and w.writeFD.
	open(w *WakeEvent) error
	notify(w *WakeEvent) error
	// confirm drains everything pending on w.readFD and only logs failures.
	confirm(w *WakeEvent)
}

func newBackend(kind Backend) (wakeBackend, error) {
	switch kind {
	case BackendPipe:
		return pipeBackend{}, nil
	case BackendNamedFifo:
		return fifoBackend{}, nil
	case BackendEventFd:
		return eventfdBackend{}, nil
	case BackendEmbeddedEventFd:
		return embeddedEventfdBackend{}, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownBackend, uint8(kind))
	}
}

// WakeEvent wakes the goroutine that runs a Layer.
//
// Notify and Confirm never modify the WakeEvent itself; they only change the
// signal state of the kernel object behind its descriptors. That is why
// Notify may be called from any goroutine without further locking. Confirm
// belongs to the goroutine running the Layer.
type WakeEvent struct {
	readFD  int
	writeFD int
	token   WatchToken
	kind    Backend
	ops     wakeBackend
	opts    options
}

// NewWakeEvent returns an unopened WakeEvent using DefaultBackend.
func NewWakeEvent(opts ...Option) *WakeEvent {
	w, err := newWakeEvent(DefaultBackend, opts...)
	if err != nil {
		// DefaultBackend is always one of the known constants.
		panic(err)
	}
	return w
}

func newWakeEvent(kind Backend, opts ...Option) (*WakeEvent, error) {
	ops, err := newBackend(kind)
	if err != nil {
		return nil, err
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &WakeEvent{
		readFD:  -1,
		writeFD: -1,
		token:   InvalidWatch,
		kind:    kind,
		ops:     ops,
		opts:    o,
	}, nil
}

// Open allocates the descriptors, registers the read side with layer and
// arms it so that Confirm runs whenever a wake is pending. It must succeed
// exactly once before Notify or Confirm are used.
func (w *WakeEvent) Open(layer Layer) error {
	if err := w.ops.open(w); err != nil {
		return err
	}

	if err := w.watch(layer); err != nil {
		if rerr := w.release(layer); rerr != nil {
			log.Logger.Error("Failed to release wake event after open failure", zap.Error(rerr))
		}
		return err
	}

	log.Logger.Debug("wake event opened",
		zap.Stringer("backend", w.kind),
		zap.Int("readFd", w.readFD),
		zap.Int("writeFd", w.writeFD))
	return nil
}

func (w *WakeEvent) watch(layer Layer) error {
	token, err := layer.StartWatchingSocket(w.readFD)
	if err != nil {
		return newWakeError(OSFailure, "start watching", err)
	}
	w.token = token

	if err := layer.SetCallback(token, confirmCallback, w); err != nil {
		return newWakeError(OSFailure, "set callback", err)
	}

	if err := layer.RequestCallbackOnPendingRead(token); err != nil {
		return newWakeError(OSFailure, "request pending read", err)
	}
	return nil
}

func confirmCallback(_ SocketEvents, data any) {
	data.(*WakeEvent).Confirm()
}

// release stops watching and then closes the descriptors.
func (w *WakeEvent) release(layer Layer) error {
	if w.token != InvalidWatch {
		layer.StopWatchingSocket(&w.token)
	}

	var err error
	if w.readFD >= 0 {
		err = multierr.Append(err, os.NewSyscallError("close", closeFd(w.readFD)))
	}
	if w.writeFD >= 0 && w.writeFD != w.readFD {
		err = multierr.Append(err, os.NewSyscallError("close", closeFd(w.writeFD)))
	}
	w.readFD = -1
	w.writeFD = -1
	return err
}

// Close deregisters from layer and closes the descriptors. A descriptor that
// fails to close terminates the process.
func (w *WakeEvent) Close(layer Layer) {
	if err := w.release(layer); err != nil {
		log.Logger.Fatal("wake event close failed",
			zap.Stringer("backend", w.kind),
			zap.Error(&WakeError{Kind: Fatal, Op: "close", Err: err}))
	}
}

// Notify signals the wake event. Any number of Notify calls between two
// Confirm calls produce at least one wake. It does not block.
func (w *WakeEvent) Notify() error {
	return w.ops.notify(w)
}

// Confirm consumes every pending wake so the read side stops reporting
// readiness. Errors are logged, not returned.
func (w *WakeEvent) Confirm() {
	w.ops.confirm(w)
}

func (w *WakeEvent) ReadFD() int {
	return w.readFD
}

// WriteFD equals ReadFD for the eventfd backends.
func (w *WakeEvent) WriteFD() int {
	return w.writeFD
}

func (w *WakeEvent) Backend() Backend {
	return w.kind
}
