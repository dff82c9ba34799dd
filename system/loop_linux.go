package system

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"
	"github.com/fzft/go-wake-event/log"
	"go.uber.org/zap"
)

// Task is work posted to a Loop from another goroutine.
type Task func()

// Loop runs an EpollLayer and a task queue. Post appends to the queue and
// notifies the wake event, so Run picks the task up even when it is blocked
// in epoll_wait.
type Loop struct {
	layer *EpollLayer
	wake  *WakeEvent

	mu     sync.Mutex
	tasks  *queue.Queue
	closed bool

	processed atomic.Uint64
}

// NewLoop opens a wake event (DefaultBackend) on layer.
func NewLoop(layer *EpollLayer, opts ...Option) (*Loop, error) {
	return newLoop(layer, NewWakeEvent(opts...))
}

func newLoop(layer *EpollLayer, wake *WakeEvent) (*Loop, error) {
	if err := wake.Open(layer); err != nil {
		return nil, err
	}
	return &Loop{
		layer: layer,
		wake:  wake,
		tasks: queue.New(),
	}, nil
}

// Post wakes the loop and queues task. When the wake cannot be delivered the
// task is not queued and the error is returned. Both steps happen under the
// queue lock, so runTasks cannot look at the queue between them and Close
// cannot tear the wake event down underneath.
func (l *Loop) Post(task Task) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrLoopClosed
	}
	if err := l.wake.Notify(); err != nil {
		return err
	}
	l.tasks.Add(task)
	return nil
}

// Run handles events until ctx is done. tick bounds each wait; a negative
// tick waits until woken.
func (l *Loop) Run(ctx context.Context, tick time.Duration) error {
	stop := context.AfterFunc(ctx, func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.closed {
			return
		}
		if err := l.wake.Notify(); err != nil {
			log.Logger.Warn("Failed to wake loop for shutdown", zap.Error(err))
		}
	})
	defer stop()

	for {
		if ctx.Err() != nil {
			l.runTasks()
			log.Logger.Info("Received stop signal. Exiting event loop.")
			return nil
		}

		n, err := l.layer.HandleEvents(tick)
		if err != nil {
			return err
		}
		if n > 0 {
			log.Logger.Debug("loop woke", zap.Int("ready", n))
		}
		l.runTasks()
	}
}

func (l *Loop) runTasks() {
	l.mu.Lock()
	n := l.tasks.Length()
	if n == 0 {
		l.mu.Unlock()
		return
	}
	batch := make([]Task, 0, n)
	for l.tasks.Length() > 0 {
		batch = append(batch, l.tasks.Remove().(Task))
	}
	l.mu.Unlock()

	for _, task := range batch {
		l.runTask(task)
	}
}

func (l *Loop) runTask(task Task) {
	defer func() {
		if r := recover(); r != nil {
			log.Logger.Error("loop task panicked", zap.Any("panic", r))
		}
	}()
	defer l.processed.Add(1)
	task()
}

// Processed returns the number of tasks run so far.
func (l *Loop) Processed() uint64 {
	return l.processed.Load()
}

// Pending returns the number of queued tasks.
func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tasks.Length()
}

func (l *Loop) Wake() *WakeEvent {
	return l.wake
}

// Close tears down the wake event and then the layer. Call it after Run
// has returned.
func (l *Loop) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.wake.Close(l.layer)
	pending := l.tasks.Length()
	l.mu.Unlock()

	if pending > 0 {
		log.Logger.Warn("loop closed with pending tasks", zap.Int("pending", pending))
	}
	return l.layer.Close()
}
