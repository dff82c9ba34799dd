package system

import (
	"fmt"
	"math"
	"os"
	"sync"
	"time"

	"github.com/fzft/go-wake-event/log"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// https://copyconstruct.medium.com/the-method-to-epolls-madness-d9d2d6378642

const (
	readEvents = unix.EPOLLPRI | unix.EPOLLIN
	errEvents  = unix.EPOLLERR | unix.EPOLLHUP
)

// DefaultMaxEvents is used when NewEpollLayer is given a non-positive size.
const DefaultMaxEvents = 128

type socketWatch struct {
	fd     int
	cb     SocketCallback
	data   any
	events uint32
}

// EpollLayer is a level-triggered epoll Layer. HandleEvents must be called
// from a single goroutine; the registration methods may be called from any.
type EpollLayer struct {
	epollFd int
	events  []unix.EpollEvent

	mu      sync.Mutex
	watches map[WatchToken]*socketWatch
	byFd    map[int]WatchToken
	next    WatchToken
	closed  bool
}

// NewEpollLayer creates the epoll instance; maxEvents bounds how many ready
// fds one HandleEvents call dispatches.
func NewEpollLayer(maxEvents int) (*EpollLayer, error) {
	if maxEvents <= 0 {
		maxEvents = DefaultMaxEvents
	}

	// Create a new epoll instance
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		log.Logger.Error("Failed to create epoll", zap.Error(err))
		return nil, os.NewSyscallError("epoll_create1", err)
	}

	return &EpollLayer{
		epollFd: epfd,
		events:  make([]unix.EpollEvent, maxEvents),
		watches: make(map[WatchToken]*socketWatch),
		byFd:    make(map[int]WatchToken),
	}, nil
}

// StartWatchingSocket adds fd to the epoll set with no events armed. Only
// EPOLLERR and EPOLLHUP are reported until a callback is requested.
func (l *EpollLayer) StartWatchingSocket(fd int) (WatchToken, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return InvalidWatch, ErrLayerClosed
	}
	if _, ok := l.byFd[fd]; ok {
		return InvalidWatch, fmt.Errorf("fd %d is already watched", fd)
	}

	if err := l.ctl(unix.EPOLL_CTL_ADD, fd, 0); err != nil {
		return InvalidWatch, err
	}

	token := l.next
	l.next++
	l.watches[token] = &socketWatch{fd: fd}
	l.byFd[fd] = token
	return token, nil
}

func (l *EpollLayer) SetCallback(token WatchToken, cb SocketCallback, data any) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.watches[token]
	if !ok {
		return ErrUnknownWatch
	}
	w.cb = cb
	w.data = data
	return nil
}

func (l *EpollLayer) RequestCallbackOnPendingRead(token WatchToken) error {
	return l.modify(token, func(events uint32) uint32 { return events | readEvents })
}

func (l *EpollLayer) ClearCallbackOnPendingRead(token WatchToken) error {
	return l.modify(token, func(events uint32) uint32 { return events &^ readEvents })
}

func (l *EpollLayer) modify(token WatchToken, fn func(uint32) uint32) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.watches[token]
	if !ok {
		return ErrUnknownWatch
	}
	events := fn(w.events)
	if events == w.events {
		return nil
	}
	if err := l.ctl(unix.EPOLL_CTL_MOD, w.fd, events); err != nil {
		return err
	}
	w.events = events
	return nil
}

func (l *EpollLayer) StopWatchingSocket(token *WatchToken) {
	if token == nil || *token == InvalidWatch {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if w, ok := l.watches[*token]; ok {
		if err := l.ctl(unix.EPOLL_CTL_DEL, w.fd, 0); err != nil {
			log.Logger.Warn("Failed to delete fd from epoll", zap.Int("fd", w.fd), zap.Error(err))
		}
		delete(l.watches, *token)
		delete(l.byFd, w.fd)
	}
	*token = InvalidWatch
}

func (l *EpollLayer) ctl(op int, fd int, events uint32) error {
	var ev *unix.EpollEvent
	if op != unix.EPOLL_CTL_DEL {
		ev = &unix.EpollEvent{Fd: int32(fd), Events: events}
	}
	return os.NewSyscallError("epoll_ctl", unix.EpollCtl(l.epollFd, op, fd, ev))
}

// HandleEvents waits up to timeout (forever if negative) and dispatches the
// callbacks of every ready watch. It returns the number of ready fds; a wait
// interrupted by a signal reports 0 and no error.
func (l *EpollLayer) HandleEvents(timeout time.Duration) (int, error) {
	msec := waitMillis(timeout)

	// level triggered: a wake that is not confirmed is reported again
	n, err := unix.EpollWait(l.epollFd, l.events, msec)
	if err == unix.EINTR {
		return 0, nil
	} else if err != nil {
		log.Logger.Error("epoll wait error", zap.Error(err))
		return 0, os.NewSyscallError("epoll_wait", err)
	}

	for i := 0; i < n; i++ {
		ev := &l.events[i]
		l.dispatch(int(ev.Fd), ev.Events)
	}
	return n, nil
}

// waitMillis rounds timeout up to whole milliseconds so a sub-millisecond
// tick still sleeps, and caps it at what epoll_wait accepts.
func waitMillis(timeout time.Duration) int {
	if timeout < 0 {
		return -1
	}
	ms := (timeout + time.Millisecond - 1) / time.Millisecond
	if ms > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(ms)
}

func (l *EpollLayer) dispatch(fd int, raw uint32) {
	l.mu.Lock()
	token, ok := l.byFd[fd]
	var w socketWatch
	if ok {
		w = *l.watches[token]
	}
	l.mu.Unlock()

	if !ok || w.cb == nil {
		return
	}

	var events SocketEvents
	if raw&readEvents != 0 {
		events |= EventRead
	}
	if raw&unix.EPOLLOUT != 0 {
		events |= EventWrite
	}
	if raw&errEvents != 0 {
		events |= EventError
	}

	// a panicking callback must not take the loop down
	defer func() {
		if r := recover(); r != nil {
			log.Logger.Error("socket callback panicked", zap.Int("fd", fd), zap.Any("panic", r))
		}
	}()
	w.cb(events, w.data)
}

// Close drops every watch and closes the epoll fd. Watched descriptors are
// not closed; they belong to whoever started watching them.
func (l *EpollLayer) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true

	var errs error
	for token, w := range l.watches {
		if err := l.ctl(unix.EPOLL_CTL_DEL, w.fd, 0); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("delete fd: %d error: %w", w.fd, err))
		}
		delete(l.watches, token)
		delete(l.byFd, w.fd)
	}

	if err := unix.Close(l.epollFd); err != nil {
		errs = multierr.Append(errs, os.NewSyscallError("close", err))
	}
	return errs
}

// Watching reports how many descriptors are currently watched.
func (l *EpollLayer) Watching() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.watches)
}
