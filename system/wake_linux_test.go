package system

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fzft/go-wake-event/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sys/unix"
)

// recordingLayer is a Layer that records calls and can be told to fail.
type recordingLayer struct {
	calls   []string
	fail    map[string]error
	fd      int
	cb      SocketCallback
	data    any
	armed   bool
	stopped bool
	// fdOpenAtStop is whether the watched fd was still open when
	// StopWatchingSocket ran.
	fdOpenAtStop bool
}

func newRecordingLayer() *recordingLayer {
	return &recordingLayer{fail: map[string]error{}, fd: -1}
}

func (r *recordingLayer) StartWatchingSocket(fd int) (WatchToken, error) {
	r.calls = append(r.calls, "start")
	if err := r.fail["start"]; err != nil {
		return InvalidWatch, err
	}
	r.fd = fd
	return 7, nil
}

func (r *recordingLayer) SetCallback(_ WatchToken, cb SocketCallback, data any) error {
	r.calls = append(r.calls, "callback")
	if err := r.fail["callback"]; err != nil {
		return err
	}
	r.cb, r.data = cb, data
	return nil
}

func (r *recordingLayer) RequestCallbackOnPendingRead(WatchToken) error {
	r.calls = append(r.calls, "read")
	if err := r.fail["read"]; err != nil {
		return err
	}
	r.armed = true
	return nil
}

func (r *recordingLayer) ClearCallbackOnPendingRead(WatchToken) error {
	r.calls = append(r.calls, "clear")
	r.armed = false
	return nil
}

func (r *recordingLayer) StopWatchingSocket(token *WatchToken) {
	r.calls = append(r.calls, "stop")
	r.stopped = true
	r.fdOpenAtStop = isFDValid(r.fd)
	*token = InvalidWatch
}

var allBackends = []Backend{BackendPipe, BackendNamedFifo, BackendEventFd, BackendEmbeddedEventFd}

func openTestWake(t *testing.T, kind Backend, layer Layer) *WakeEvent {
	t.Helper()
	w, err := newWakeEvent(kind, WithFifoPath(filepath.Join(t.TempDir(), "wake_fifo")))
	require.NoError(t, err)
	require.NoError(t, w.Open(layer))
	return w
}

// pollReadable does a zero-timeout poll on fd.
func pollReadable(t *testing.T, fd int) bool {
	t.Helper()
	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	for {
		n, err := unix.Poll(fds, 0)
		if err == unix.EINTR {
			continue
		}
		require.NoError(t, err)
		return n > 0 && fds[0].Revents&unix.POLLIN != 0
	}
}

// eventfdCount reads the counter of an eventfd from /proc without consuming it.
func eventfdCount(t *testing.T, fd int) uint64 {
	t.Helper()
	data, err := os.ReadFile(fmt.Sprintf("/proc/self/fdinfo/%d", fd))
	require.NoError(t, err)
	for _, line := range strings.Split(string(data), "\n") {
		if v, ok := strings.CutPrefix(line, "eventfd-count:"); ok {
			n, err := strconv.ParseUint(strings.TrimSpace(v), 16, 64)
			require.NoError(t, err)
			return n
		}
	}
	t.Fatalf("fd %d is not an eventfd", fd)
	return 0
}

func TestWakeEventOpenRegistersReadSide(t *testing.T) {
	for _, kind := range allBackends {
		t.Run(kind.String(), func(t *testing.T) {
			layer := newRecordingLayer()
			w := openTestWake(t, kind, layer)

			assert.Equal(t, []string{"start", "callback", "read"}, layer.calls)
			assert.Equal(t, w.ReadFD(), layer.fd)
			assert.True(t, layer.armed)
			assert.Same(t, w, layer.data)
			assert.Equal(t, kind, w.Backend())
			if kind.SharesDescriptor() {
				assert.Equal(t, w.ReadFD(), w.WriteFD())
			} else {
				assert.NotEqual(t, w.ReadFD(), w.WriteFD())
			}

			w.Close(layer)
		})
	}
}

func TestWakeEventNotifyThenConfirm(t *testing.T) {
	for _, kind := range allBackends {
		t.Run(kind.String(), func(t *testing.T) {
			layer := newRecordingLayer()
			w := openTestWake(t, kind, layer)
			defer w.Close(layer)

			assert.False(t, pollReadable(t, w.ReadFD()))

			for _, n := range []int{1, 5, 300} {
				for i := 0; i < n; i++ {
					require.NoError(t, w.Notify())
				}
				assert.True(t, pollReadable(t, w.ReadFD()), "after %d notifies", n)

				w.Confirm()
				assert.False(t, pollReadable(t, w.ReadFD()), "after confirming %d notifies", n)
			}
		})
	}
}

func TestWakeEventCallbackConfirms(t *testing.T) {
	for _, kind := range allBackends {
		t.Run(kind.String(), func(t *testing.T) {
			layer := newRecordingLayer()
			w := openTestWake(t, kind, layer)
			defer w.Close(layer)

			require.NoError(t, w.Notify())
			require.NotNil(t, layer.cb)
			layer.cb(EventRead, layer.data)
			assert.False(t, pollReadable(t, w.ReadFD()))
		})
	}
}

func TestWakeEventNotifyNeverBlocks(t *testing.T) {
	for _, kind := range allBackends {
		t.Run(kind.String(), func(t *testing.T) {
			layer := newRecordingLayer()
			w := openTestWake(t, kind, layer)
			defer w.Close(layer)

			// well past the 64KiB default pipe buffer
			const total = 200_000
			var slowest time.Duration
			for i := 0; i < total; i++ {
				start := time.Now()
				require.NoError(t, w.Notify())
				if d := time.Since(start); d > slowest {
					slowest = d
				}
			}
			assert.True(t, slowest < 500*time.Millisecond, "slowest notify took %s", slowest)
			assert.True(t, pollReadable(t, w.ReadFD()))

			w.Confirm()
			assert.False(t, pollReadable(t, w.ReadFD()))
		})
	}
}

func TestPipeScenario(t *testing.T) {
	layer := newRecordingLayer()
	w := openTestWake(t, BackendPipe, layer)
	defer w.Close(layer)

	require.NoError(t, w.Notify())

	fds := []unix.PollFd{{Fd: int32(w.ReadFD()), Events: unix.POLLIN}}
	n, err := unix.Poll(fds, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NotZero(t, fds[0].Revents&unix.POLLIN)

	w.Confirm()

	fds[0].Revents = 0
	n, err = unix.Poll(fds, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestEventFdCounterScenario(t *testing.T) {
	for _, kind := range []Backend{BackendEventFd, BackendEmbeddedEventFd} {
		t.Run(kind.String(), func(t *testing.T) {
			layer := newRecordingLayer()
			w := openTestWake(t, kind, layer)
			defer w.Close(layer)

			assert.Equal(t, uint64(0), eventfdCount(t, w.ReadFD()))
			for i := 0; i < 3; i++ {
				require.NoError(t, w.Notify())
			}
			assert.Equal(t, uint64(3), eventfdCount(t, w.ReadFD()))

			w.Confirm()
			assert.Equal(t, uint64(0), eventfdCount(t, w.ReadFD()))

			w.Confirm()
			assert.Equal(t, uint64(0), eventfdCount(t, w.ReadFD()))

			var value uint64
			assert.ErrorIs(t, eventfdRead(w.ReadFD(), &value), unix.EAGAIN)
		})
	}
}

func TestWakeEventCloseStopsWatchingFirst(t *testing.T) {
	for _, kind := range allBackends {
		t.Run(kind.String(), func(t *testing.T) {
			layer := newRecordingLayer()
			w := openTestWake(t, kind, layer)
			rfd, wfd := w.ReadFD(), w.WriteFD()

			w.Close(layer)

			assert.True(t, layer.stopped)
			assert.True(t, layer.fdOpenAtStop, "fd closed before the watch was released")
			assert.False(t, isFDValid(rfd))
			assert.False(t, isFDValid(wfd))
			assert.Equal(t, -1, w.ReadFD())
			assert.Equal(t, -1, w.WriteFD())
			assert.Equal(t, InvalidWatch, w.token)
		})
	}
}

func TestWakeEventCloseFailureIsFatal(t *testing.T) {
	saved := log.Logger
	log.Logger = zap.New(zapcore.NewNopCore(), zap.WithFatalHook(zapcore.WriteThenPanic))
	defer func() { log.Logger = saved }()

	for _, kind := range allBackends {
		t.Run(kind.String(), func(t *testing.T) {
			layer := newRecordingLayer()
			w := openTestWake(t, kind, layer)

			// close the read side behind the handle's back and hand Close a
			// descriptor number that is never open
			readFD, writeFD := w.ReadFD(), w.WriteFD()
			if readFD != writeFD {
				require.NoError(t, unix.Close(readFD))
			}
			w.readFD = 1 << 20

			assert.Panics(t, func() { w.Close(layer) })
			assert.True(t, layer.stopped)
			assert.Equal(t, -1, w.ReadFD())
		})
	}
}

func TestWakeEventOpenRegistrationFailure(t *testing.T) {
	boom := errors.New("boom")
	for _, step := range []string{"start", "callback", "read"} {
		for _, kind := range allBackends {
			t.Run(step+"/"+kind.String(), func(t *testing.T) {
				layer := newRecordingLayer()
				layer.fail[step] = boom

				w, err := newWakeEvent(kind, WithFifoPath(filepath.Join(t.TempDir(), "wake_fifo")))
				require.NoError(t, err)

				err = w.Open(layer)
				require.Error(t, err)
				assert.ErrorIs(t, err, OSFailure)
				assert.ErrorIs(t, err, boom)

				// a token was handed out for every step but the first
				assert.Equal(t, step != "start", layer.stopped)
				assert.Equal(t, -1, w.ReadFD())
				assert.Equal(t, -1, w.WriteFD())
			})
		}
	}
}

func TestFifoOpenErrors(t *testing.T) {
	t.Run("missing directory", func(t *testing.T) {
		w, err := newWakeEvent(BackendNamedFifo, WithFifoPath(filepath.Join(t.TempDir(), "nope", "wake_fifo")))
		require.NoError(t, err)

		err = w.Open(newRecordingLayer())
		assert.ErrorIs(t, err, PermissionOrPath)
		assert.ErrorIs(t, err, unix.ENOENT)
	})

	t.Run("regular file in the way", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "wake_fifo")
		require.NoError(t, os.WriteFile(path, nil, 0o644))

		w, err := newWakeEvent(BackendNamedFifo, WithFifoPath(path))
		require.NoError(t, err)

		err = w.Open(newRecordingLayer())
		assert.ErrorIs(t, err, PermissionOrPath)
		assert.ErrorIs(t, err, errNotFifo)
	})

	t.Run("existing fifo is reused", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "wake_fifo")
		require.NoError(t, unix.Mkfifo(path, 0o600))

		layer := newRecordingLayer()
		w, err := newWakeEvent(BackendNamedFifo, WithFifoPath(path))
		require.NoError(t, err)
		require.NoError(t, w.Open(layer))
		w.Close(layer)
	})
}

func TestFifoNotifyReopensWriter(t *testing.T) {
	layer := newRecordingLayer()
	w := openTestWake(t, BackendNamedFifo, layer)
	defer w.Close(layer)

	// a read-only descriptor fails every write with EBADF
	devNull, err := unix.Open(os.DevNull, unix.O_RDONLY|unix.O_CLOEXEC, 0)
	require.NoError(t, err)
	defer unix.Close(devNull)

	saved := w.writeFD
	w.writeFD = devNull
	defer func() { w.writeFD = saved }()

	require.NoError(t, w.Notify())
	assert.True(t, pollReadable(t, w.ReadFD()))
	w.Confirm()
	assert.False(t, pollReadable(t, w.ReadFD()))
}

func TestFifoNotifyWithoutReader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wake_fifo")
	require.NoError(t, unix.Mkfifo(path, 0o600))

	w, err := newWakeEvent(BackendNamedFifo, WithFifoPath(path))
	require.NoError(t, err)

	// never opened: no reader exists and the long-lived writer is invalid
	start := time.Now()
	err = w.Notify()
	assert.True(t, time.Since(start) < time.Second, "notify without a reader blocked")
	assert.ErrorIs(t, err, OSFailure)
	assert.ErrorIs(t, err, unix.ENXIO)
}

func TestFifoAcceptsExternalWriter(t *testing.T) {
	layer := newRecordingLayer()
	path := filepath.Join(t.TempDir(), "wake_fifo")
	w, err := newWakeEvent(BackendNamedFifo, WithFifoPath(path))
	require.NoError(t, err)
	require.NoError(t, w.Open(layer))
	defer w.Close(layer)

	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	require.NoError(t, err)
	_, err = f.Write([]byte{1, 1, 1})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	assert.True(t, pollReadable(t, w.ReadFD()))
	w.Confirm()
	assert.False(t, pollReadable(t, w.ReadFD()))
}

func TestNoMissedWake(t *testing.T) {
	const (
		rounds    = 20
		producers = 4
		perProd   = 200
	)

	for _, kind := range allBackends {
		t.Run(kind.String(), func(t *testing.T) {
			for round := 0; round < rounds; round++ {
				layer, err := NewEpollLayer(0)
				require.NoError(t, err)
				w := openTestWake(t, kind, layer)

				var flag atomic.Int64
				var wg sync.WaitGroup
				for p := 0; p < producers; p++ {
					wg.Add(1)
					go func() {
						defer wg.Done()
						for i := 0; i < perProd; i++ {
							flag.Add(1)
							assert.NoError(t, w.Notify())
						}
					}()
				}

				timeouts := 0
				for flag.Load() < producers*perProd {
					n, err := layer.HandleEvents(2 * time.Second)
					require.NoError(t, err)
					if n == 0 {
						timeouts++
						break
					}
				}
				wg.Wait()

				assert.Zero(t, timeouts, "round %d: consumer waited without a wake", round)
				assert.Equal(t, int64(producers*perProd), flag.Load())

				w.Close(layer)
				require.NoError(t, layer.Close())
			}
		})
	}
}

func TestNewWakeEventUsesDefaultBackend(t *testing.T) {
	w := NewWakeEvent()
	assert.Equal(t, DefaultBackend, w.Backend())
	assert.Equal(t, DefaultFifoPath, w.opts.fifoPath)
	assert.Equal(t, -1, w.ReadFD())
}

func TestNewWakeEventUnknownBackend(t *testing.T) {
	_, err := newWakeEvent(Backend(42))
	assert.ErrorIs(t, err, ErrUnknownBackend)
}
