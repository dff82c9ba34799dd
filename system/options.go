package system

import "os"

// DefaultFifoPath is the rendezvous used by the NamedFifo backend unless
// WithFifoPath says otherwise.
const DefaultFifoPath = "/var/wake_event_fifo"

const defaultFifoMode os.FileMode = 0666

type options struct {
	fifoPath string
	fifoMode os.FileMode
}

func defaultOptions() options {
	return options{
		fifoPath: DefaultFifoPath,
		fifoMode: defaultFifoMode,
	}
}

// Option configures a WakeEvent at construction.
type Option func(*options)

// WithFifoPath sets the FIFO path. Ignored by the other backends.
func WithFifoPath(path string) Option {
	return func(o *options) {
		if path != "" {
			o.fifoPath = path
		}
	}
}

// WithFifoMode sets the permission bits passed to mkfifo (before umask).
func WithFifoMode(mode os.FileMode) Option {
	return func(o *options) {
		o.fifoMode = mode.Perm()
	}
}
