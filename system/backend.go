package system

import "fmt"

// Backend is the OS primitive behind a WakeEvent. The backend used by
// NewWakeEvent is DefaultBackend, fixed by build tags.
type Backend uint8

const (
	// BackendPipe is an anonymous self-pipe. Producers must live in this process.
	BackendPipe Backend = iota + 1
	// BackendNamedFifo is a FIFO at a well-known path, so other processes
	// can wake the loop by writing to it.
	BackendNamedFifo
	// BackendEventFd is a single Linux eventfd counter.
	BackendEventFd
	// BackendEmbeddedEventFd is an eventfd driven through the
	// eventfd_read/eventfd_write call surface of embedded POSIX layers.
	BackendEmbeddedEventFd
)

func (b Backend) String() string {
	switch b {
	case BackendPipe:
		return "pipe"
	case BackendNamedFifo:
		return "fifo"
	case BackendEventFd:
		return "eventfd"
	case BackendEmbeddedEventFd:
		return "embedded-eventfd"
	default:
		return fmt.Sprintf("Backend(%d)", uint8(b))
	}
}

// SharesDescriptor reports whether the read and write sides are one fd.
func (b Backend) SharesDescriptor() bool {
	return b == BackendEventFd || b == BackendEmbeddedEventFd
}
