package system

import (
	"errors"
	"fmt"
)

// ErrorKind classifies wake event failures. It implements error so callers
// can match a kind with errors.Is(err, system.OSFailure).
type ErrorKind uint8

const (
	// ResourceExhausted means a pipe or eventfd could not be created.
	ResourceExhausted ErrorKind = iota + 1
	// PermissionOrPath means the FIFO could not be created or opened.
	PermissionOrPath
	// TransientWouldBlock is swallowed internally and never returned.
	TransientWouldBlock
	// OSFailure is an unexpected read, write or registration failure.
	OSFailure
	// Fatal is a descriptor that refuses to close. It terminates the process.
	Fatal
)

func (k ErrorKind) String() string {
	switch k {
	case ResourceExhausted:
		return "resource exhausted"
	case PermissionOrPath:
		return "permission or path"
	case TransientWouldBlock:
		return "would block"
	case OSFailure:
		return "os failure"
	case Fatal:
		return "fatal"
	default:
		return fmt.Sprintf("ErrorKind(%d)", uint8(k))
	}
}

func (k ErrorKind) Error() string {
	return k.String()
}

// WakeError is returned by Open and Notify.
type WakeError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *WakeError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("wake event %s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("wake event %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *WakeError) Unwrap() error {
	return e.Err
}

// Is reports whether target is the kind of this error.
func (e *WakeError) Is(target error) bool {
	k, ok := target.(ErrorKind)
	return ok && k == e.Kind
}

func newWakeError(kind ErrorKind, op string, err error) error {
	return &WakeError{Kind: kind, Op: op, Err: err}
}

var (
	// ErrLoopClosed is returned by Loop.Post after Close.
	ErrLoopClosed     = errors.New("loop closed")
	ErrUnknownWatch   = errors.New("unknown watch token")
	ErrLayerClosed    = errors.New("layer closed")
	ErrUnknownBackend = errors.New("unknown wake backend")
)
