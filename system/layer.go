package system

import "strings"

// SocketEvents is the readiness reported to a SocketCallback.
type SocketEvents uint8

// Readiness bits carried by SocketEvents.
const (
	EventRead SocketEvents = 1 << iota
	EventWrite
	EventError
)

func (e SocketEvents) Has(other SocketEvents) bool {
	return e&other != 0
}

func (e SocketEvents) String() string {
	if e == 0 {
		return "none"
	}
	var parts []string
	if e.Has(EventRead) {
		parts = append(parts, "read")
	}
	if e.Has(EventWrite) {
		parts = append(parts, "write")
	}
	if e.Has(EventError) {
		parts = append(parts, "error")
	}
	return strings.Join(parts, "|")
}

// WatchToken identifies one watched descriptor inside a Layer. The holder
// does not own the descriptor through it.
type WatchToken int

// InvalidWatch is the token of a descriptor that is not watched.
const InvalidWatch WatchToken = -1

// SocketCallback runs on the layer's own goroutine when a watched descriptor
// is ready. data is whatever was passed to SetCallback.
type SocketCallback func(events SocketEvents, data any)

// Layer is the socket multiplexer a WakeEvent registers with.
type Layer interface {
	// StartWatchingSocket begins tracking fd and returns a token for it.
	StartWatchingSocket(fd int) (WatchToken, error)

	SetCallback(token WatchToken, cb SocketCallback, data any) error

	// RequestCallbackOnPendingRead arms the callback for read readiness.
	RequestCallbackOnPendingRead(token WatchToken) error

	ClearCallbackOnPendingRead(token WatchToken) error

	// StopWatchingSocket releases the watch and resets *token to InvalidWatch.
	// The descriptor itself is left open.
	StopWatchingSocket(token *WatchToken)
}
