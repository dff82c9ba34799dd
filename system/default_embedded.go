//go:build wakeembedded && !wakepipe && !wakefifo

package system

const DefaultBackend = BackendEmbeddedEventFd
