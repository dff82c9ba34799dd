//go:build !wakepipe && !wakefifo && !wakeembedded

package system

const DefaultBackend = BackendEventFd
