//go:build wakefifo && !wakepipe

package system

const DefaultBackend = BackendNamedFifo
