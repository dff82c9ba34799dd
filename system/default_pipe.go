//go:build wakepipe

package system

const DefaultBackend = BackendPipe
