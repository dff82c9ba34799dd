package system

import (
	"errors"

	"golang.org/x/sys/unix"
)

func isFDValid(fd int) bool {
	if fd < 0 {
		return false
	}
	// Try to get the flags of the file descriptor
	_, err := unix.FcntlInt(uintptr(fd), unix.F_GETFD, 0)
	return err == nil
}

// isWouldBlock checks if the error is EAGAIN or EWOULDBLOCK.
func isWouldBlock(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK)
}

func closeFd(fd int) error {
	if fd < 0 {
		return nil
	}
	return unix.Close(fd)
}
