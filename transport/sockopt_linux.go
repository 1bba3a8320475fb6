//go:build linux

package transport

import (
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// socketControl sets TCP_USER_TIMEOUT so a peer that stops acknowledging
// writes is detected as a lost connection.
func socketControl(userTimeout time.Duration) func(network, address string, c syscall.RawConn) error {
	if userTimeout <= 0 {
		return nil
	}

	return func(network, address string, c syscall.RawConn) error {
		var sockErr error
		err := c.Control(func(fd uintptr) {
			sockErr = unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_USER_TIMEOUT, int(userTimeout.Milliseconds()))
		})
		if err != nil {
			return err
		}
		return sockErr
	}
}
