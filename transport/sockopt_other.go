//go:build !linux

package transport

import (
	"syscall"
	"time"
)

func socketControl(userTimeout time.Duration) func(network, address string, c syscall.RawConn) error {
	return nil
}
