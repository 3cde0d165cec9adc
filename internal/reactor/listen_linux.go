//go:build linux

package reactor

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// listenControl enables SO_REUSEPORT so a replacement instance can bind
// while the old one drains.
func listenControl(network, address string, c syscall.RawConn) error {
	var opErr error
	err := c.Control(func(fd uintptr) {
		opErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
	})
	if err != nil {
		return err
	}
	return opErr
}
