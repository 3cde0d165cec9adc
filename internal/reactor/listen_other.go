//go:build !linux

package reactor

import "syscall"

func listenControl(network, address string, c syscall.RawConn) error {
	return nil
}
