//go:build unix

package engine

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// reuseAddrControl lets several multicast listeners share a group port.
func reuseAddrControl(network, address string, c syscall.RawConn) error {
	var opErr error
	err := c.Control(func(fd uintptr) {
		opErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	return opErr
}
