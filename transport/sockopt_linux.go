//go:build linux

package transport

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// dialControl lets a downlink rebind a fixed local port that is still in
// TIME_WAIT from a previous session.
func dialControl(_, _ string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}
