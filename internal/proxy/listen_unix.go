//go:build linux || darwin || freebsd || openbsd || netbsd || dragonfly

package proxy

import (
	"syscall"

	"golang.org/x/sys/unix"
)

const ReusePortSupported = true

func setReusePort(_, _ string, rc syscall.RawConn) error {
	var serr error
	if err := rc.Control(func(fd uintptr) {
		serr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
	}); err != nil {
		return err
	}
	return serr
}
