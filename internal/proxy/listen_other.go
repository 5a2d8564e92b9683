//go:build !(linux || darwin || freebsd || openbsd || netbsd || dragonfly)

package proxy

import (
	"errors"
	"syscall"
)

const ReusePortSupported = false

func setReusePort(_, _ string, _ syscall.RawConn) error {
	return errors.New("SO_REUSEPORT unsupported")
}
