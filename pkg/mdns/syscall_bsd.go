//go:build darwin || ios || freebsd || openbsd || netbsd || dragonfly

package mdns

import (
	"syscall"
)

// setsockoptInt sets SO_REUSEPORT together with SO_REUSEADDR, BSD needs both
// to share 5353 with the system responder
func setsockoptInt(fd uintptr, level, opt int, value int) error {
	if opt == syscall.SO_REUSEADDR {
		if err := syscall.SetsockoptInt(int(fd), level, opt, value); err != nil {
			return err
		}
		opt = syscall.SO_REUSEPORT
	}

	return syscall.SetsockoptInt(int(fd), level, opt, value)
}

func setsockoptIPMreq(fd uintptr, level, opt int, mreq *syscall.IPMreq) error {
	return syscall.SetsockoptIPMreq(int(fd), level, opt, mreq)
}
