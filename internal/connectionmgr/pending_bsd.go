//go:build darwin || dragonfly || freebsd || netbsd || openbsd

package connectionmgr

import (
	"net"
	"syscall"

	"github.com/rotisserie/eris"
	"golang.org/x/sys/unix"
)

// fionread is _IOR('f', 127, int), identical across the BSDs and darwin.
const fionread = 0x4004667f

// pendingBytes asks the kernel for the socket's unread byte count (FIONREAD).
func pendingBytes(conn net.Conn) (int, error) {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return 0, ErrPendingUnsupported
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return 0, eris.Wrap(err, "syscall conn")
	}

	var (
		n     int
		ioErr error
	)
	if err := raw.Control(func(fd uintptr) {
		n, ioErr = unix.IoctlGetInt(int(fd), fionread)
	}); err != nil {
		// Control fails once the socket has been closed.
		return 0, eris.Wrap(ErrConnectionClosed, err.Error())
	}
	if ioErr != nil {
		return 0, eris.Wrap(ioErr, "FIONREAD")
	}
	return n, nil
}
