//go:build linux

package connectionmgr

import (
	"net"
	"syscall"

	"github.com/rotisserie/eris"
	"golang.org/x/sys/unix"
)

// pendingBytes asks the kernel for the socket's unread byte count. SIOCINQ
// is the Linux name for FIONREAD on sockets.
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
		n, ioErr = unix.IoctlGetInt(int(fd), unix.SIOCINQ)
	}); err != nil {
		// Control fails once the socket has been closed.
		return 0, eris.Wrap(ErrConnectionClosed, err.Error())
	}
	if ioErr != nil {
		return 0, eris.Wrap(ioErr, "SIOCINQ")
	}
	return n, nil
}
