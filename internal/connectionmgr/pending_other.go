//go:build !linux && !darwin && !dragonfly && !freebsd && !netbsd && !openbsd

package connectionmgr

import "net"

func pendingBytes(net.Conn) (int, error) {
	return 0, ErrPendingUnsupported
}
