//go:build openbsd

package tproxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// IsSupported is true on TPROXY-supporting OSes.
const IsSupported = true

// RedirectSupported is false: PF rdr-to keeps the original destination as
// the local address, so ModeTProxy covers it.
const RedirectSupported = false

// Listen listens on cfg.Addr. With cfg.Transparent it enables SO_BINDANY so
// the socket can accept connections redirected by PF rdr-to rules.
//
// Transparent mode requires root. Note: callers still need outgoing rules
// with divert-reply for return traffic.
func Listen(cfg ListenConfig) (net.Listener, error) {
	if !cfg.Transparent {
		return listenPlain(cfg)
	}

	lc := net.ListenConfig{Control: func(_, _ string, c syscall.RawConn) error {
		var ctrlErr error
		err := c.Control(func(fd uintptr) {
			// OpenBSD uses a socket-level option, unlike FreeBSD.
			ctrlErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BINDANY, 1)
		})
		if err != nil {
			return err
		}
		return ctrlErr
	}}
	ln, err := lc.Listen(context.Background(), "tcp", cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("listen tproxy %s: %w", cfg.Addr, err)
	}
	return &KeepAliveListener{Listener: ln, KeepAliveConfig: cfg.KeepAlive}, nil
}

// SockOptDst is unavailable on OpenBSD.
func SockOptDst(_ net.Conn) (*net.TCPAddr, error) {
	return nil, errors.New("SO_ORIGINAL_DST is only supported on linux")
}
