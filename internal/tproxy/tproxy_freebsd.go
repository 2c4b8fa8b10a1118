//go:build freebsd

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

// RedirectSupported is false: IPFW fwd and PF rdr-to keep the original
// destination as the local address, so ModeTProxy covers them.
const RedirectSupported = false

// Listen listens on cfg.Addr. With cfg.Transparent it enables IP_BINDANY so
// the socket can accept connections redirected by IPFW fwd or PF rdr-to rules.
//
// Transparent mode requires root or the PRIV_NETINET_BINDANY privilege. The
// backlog is left to kern.ipc.soacceptqueue.
func Listen(cfg ListenConfig) (net.Listener, error) {
	if !cfg.Transparent {
		return listenPlain(cfg)
	}

	lc := net.ListenConfig{Control: func(network, _ string, c syscall.RawConn) error {
		var ctrlErr error
		err := c.Control(func(fd uintptr) {
			if network == "tcp6" {
				ctrlErr = unix.SetsockoptInt(int(fd), unix.IPPROTO_IPV6, unix.IPV6_BINDANY, 1)
			} else {
				ctrlErr = unix.SetsockoptInt(int(fd), unix.IPPROTO_IP, unix.IP_BINDANY, 1)
			}
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

// SockOptDst is unavailable on FreeBSD.
func SockOptDst(_ net.Conn) (*net.TCPAddr, error) {
	return nil, errors.New("SO_ORIGINAL_DST is only supported on linux")
}
