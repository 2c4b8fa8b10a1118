//go:build !linux && !freebsd && !openbsd

package tproxy

import (
	"errors"
	"net"
)

// IsSupported is true on TPROXY-supporting OSes.
const IsSupported = false

// RedirectSupported is true where SO_ORIGINAL_DST lookups are available.
const RedirectSupported = false

// Listen only supports plain listeners on this platform.
func Listen(cfg ListenConfig) (net.Listener, error) {
	if cfg.Transparent {
		return nil, errors.New("transparent proxy is only supported on linux, freebsd and openbsd")
	}
	return listenPlain(cfg)
}

func SockOptDst(_ net.Conn) (*net.TCPAddr, error) {
	return nil, errors.New("SO_ORIGINAL_DST is only supported on linux")
}
