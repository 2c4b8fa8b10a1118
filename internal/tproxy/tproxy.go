package tproxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// DefaultBacklog is the listen(2) backlog used when none is configured.
const DefaultBacklog = 5

// ListenConfig describes the listening socket.
type ListenConfig struct {
	// Addr is the host:port to bind, typically a wildcard such as
	// "0.0.0.0:12345".
	Addr string

	// Backlog bounds the queue of handshaken but not yet accepted
	// connections. Only Linux honours it; elsewhere the OS default applies.
	Backlog int

	// Transparent enables the OS-specific option that lets the socket
	// receive connections addressed to non-local IPs. It needs privileges.
	Transparent bool

	// KeepAlive is applied to every accepted TCP connection.
	KeepAlive net.KeepAliveConfig
}

func (c ListenConfig) backlog() int {
	if c.Backlog <= 0 {
		return DefaultBacklog
	}
	return c.Backlog
}

// Mode selects how the original destination of a connection is recovered.
type Mode string

const (
	// ModeTProxy reads the local address of the accepted connection, which
	// TPROXY (and BSD fwd/rdr-to) rewrite to the original destination.
	ModeTProxy Mode = "tproxy"

	// ModeRedirect asks netfilter for SO_ORIGINAL_DST, for REDIRECT and DNAT
	// rules. Linux only.
	ModeRedirect Mode = "redirect"
)

// ParseMode parses a case-insensitive mode name.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeTProxy, ModeRedirect:
		return m, nil
	case "":
		return "", errors.New("empty mode")
	default:
		return "", fmt.Errorf("unknown mode %q (expected %q or %q)", s, ModeTProxy, ModeRedirect)
	}
}

// Resolver recovers the address a redirected client originally dialed.
type Resolver interface {
	OriginalDst(c net.Conn) (*net.TCPAddr, error)
}

// ResolverFunc adapts a function to a Resolver.
type ResolverFunc func(c net.Conn) (*net.TCPAddr, error)

func (f ResolverFunc) OriginalDst(c net.Conn) (*net.TCPAddr, error) {
	return f(c)
}

// NewResolver returns the Resolver for mode.
func NewResolver(mode Mode) (Resolver, error) {
	switch mode {
	case ModeTProxy:
		return ResolverFunc(LocalAddrDst), nil
	case ModeRedirect:
		if !RedirectSupported {
			return nil, fmt.Errorf("mode %q is not supported on this platform", mode)
		}
		return ResolverFunc(SockOptDst), nil
	default:
		return nil, fmt.Errorf("unknown mode %q", mode)
	}
}

// LocalAddrDst returns the local address of c, which is the original
// destination when c was delivered by a TPROXY rule.
//
// c must be the accepted connection. Its listener's Addr is the bind
// address and says nothing about where the client was going.
func LocalAddrDst(c net.Conn) (*net.TCPAddr, error) {
	return TCPAddr(c.LocalAddr())
}

// TCPAddr converts addr to a *net.TCPAddr, parsing its string form when it is
// some other net.Addr implementation.
func TCPAddr(addr net.Addr) (*net.TCPAddr, error) {
	if addr == nil {
		return nil, errors.New("no address")
	}
	if ta, ok := addr.(*net.TCPAddr); ok {
		if ta == nil {
			return nil, errors.New("no address")
		}
		return ta, nil
	}
	ta, err := net.ResolveTCPAddr("tcp", addr.String())
	if err != nil {
		return nil, fmt.Errorf("not a TCP address %q: %w", addr.String(), err)
	}
	return ta, nil
}

// KeepAliveListener wraps a net.Listener and applies KeepAliveConfig to any
// accepted *net.TCPConn.
type KeepAliveListener struct {
	net.Listener
	net.KeepAliveConfig
}

// Accept accepts the next connection and applies KeepAliveConfig if the
// connection is a *net.TCPConn.
func (l *KeepAliveListener) Accept() (net.Conn, error) {
	conn, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}

	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetKeepAliveConfig(l.KeepAliveConfig)
	}

	return conn, nil
}

func listenPlain(cfg ListenConfig) (net.Listener, error) {
	lc := net.ListenConfig{}

	ln, err := lc.Listen(context.Background(), "tcp", cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", cfg.Addr, err)
	}

	return &KeepAliveListener{Listener: ln, KeepAliveConfig: cfg.KeepAlive}, nil
}
