//go:build linux

package tproxy

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

// IsSupported is true on TPROXY-supporting OSes.
const IsSupported = true

// RedirectSupported is true where SO_ORIGINAL_DST lookups are available.
const RedirectSupported = true

// Listen binds cfg.Addr and listens with cfg.Backlog. With cfg.Transparent it
// enables IP_TRANSPARENT (IPV6_TRANSPARENT for IPv6 sockets) so the socket can
// accept connections redirected by TPROXY rules.
//
// Transparent mode requires CAP_NET_ADMIN. Note: you still need appropriate
// iptables/nft rules and policy routing.
func Listen(cfg ListenConfig) (net.Listener, error) {
	laddr, err := net.ResolveTCPAddr("tcp", cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", cfg.Addr, err)
	}

	// A nil IP (":12345") gets a dual-stack IPv6 socket, like net.Listen.
	family := unix.AF_INET6
	if ip4 := laddr.IP.To4(); ip4 != nil {
		family = unix.AF_INET
	}

	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_CLOEXEC|unix.SOCK_NONBLOCK, unix.IPPROTO_TCP)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", cfg.Addr, os.NewSyscallError("socket", err))
	}

	if err := setupSocket(fd, family, laddr, cfg); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("listen %s: %w", cfg.Addr, err)
	}

	f := os.NewFile(uintptr(fd), "tproxy:"+cfg.Addr)
	// FileListener dups the descriptor, so f is always closed here.
	ln, err := net.FileListener(f)
	_ = f.Close()
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", cfg.Addr, err)
	}

	return &KeepAliveListener{Listener: ln, KeepAliveConfig: cfg.KeepAlive}, nil
}

func setupSocket(fd, family int, laddr *net.TCPAddr, cfg ListenConfig) error {
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return os.NewSyscallError("setsockopt SO_REUSEADDR", err)
	}

	var sa unix.Sockaddr
	if family == unix.AF_INET {
		sa4 := &unix.SockaddrInet4{Port: laddr.Port}
		copy(sa4.Addr[:], laddr.IP.To4())
		sa = sa4
	} else {
		dualStack := laddr.IP == nil || laddr.IP.IsUnspecified()
		v6only := 1
		if dualStack {
			v6only = 0
		}
		if err := unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_V6ONLY, v6only); err != nil {
			return os.NewSyscallError("setsockopt IPV6_V6ONLY", err)
		}
		sa6 := &unix.SockaddrInet6{Port: laddr.Port}
		if laddr.IP != nil {
			copy(sa6.Addr[:], laddr.IP.To16())
		}
		if laddr.Zone != "" {
			ifi, err := net.InterfaceByName(laddr.Zone)
			if err != nil {
				return err
			}
			sa6.ZoneId = uint32(ifi.Index)
		}
		sa = sa6
	}

	if cfg.Transparent {
		if err := setTransparent(fd, family); err != nil {
			return err
		}
	}

	if err := unix.Bind(fd, sa); err != nil {
		return os.NewSyscallError("bind", err)
	}
	if err := unix.Listen(fd, cfg.backlog()); err != nil {
		return os.NewSyscallError("listen", err)
	}
	return nil
}

func setTransparent(fd, family int) error {
	if family == unix.AF_INET6 {
		if err := unix.SetsockoptInt(fd, unix.SOL_IPV6, unix.IPV6_TRANSPARENT, 1); err != nil {
			return os.NewSyscallError("setsockopt IPV6_TRANSPARENT", err)
		}
		// Dual-stack sockets also receive IPv4 TPROXY traffic.
		if err := unix.SetsockoptInt(fd, unix.SOL_IP, unix.IP_TRANSPARENT, 1); err != nil {
			return os.NewSyscallError("setsockopt IP_TRANSPARENT", err)
		}
		return nil
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_IP, unix.IP_TRANSPARENT, 1); err != nil {
		return os.NewSyscallError("setsockopt IP_TRANSPARENT", err)
	}
	return nil
}

// SockOptDst returns the pre-NAT destination of a connection redirected by an
// iptables REDIRECT or DNAT rule, as recorded by conntrack.
func SockOptDst(c net.Conn) (*net.TCPAddr, error) {
	tc, ok := c.(*net.TCPConn)
	if !ok {
		return nil, errors.New("SO_ORIGINAL_DST needs a *net.TCPConn")
	}
	rc, err := tc.SyscallConn()
	if err != nil {
		return nil, err
	}

	local, _ := tc.LocalAddr().(*net.TCPAddr)
	ipv6 := local != nil && local.IP.To4() == nil

	var (
		addr    *net.TCPAddr
		sockErr error
	)
	err = rc.Control(func(fd uintptr) {
		if ipv6 {
			addr, sockErr = originalDst6(int(fd))
		} else {
			addr, sockErr = originalDst4(int(fd))
		}
	})
	if err != nil {
		return nil, err
	}
	if sockErr != nil {
		return nil, sockErr
	}
	return addr, nil
}

func originalDst4(fd int) (*net.TCPAddr, error) {
	// The kernel fills a sockaddr_in, which fits in the IPv6Mreq buffer.
	mreq, err := unix.GetsockoptIPv6Mreq(fd, unix.IPPROTO_IP, unix.SO_ORIGINAL_DST)
	if err != nil {
		return nil, os.NewSyscallError("getsockopt SO_ORIGINAL_DST", err)
	}
	ip := net.IPv4(mreq.Multiaddr[4], mreq.Multiaddr[5], mreq.Multiaddr[6], mreq.Multiaddr[7])
	port := int(binary.BigEndian.Uint16(mreq.Multiaddr[2:4]))
	return &net.TCPAddr{IP: ip, Port: port}, nil
}

func originalDst6(fd int) (*net.TCPAddr, error) {
	// IP6T_SO_ORIGINAL_DST (80) has the same value as SO_ORIGINAL_DST; x/sys only exports the latter.
	info, err := unix.GetsockoptIPv6MTUInfo(fd, unix.IPPROTO_IPV6, unix.SO_ORIGINAL_DST)
	if err != nil {
		return nil, os.NewSyscallError("getsockopt IP6T_SO_ORIGINAL_DST", err)
	}
	ip := make(net.IP, net.IPv6len)
	copy(ip, info.Addr.Addr[:])
	port := int(binary.BigEndian.Uint16((*[2]byte)(unsafe.Pointer(&info.Addr.Port))[:]))
	return &net.TCPAddr{IP: ip, Port: port}, nil
}
