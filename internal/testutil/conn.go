package testutil

import (
	"errors"
	"net"
	"sync"

	"github.com/akutz/memconn"
)

// AddrConn overrides the endpoint identities of a connection, standing in for
// a connection whose local address was rewritten by transparent interception.
type AddrConn struct {
	net.Conn
	Local  net.Addr
	Remote net.Addr
}

func (c *AddrConn) LocalAddr() net.Addr {
	if c.Local == nil {
		return c.Conn.LocalAddr()
	}
	return c.Local
}

func (c *AddrConn) RemoteAddr() net.Addr {
	if c.Remote == nil {
		return c.Conn.RemoteAddr()
	}
	return c.Remote
}

// InterceptedPipe returns an in-memory connection pair. The server side
// reports remote as its peer and dst as its local address, as a TPROXY
// delivered connection would.
func InterceptedPipe(remote, dst string) (client net.Conn, server *AddrConn) {
	var c, s net.Conn
	c, s = memconn.Pipe()
	return c, &AddrConn{
		Conn:   s,
		Local:  MustTCPAddr(dst),
		Remote: MustTCPAddr(remote),
	}
}

// MustTCPAddr resolves a literal ip:port and panics on failure.
func MustTCPAddr(s string) *net.TCPAddr {
	a, err := net.ResolveTCPAddr("tcp", s)
	if err != nil {
		panic("testutil: bad address " + s + ": " + err.Error())
	}
	return a
}

// ErrInjected is returned by FaultConn operations that are set to fail.
var ErrInjected = errors.New("injected fault")

// FaultConn fails reads and/or writes with ErrInjected.
type FaultConn struct {
	net.Conn
	FailRead  bool
	FailWrite bool
}

func (c *FaultConn) Read(b []byte) (int, error) {
	if c.FailRead {
		return 0, ErrInjected
	}
	return c.Conn.Read(b)
}

func (c *FaultConn) Write(b []byte) (int, error) {
	if c.FailWrite {
		return 0, ErrInjected
	}
	return c.Conn.Write(b)
}

// RecordingConn records the buffer size of every Read call.
type RecordingConn struct {
	net.Conn

	mu    sync.Mutex
	reads []int
}

func (c *RecordingConn) Read(b []byte) (int, error) {
	c.mu.Lock()
	c.reads = append(c.reads, len(b))
	c.mu.Unlock()
	return c.Conn.Read(b)
}

// ReadSizes returns the buffer sizes passed to Read so far.
func (c *RecordingConn) ReadSizes() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int(nil), c.reads...)
}

// ShortWriter accepts at most Max bytes per Write call.
type ShortWriter struct {
	Max   int
	Calls int
	Buf   []byte
}

func (w *ShortWriter) Write(b []byte) (int, error) {
	w.Calls++
	if len(b) > w.Max {
		b = b[:w.Max]
	}
	w.Buf = append(w.Buf, b...)
	return len(b), nil
}
