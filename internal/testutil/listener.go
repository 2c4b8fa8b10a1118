package testutil

import (
	"net"
	"sync"
)

type acceptResult struct {
	conn net.Conn
	err  error
}

// ScriptedListener is a net.Listener whose Accept results are queued by the
// test. Accept blocks until something is queued or the listener is closed.
type ScriptedListener struct {
	addr    net.Addr
	results chan acceptResult

	closeOnce sync.Once
	done      chan struct{}
}

// NewScriptedListener returns a listener reporting addr as its bind address.
func NewScriptedListener(addr string) *ScriptedListener {
	return &ScriptedListener{
		addr:    MustTCPAddr(addr),
		results: make(chan acceptResult, 16),
		done:    make(chan struct{}),
	}
}

// Push queues a connection to be returned by Accept.
func (l *ScriptedListener) Push(c net.Conn) {
	l.results <- acceptResult{conn: c}
}

// PushErr queues an Accept error.
func (l *ScriptedListener) PushErr(err error) {
	l.results <- acceptResult{err: err}
}

func (l *ScriptedListener) Accept() (net.Conn, error) {
	// Queued results win over close so pushes made before Close are served.
	select {
	case r := <-l.results:
		return r.conn, r.err
	default:
	}

	select {
	case r := <-l.results:
		return r.conn, r.err
	case <-l.done:
		return nil, net.ErrClosed
	}
}

func (l *ScriptedListener) Close() error {
	l.closeOnce.Do(func() { close(l.done) })
	return nil
}

func (l *ScriptedListener) Addr() net.Addr {
	return l.addr
}
