package interceptor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/die-net/tproxydebug/internal/logger"
	"github.com/die-net/tproxydebug/internal/tproxy"
)

// DefaultDrainBytes bounds the single read that consumes a client's request.
const DefaultDrainBytes = 1024

// Accept errors such as EMFILE tend to repeat immediately; retries past the
// burst are paced so the loop does not spin.
const (
	acceptRetryInterval = 50 * time.Millisecond
	acceptRetryBurst    = 16
)

type Config struct {
	// DrainBytes is the largest read issued before responding.
	DrainBytes int

	// IOTimeout, if positive, bounds the drain and the response write
	// separately. A drain that times out counts as a silent client and the
	// response is still sent.
	IOTimeout time.Duration

	// Concurrent handles each connection in its own goroutine, at most
	// MaxConns at once. Connections are still accepted in order.
	Concurrent bool
	MaxConns   int
}

type Server struct {
	cfg      Config
	log      *logger.Logger
	resolver tproxy.Resolver

	bufs         *bufferPool
	sem          *semaphore.Weighted
	acceptPacing *rate.Limiter
	stats        counters
}

// NewServer returns a Server that looks up original destinations with
// resolver. A nil resolver reads the accepted connection's local address.
func NewServer(cfg Config, log *logger.Logger, resolver tproxy.Resolver) *Server {
	if cfg.DrainBytes <= 0 {
		cfg.DrainBytes = DefaultDrainBytes
	}
	if cfg.MaxConns <= 0 {
		cfg.MaxConns = 1
	}
	if log == nil {
		log = logger.Nop()
	}
	if resolver == nil {
		resolver = tproxy.ResolverFunc(tproxy.LocalAddrDst)
	}

	return &Server{
		cfg:          cfg,
		log:          log,
		resolver:     resolver,
		bufs:         newBufferPool(cfg.DrainBytes),
		sem:          semaphore.NewWeighted(int64(cfg.MaxConns)),
		acceptPacing: rate.NewLimiter(rate.Every(acceptRetryInterval), acceptRetryBurst),
	}
}

// Stats returns the server's counters.
func (s *Server) Stats() Stats {
	return s.stats.snapshot()
}

// Serve accepts connections from ln until ln is closed or ctx is done. A
// failed Accept is logged and retried; ln is never closed by Serve. It
// returns nil on shutdown and an error only if ln was closed underneath it.
//
// In-flight connections are closed when ctx is done, and Serve waits for
// their handlers before returning.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		c, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return fmt.Errorf("accept: %w", err)
			}

			s.stats.acceptErrors.Add(1)
			s.log.Failure(fmt.Errorf("accept: %w", err))
			if err := s.acceptPacing.Wait(ctx); err != nil {
				return nil
			}
			continue
		}
		s.stats.accepted.Add(1)

		if !s.cfg.Concurrent {
			s.serveConn(ctx, c)
			continue
		}

		if err := s.sem.Acquire(ctx, 1); err != nil {
			_ = c.Close()
			return nil
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer s.sem.Release(1)
			s.serveConn(ctx, c)
		}()
	}
}

// serveConn is the per-connection error boundary: whatever happens, c is
// closed and nothing escapes to the accept loop.
func (s *Server) serveConn(ctx context.Context, c net.Conn) {
	s.stats.active.Add(1)
	defer s.stats.active.Add(-1)
	defer c.Close()

	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()

	ic, err := s.handle(c)
	if err != nil {
		s.stats.connErrors.Add(1)
		if ctx.Err() != nil {
			s.log.Debugf("shutdown: %v", err)
			return
		}
		s.log.Failure(err)
		return
	}

	s.stats.intercepted.Add(1)
	s.log.Interception(FormatEndpoint(ic.Remote), FormatEndpoint(ic.Dest))
}

// handle answers one connection. It does not close c.
func (s *Server) handle(c net.Conn) (Interception, error) {
	remote, err := tproxy.TCPAddr(c.RemoteAddr())
	if err != nil {
		return Interception{}, fmt.Errorf("remote address: %w", err)
	}

	// The destination comes from the accepted connection; the listener only
	// knows its wildcard bind address.
	dest, err := s.resolver.OriginalDst(c)
	if err != nil {
		return Interception{}, fmt.Errorf("resolve destination for %s: %w", FormatEndpoint(remote), err)
	}
	ic := Interception{Remote: remote, Dest: dest}
	s.log.Debugf("accepted %s -> %s", FormatEndpoint(remote), FormatEndpoint(dest))

	if err := s.drain(c); err != nil {
		return ic, fmt.Errorf("drain %s: %w", FormatEndpoint(remote), err)
	}

	if s.cfg.IOTimeout > 0 {
		if err := c.SetWriteDeadline(time.Now().Add(s.cfg.IOTimeout)); err != nil {
			return ic, fmt.Errorf("set write deadline %s: %w", FormatEndpoint(remote), err)
		}
	}
	if err := writeFull(c, ic.Response()); err != nil {
		return ic, fmt.Errorf("write response to %s: %w", FormatEndpoint(remote), err)
	}

	return ic, nil
}

// drain issues a single read of at most DrainBytes and discards the data.
// Short reads, EOF and (with IOTimeout) a read timeout all count as drained.
func (s *Server) drain(c net.Conn) error {
	if s.cfg.IOTimeout > 0 {
		if err := c.SetReadDeadline(time.Now().Add(s.cfg.IOTimeout)); err != nil {
			return fmt.Errorf("set read deadline: %w", err)
		}
	}

	buf := s.bufs.Get()
	defer s.bufs.Put(buf)

	n, err := c.Read(buf)
	switch {
	case err == nil, errors.Is(err, io.EOF):
		s.log.Debugf("drained %d bytes", n)
		return nil
	case s.cfg.IOTimeout > 0 && isTimeout(err):
		s.log.Debugf("drain timed out after %s", s.cfg.IOTimeout)
		return nil
	default:
		return err
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// writeFull writes all of b, retrying short writes. A write that makes no
// progress and reports no error fails with io.ErrShortWrite.
func writeFull(w io.Writer, b []byte) error {
	for len(b) > 0 {
		n, err := w.Write(b)
		if err != nil {
			return err
		}
		if n <= 0 {
			return io.ErrShortWrite
		}
		b = b[n:]
	}
	return nil
}
