package interceptor

import (
	"sync/atomic"
)

type counters struct {
	accepted     atomic.Uint64
	intercepted  atomic.Uint64
	connErrors   atomic.Uint64
	acceptErrors atomic.Uint64
	active       atomic.Int64
}

// Stats is a point-in-time copy of the server's counters.
type Stats struct {
	Accepted     uint64 `json:"accepted"`
	Intercepted  uint64 `json:"intercepted"`
	ConnErrors   uint64 `json:"conn_errors"`
	AcceptErrors uint64 `json:"accept_errors"`
	Active       int64  `json:"active"`
}

func (c *counters) snapshot() Stats {
	return Stats{
		Accepted:     c.accepted.Load(),
		Intercepted:  c.intercepted.Load(),
		ConnErrors:   c.connErrors.Load(),
		AcceptErrors: c.acceptErrors.Load(),
		Active:       c.active.Load(),
	}
}
