package worker

import (
	"sync/atomic"
	"time"
)

// Stats is a snapshot of a worker's counters.
type Stats struct {
	Name  string `json:"name"`
	State State  `json:"state"`

	// Processed counts attempts, Errors counts failed attempts.
	Processed uint64 `json:"processed"`
	Errors    uint64 `json:"errors"`
	// Succeeded and Failed count jobs by final outcome.
	Succeeded uint64 `json:"succeeded"`
	Failed    uint64 `json:"failed"`
	Retried   uint64 `json:"retried"`
	// Skipped counts scheduled ticks dropped because a run was still busy.
	Skipped uint64 `json:"skipped"`

	InFlight     int64     `json:"in_flight"`
	StartedAt    time.Time `json:"started_at"`
	LastActivity time.Time `json:"last_activity"`
}

type counters struct {
	processed    atomic.Uint64
	errors       atomic.Uint64
	succeeded    atomic.Uint64
	failed       atomic.Uint64
	retried      atomic.Uint64
	lastActivity atomic.Int64 // unix nanos
}

func (c *counters) touch() {
	c.lastActivity.Store(time.Now().UnixNano())
}

func (c *counters) reset() {
	c.processed.Store(0)
	c.errors.Store(0)
	c.succeeded.Store(0)
	c.failed.Store(0)
	c.retried.Store(0)
	c.lastActivity.Store(0)
}

func (c *counters) fill(s *Stats) {
	s.Processed = c.processed.Load()
	s.Errors = c.errors.Load()
	s.Succeeded = c.succeeded.Load()
	s.Failed = c.failed.Load()
	s.Retried = c.retried.Load()
	if ns := c.lastActivity.Load(); ns > 0 {
		s.LastActivity = time.Unix(0, ns)
	}
}
