package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/dmitrymomot/notifykit/pkg/logger"
)

// HandlerFunc does the work for one job.
type HandlerFunc[J any] func(ctx context.Context, job J) (any, error)

// Engine runs a handler with retries and keeps the counters. It is shared by
// both worker kinds and safe for concurrent Process calls.
type Engine[J any] struct {
	name       string
	handler    HandlerFunc[J]
	maxRetries int
	baseDelay  time.Duration
	onEvent    EventHandler
	logger     *slog.Logger

	counters   counters
	processing atomic.Int64
}

// NewEngine creates an engine. Panics on a nil handler.
func NewEngine[J any](name string, handler HandlerFunc[J], opts ...Option) *Engine[J] {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return newEngine(name, handler, o)
}

func newEngine[J any](name string, handler HandlerFunc[J], o options) *Engine[J] {
	if handler == nil {
		panic("worker: nil handler for " + name)
	}
	onEvent := o.onEvent
	if onEvent == nil {
		onEvent = noopEventHandler
	}
	return &Engine[J]{
		name:       name,
		handler:    handler,
		maxRetries: o.maxRetries,
		baseDelay:  o.baseDelay,
		onEvent:    onEvent,
		logger:     o.logger.With(logger.Worker(name)),
	}
}

// Process runs job until it succeeds or maxRetries attempts have failed.
// A cancelled ctx aborts the backoff wait and returns the last handler error
// joined with the context error.
func (e *Engine[J]) Process(ctx context.Context, job J) (any, error) {
	e.processing.Add(1)
	defer e.processing.Add(-1)

	for attempt := 1; ; attempt++ {
		e.counters.touch()
		result, err := e.call(ctx, job)
		e.counters.processed.Add(1)

		if err == nil {
			e.counters.succeeded.Add(1)
			e.emit(Event{Kind: EventSuccess, Job: job, Result: result, Attempt: attempt})
			return result, nil
		}
		e.counters.errors.Add(1)

		if attempt >= e.maxRetries {
			e.counters.failed.Add(1)
			e.logger.ErrorContext(ctx, "job failed",
				logger.Attempt(attempt),
				logger.Error(err))
			e.emit(Event{Kind: EventFailure, Job: job, Err: err, Attempt: attempt})
			return nil, err
		}

		delay := e.backoff(attempt)
		e.counters.retried.Add(1)
		e.logger.WarnContext(ctx, "job attempt failed, retrying",
			logger.Attempt(attempt),
			logger.Delay(delay),
			logger.Error(err))
		e.emit(Event{Kind: EventRetry, Job: job, Err: err, Attempt: attempt, Delay: delay})

		if werr := sleep(ctx, delay); werr != nil {
			return nil, fmt.Errorf("%w (retry aborted: %w)", err, werr)
		}
	}
}

// MaxBackoff caps the delay between retries.
const MaxBackoff = time.Hour

// backoff returns baseDelay * 2^(attempt-1), capped at MaxBackoff.
func (e *Engine[J]) backoff(attempt int) time.Duration {
	shift := max(attempt-1, 0)
	if e.baseDelay <= 0 {
		return 0
	}
	if shift >= 62 || e.baseDelay > MaxBackoff>>shift {
		return MaxBackoff
	}
	return e.baseDelay << shift
}

func (e *Engine[J]) call(ctx context.Context, job J) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
	}()
	return e.handler(ctx, job)
}

func (e *Engine[J]) emit(ev Event) {
	ev.Worker = e.name
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("event handler panicked", slog.Any("panic", r))
		}
	}()
	e.onEvent(ev)
}

// Name returns the worker name.
func (e *Engine[J]) Name() string { return e.name }

// InFlight returns the number of jobs currently in Process.
func (e *Engine[J]) InFlight() int64 { return e.processing.Load() }

// Idle reports whether no job is being processed.
func (e *Engine[J]) Idle() bool { return e.processing.Load() == 0 }

// ResetStats zeroes the counters. Fails with ErrJobsInFlight while busy.
func (e *Engine[J]) ResetStats() error {
	if !e.Idle() {
		return ErrJobsInFlight
	}
	e.counters.reset()
	return nil
}

// Snapshot returns the engine counters. State and StartedAt are left to
// the worker kind.
func (e *Engine[J]) Snapshot() Stats {
	s := Stats{Name: e.name, InFlight: e.processing.Load()}
	e.counters.fill(&s)
	return s
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
