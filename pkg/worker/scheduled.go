package worker

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dmitrymomot/notifykit/pkg/logger"
)

// Tick is the job passed to a scheduled handler.
type Tick struct {
	At time.Time
}

// ScheduledWorker runs a handler every interval. A tick that fires while the
// previous run is still executing is skipped and counted.
type ScheduledWorker struct {
	*Engine[Tick]
	lifecycle *Lifecycle
	immediate bool
	autoStart bool
	logger    *slog.Logger

	mu       sync.Mutex
	interval time.Duration
	ticker   *time.Ticker
	done     chan struct{}
	nextRun  time.Time

	busy    atomic.Bool
	skipped atomic.Uint64
	wg      sync.WaitGroup
}

// NewScheduledWorker creates a worker. Panics on a non-positive interval.
func NewScheduledWorker(name string, interval time.Duration, handler HandlerFunc[Tick], opts ...Option) *ScheduledWorker {
	if interval <= 0 {
		panic("worker: non-positive interval for " + name)
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	w := &ScheduledWorker{
		Engine:    newEngine(name, handler, o),
		immediate: o.immediate,
		autoStart: o.autoStart,
		interval:  interval,
		logger:    o.logger.With(logger.Worker(name)),
	}
	w.lifecycle = NewLifecycle(name, w.arm, w.disarm, o.logger)
	return w
}

func (w *ScheduledWorker) Start(ctx context.Context) error { return w.lifecycle.Start(ctx) }
func (w *ScheduledWorker) Stop(ctx context.Context) error  { return w.lifecycle.Stop(ctx) }
func (w *ScheduledWorker) State() State                    { return w.lifecycle.State() }
func (w *ScheduledWorker) AutoStart() bool                 { return w.autoStart }

func (w *ScheduledWorker) Stats() Stats {
	s := w.Snapshot()
	s.State = w.State()
	s.StartedAt = w.lifecycle.StartedAt()
	s.Skipped = w.skipped.Load()
	return s
}

// Interval returns the current interval.
func (w *ScheduledWorker) Interval() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.interval
}

// NextRun returns when the next tick is expected; zero when stopped.
func (w *ScheduledWorker) NextRun() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.nextRun
}

// Skipped returns the number of ticks dropped by the overlap guard.
func (w *ScheduledWorker) Skipped() uint64 { return w.skipped.Load() }

// SetInterval replaces the interval and re-arms a running timer.
func (w *ScheduledWorker) SetInterval(d time.Duration) error {
	if d <= 0 {
		return ErrInvalidInterval
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.interval = d
	if w.ticker != nil {
		w.ticker.Reset(d)
		w.nextRun = time.Now().Add(d)
	}
	return nil
}

// RunNow triggers a run outside the schedule and waits for it. The timer is
// left untouched.
func (w *ScheduledWorker) RunNow(ctx context.Context) (any, error) {
	if w.State() != StateRunning {
		return nil, ErrNotRunning
	}
	if !w.busy.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	defer w.busy.Store(false)
	return w.Process(ctx, Tick{At: time.Now()})
}

// Wait blocks until runs started by the timer have returned.
func (w *ScheduledWorker) Wait() { w.wg.Wait() }

func (w *ScheduledWorker) arm(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	// Runs outlive the start call and are not cancelled by Stop.
	runCtx := context.WithoutCancel(ctx)
	w.ticker = time.NewTicker(w.interval)
	w.done = make(chan struct{})
	w.nextRun = time.Now().Add(w.interval)

	go w.loop(runCtx, w.ticker, w.done)
	if w.immediate {
		w.fire(runCtx, time.Now())
	}
	return nil
}

func (w *ScheduledWorker) disarm(context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.ticker != nil {
		w.ticker.Stop()
		close(w.done)
		w.ticker = nil
	}
	w.nextRun = time.Time{}
	return nil
}

func (w *ScheduledWorker) loop(ctx context.Context, ticker *time.Ticker, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case t := <-ticker.C:
			w.mu.Lock()
			w.nextRun = t.Add(w.interval)
			w.mu.Unlock()
			w.fire(ctx, t)
		}
	}
}

// fire starts a run unless one is in progress.
func (w *ScheduledWorker) fire(ctx context.Context, at time.Time) {
	if !w.busy.CompareAndSwap(false, true) {
		w.skipped.Add(1)
		w.logger.Debug("skipping tick, previous run still executing")
		return
	}
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer w.busy.Store(false)
		_, _ = w.Process(ctx, Tick{At: at})
	}()
}

var _ Worker = (*ScheduledWorker)(nil)
