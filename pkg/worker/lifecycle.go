package worker

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dmitrymomot/notifykit/pkg/logger"
)

// State is a lifecycle state.
type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "stopped"
	}
}

// MarshalText renders the state name in JSON.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Hook is a start or stop callback of a worker kind.
type Hook func(ctx context.Context) error

// Lifecycle serializes Start and Stop and tracks the state.
type Lifecycle struct {
	name      string
	start     Hook
	stop      Hook
	logger    *slog.Logger
	mu        sync.Mutex
	state     atomic.Int32
	startedAt atomic.Int64
}

// NewLifecycle creates a lifecycle. A nil stop hook is allowed; a nil start
// hook makes Start fail with ErrNoStartHook.
func NewLifecycle(name string, start, stop Hook, l *slog.Logger) *Lifecycle {
	if l == nil {
		l = slog.Default()
	}
	return &Lifecycle{name: name, start: start, stop: stop, logger: l}
}

// State returns the current state.
func (l *Lifecycle) State() State { return State(l.state.Load()) }

// Running reports whether the state is running.
func (l *Lifecycle) Running() bool { return l.State() == StateRunning }

// StartedAt returns the time of the last successful start.
func (l *Lifecycle) StartedAt() time.Time {
	if ns := l.startedAt.Load(); ns > 0 {
		return time.Unix(0, ns)
	}
	return time.Time{}
}

// Start runs the start hook. No-op when already running.
func (l *Lifecycle) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.State() == StateRunning {
		return nil
	}
	if l.start == nil {
		l.state.Store(int32(StateStopped))
		l.logger.ErrorContext(ctx, "worker has no start hook", logger.Worker(l.name))
		return ErrNoStartHook
	}

	l.state.Store(int32(StateStarting))
	l.startedAt.Store(time.Now().UnixNano())
	if err := l.start(ctx); err != nil {
		l.state.Store(int32(StateStopped))
		l.logger.ErrorContext(ctx, "worker failed to start", logger.Worker(l.name), logger.Error(err))
		return err
	}
	l.state.Store(int32(StateRunning))
	l.logger.InfoContext(ctx, "worker started", logger.Worker(l.name))
	return nil
}

// Stop runs the stop hook. No-op when not running.
func (l *Lifecycle) Stop(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.State() != StateRunning {
		return nil
	}
	l.state.Store(int32(StateStopping))
	var err error
	if l.stop != nil {
		err = l.stop(ctx)
	}
	l.state.Store(int32(StateStopped))
	if err != nil {
		l.logger.WarnContext(ctx, "worker stop hook failed", logger.Worker(l.name), logger.Error(err))
		return err
	}
	l.logger.InfoContext(ctx, "worker stopped", logger.Worker(l.name))
	return nil
}
