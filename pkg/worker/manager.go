package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/dmitrymomot/notifykit/pkg/logger"
)

// Manager owns the workers of a process.
type Manager struct {
	mu      sync.RWMutex
	workers map[string]Worker
	order   []string
	logger  *slog.Logger
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithManagerLogger sets the logger.
func WithManagerLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// NewManager creates an empty manager.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		workers: make(map[string]Worker),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Register adds workers. Names must be unique.
func (m *Manager) Register(workers ...Worker) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, w := range workers {
		if _, ok := m.workers[w.Name()]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateWorker, w.Name())
		}
		m.workers[w.Name()] = w
		m.order = append(m.order, w.Name())
	}
	return nil
}

// Get returns a worker by name.
func (m *Manager) Get(name string) (Worker, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.workers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrWorkerNotFound, name)
	}
	return w, nil
}

// Workers returns workers in registration order.
func (m *Manager) Workers() []Worker {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Worker, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, m.workers[name])
	}
	return out
}

// Start starts one worker by name regardless of its auto-start flag.
func (m *Manager) Start(ctx context.Context, name string) error {
	w, err := m.Get(name)
	if err != nil {
		return err
	}
	return w.Start(ctx)
}

// Stop stops one worker by name.
func (m *Manager) Stop(ctx context.Context, name string) error {
	w, err := m.Get(name)
	if err != nil {
		return err
	}
	return w.Stop(ctx)
}

// StartAll starts every auto-start worker. Failures are joined; the other
// workers still start.
func (m *Manager) StartAll(ctx context.Context) error {
	var errs []error
	for _, w := range m.Workers() {
		if !w.AutoStart() {
			continue
		}
		if err := w.Start(ctx); err != nil {
			errs = append(errs, fmt.Errorf("start %s: %w", w.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// StopAll stops every worker in reverse registration order.
func (m *Manager) StopAll(ctx context.Context) error {
	workers := m.Workers()
	slices.Reverse(workers)
	var errs []error
	for _, w := range workers {
		if err := w.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop %s: %w", w.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Stats returns a snapshot per worker in registration order.
func (m *Manager) Stats() []Stats {
	workers := m.Workers()
	out := make([]Stats, 0, len(workers))
	for _, w := range workers {
		out = append(out, w.Stats())
	}
	return out
}

// Run starts all workers and stops them when ctx ends. Suitable for
// errgroup.Group.Go.
func (m *Manager) Run(ctx context.Context) func() error {
	return func() error {
		if err := m.StartAll(ctx); err != nil {
			m.logger.ErrorContext(ctx, "failed to start workers", logger.Error(err))
			_ = m.StopAll(context.WithoutCancel(ctx))
			return err
		}
		<-ctx.Done()
		return m.StopAll(context.WithoutCancel(ctx))
	}
}
