package notifications

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dmitrymomot/notifykit/pkg/broker"
	"github.com/dmitrymomot/notifykit/pkg/logger"
	"github.com/dmitrymomot/notifykit/pkg/worker"
)

// Config selects the delivery channels and their queue behaviour.
type Config struct {
	Channels []string `env:"NOTIFICATIONS_CHANNELS" envDefault:"in-app,email,sms,push"`
	// Requeue returns jobs that exhausted their retries to the queue instead
	// of dead-lettering them to notifications.<channel>.dead.
	Requeue       bool          `env:"NOTIFICATIONS_REQUEUE" envDefault:"false"`
	StatsInterval time.Duration `env:"NOTIFICATIONS_STATS_INTERVAL" envDefault:"1m"`
	// StatsCacheTTL bounds how long per-user stats are memoized. Zero disables it.
	StatsCacheTTL time.Duration `env:"NOTIFICATIONS_STATS_CACHE_TTL" envDefault:"30s"`
}

// WorkerName is the registered name of the delivery worker for ch.
func WorkerName(ch DeliveryType) string { return "delivery." + string(ch) }

// NewDeliveryWorkers builds one queue worker per configured channel. Each
// consumes ch.Queue() bound to ch.RoutingKey() on Exchange.
func NewDeliveryWorkers(p broker.Provider, d *Dispatcher, cfg Config, opts ...worker.Option) ([]*worker.QueueWorker[Job], error) {
	seen := make(map[DeliveryType]bool, len(cfg.Channels))
	workers := make([]*worker.QueueWorker[Job], 0, len(cfg.Channels))
	for _, name := range cfg.Channels {
		ch, err := ParseDeliveryType(name)
		if err != nil {
			return nil, err
		}
		if ch == DeliveryNone || seen[ch] {
			continue
		}
		if _, ok := d.senders[ch]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrNoSender, ch)
		}
		seen[ch] = true

		wopts := append(append([]worker.Option{}, opts...),
			worker.WithExchange(Exchange, ch.RoutingKey()),
			worker.WithRequeue(cfg.Requeue),
		)
		workers = append(workers, worker.NewQueueWorker(WorkerName(ch), p, ch.Queue(), d.Handle, wopts...))
	}
	return workers, nil
}

// StatsSource is satisfied by worker.Manager.
type StatsSource interface {
	Stats() []worker.Stats
}

// NewStatsReporter logs a snapshot of every worker's counters each interval.
func NewStatsReporter(src StatsSource, interval time.Duration, log *slog.Logger, opts ...worker.Option) *worker.ScheduledWorker {
	if log == nil {
		log = slog.Default()
	}
	log = log.With(logger.Component("stats_reporter"))
	report := func(ctx context.Context, tick worker.Tick) (any, error) {
		stats := src.Stats()
		for _, s := range stats {
			log.InfoContext(ctx, "worker stats",
				logger.Worker(s.Name),
				slog.String("state", s.State.String()),
				slog.Uint64("processed", s.Processed),
				slog.Uint64("succeeded", s.Succeeded),
				slog.Uint64("failed", s.Failed),
				slog.Uint64("retried", s.Retried),
				slog.Int64("in_flight", s.InFlight))
		}
		return stats, nil
	}
	return worker.NewScheduledWorker("stats-reporter", interval, report, opts...)
}
