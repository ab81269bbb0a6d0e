package worker

import (
	"log/slog"
	"time"
)

// Option configures a worker. Options that do not apply to a worker kind
// are ignored by it.
type Option func(*options)

type options struct {
	maxRetries  int
	baseDelay   time.Duration
	concurrency int
	autoStart   bool
	onEvent     EventHandler
	logger      *slog.Logger

	// queue workers
	exchange   string
	routingKey string
	requeue    bool

	// scheduled workers
	immediate bool
}

func defaultOptions() options {
	return options{
		maxRetries:  3,
		baseDelay:   time.Second,
		concurrency: 1,
		autoStart:   true,
		requeue:     true,
		logger:      slog.Default(),
	}
}

// WithConfig applies retry, concurrency and auto-start settings.
func WithConfig(cfg Config) Option {
	return func(o *options) {
		WithMaxRetries(cfg.MaxRetries)(o)
		WithBaseDelay(cfg.BaseDelay)(o)
		WithConcurrency(cfg.Concurrency)(o)
		o.autoStart = cfg.AutoStart
	}
}

// WithMaxRetries sets the total number of attempts per job.
func WithMaxRetries(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxRetries = n
		}
	}
}

// WithBaseDelay sets the delay before the first retry.
func WithBaseDelay(d time.Duration) Option {
	return func(o *options) {
		if d >= 0 {
			o.baseDelay = d
		}
	}
}

// WithConcurrency sets how many messages a queue worker handles at once.
func WithConcurrency(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

// WithAutoStart controls whether Manager.StartAll starts the worker.
func WithAutoStart(enabled bool) Option {
	return func(o *options) {
		o.autoStart = enabled
	}
}

// WithEventHandler receives success, retry and failure events.
func WithEventHandler(h EventHandler) Option {
	return func(o *options) {
		o.onEvent = h
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithExchange binds a queue worker's queue to exchange with routingKey.
func WithExchange(exchange, routingKey string) Option {
	return func(o *options) {
		o.exchange = exchange
		o.routingKey = routingKey
	}
}

// WithRequeue controls whether a message that exhausted its retries goes
// back to the queue (true, default) or to the dead-letter queue.
func WithRequeue(requeue bool) Option {
	return func(o *options) {
		o.requeue = requeue
	}
}

// WithImmediate makes a scheduled worker run once right after start.
func WithImmediate() Option {
	return func(o *options) {
		o.immediate = true
	}
}
