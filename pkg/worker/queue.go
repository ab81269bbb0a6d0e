package worker

import (
	"context"
	"errors"
	"log/slog"

	"github.com/dmitrymomot/notifykit/pkg/broker"
	"github.com/dmitrymomot/notifykit/pkg/logger"
)

// QueueWorker consumes a broker queue and decodes each message into J.
type QueueWorker[J any] struct {
	*Engine[J]
	lifecycle   *Lifecycle
	provider    broker.Provider
	queue       string
	exchange    string
	routingKey  string
	requeue     bool
	concurrency int
	autoStart   bool
	logger      *slog.Logger
}

// NewQueueWorker creates a worker for queue. The queue is declared durable
// on start and bound when WithExchange is given.
func NewQueueWorker[J any](name string, provider broker.Provider, queue string, handler HandlerFunc[J], opts ...Option) *QueueWorker[J] {
	if provider == nil {
		panic("worker: nil broker provider for " + name)
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	w := &QueueWorker[J]{
		Engine:      newEngine(name, handler, o),
		provider:    provider,
		queue:       queue,
		exchange:    o.exchange,
		routingKey:  o.routingKey,
		requeue:     o.requeue,
		concurrency: o.concurrency,
		autoStart:   o.autoStart,
		logger:      o.logger.With(logger.Worker(name), logger.Queue(queue)),
	}
	w.lifecycle = NewLifecycle(name, w.startConsuming, w.stopConsuming, o.logger)
	return w
}

func (w *QueueWorker[J]) Start(ctx context.Context) error { return w.lifecycle.Start(ctx) }
func (w *QueueWorker[J]) Stop(ctx context.Context) error  { return w.lifecycle.Stop(ctx) }
func (w *QueueWorker[J]) State() State                    { return w.lifecycle.State() }
func (w *QueueWorker[J]) AutoStart() bool                 { return w.autoStart }

// Queue returns the consumed queue name.
func (w *QueueWorker[J]) Queue() string { return w.queue }

func (w *QueueWorker[J]) Stats() Stats {
	s := w.Snapshot()
	s.State = w.State()
	s.StartedAt = w.lifecycle.StartedAt()
	return s
}

func (w *QueueWorker[J]) startConsuming(ctx context.Context) error {
	return w.provider.Subscribe(ctx, w.queue, w.handle, broker.SubscribeOptions{
		Exchange:   w.exchange,
		RoutingKey: w.routingKey,
		Requeue:    w.requeue,
		Prefetch:   w.concurrency,
	})
}

func (w *QueueWorker[J]) stopConsuming(ctx context.Context) error {
	err := w.provider.Unsubscribe(ctx, w.queue)
	if errors.Is(err, broker.ErrNotSubscribed) || errors.Is(err, broker.ErrClosed) {
		return nil
	}
	return err
}

// handle settles msg itself and returns the processing outcome.
func (w *QueueWorker[J]) handle(ctx context.Context, msg *broker.Message) error {
	// Deliveries may arrive before Start has stored StateRunning.
	if st := w.State(); st == StateStopping || st == StateStopped {
		w.settle(ctx, msg.Nack(w.requeue), "nack on stopping worker")
		return ErrNotRunning
	}

	var job J
	if err := msg.Decode(ctx, &job); err != nil {
		w.logger.ErrorContext(ctx, "discarding undecodable message",
			logger.RoutingKey(msg.RoutingKey),
			logger.Error(err))
		w.settle(ctx, msg.Nack(false), "nack poison message")
		return err
	}

	if _, err := w.Process(ctx, job); err != nil {
		w.settle(ctx, msg.Nack(w.requeue), "nack failed job")
		return err
	}
	w.settle(ctx, msg.Ack(), "ack")
	return nil
}

func (w *QueueWorker[J]) settle(ctx context.Context, err error, op string) {
	if err != nil {
		w.logger.WarnContext(ctx, op+" failed", logger.Error(err))
	}
}

var _ Worker = (*QueueWorker[struct{}])(nil)
