package notifications

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/dmitrymomot/notifykit/pkg/logger"
)

// Dispatcher routes delivery jobs to the sender of their channel and
// records confirmed sends.
type Dispatcher struct {
	store   Storage
	senders map[DeliveryType]Sender
	logger  *slog.Logger
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithSender registers s for ch, replacing any previous sender.
func WithSender(ch DeliveryType, s Sender) DispatcherOption {
	return func(d *Dispatcher) {
		if s != nil {
			d.senders[ch] = s
		}
	}
}

func WithDispatcherLogger(l *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

func NewDispatcher(store Storage, opts ...DispatcherOption) *Dispatcher {
	if store == nil {
		panic("notifications: nil storage")
	}
	d := &Dispatcher{
		store:   store,
		senders: make(map[DeliveryType]Sender),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With(logger.Component("dispatcher"))
	return d
}

// Channels lists the channels with a registered sender.
func (d *Dispatcher) Channels() []DeliveryType {
	out := make([]DeliveryType, 0, len(d.senders))
	for ch := range d.senders {
		out = append(out, ch)
	}
	slices.Sort(out)
	return out
}

// Deliver sends job and marks the notification delivered. Jobs for deleted
// or already delivered notifications are skipped. Permanent failures wrap
// ErrUndeliverable.
func (d *Dispatcher) Deliver(ctx context.Context, job Job) error {
	id := job.Notification.ID
	if id == "" {
		return undeliverable(fmt.Errorf("%w: job without notification id", ErrInvalidRequest))
	}
	sender, ok := d.senders[job.DeliveryType]
	if !ok {
		return undeliverable(fmt.Errorf("%w: %q", ErrNoSender, job.DeliveryType))
	}
	log := d.logger.With(logger.NotificationID(id), logger.UserID(job.Notification.UserID),
		logger.Channel(string(job.DeliveryType)))

	n, err := d.store.Get(ctx, id)
	switch {
	case errors.Is(err, ErrNotFound):
		return undeliverable(err)
	case err != nil:
		return fmt.Errorf("load notification: %w", err)
	case n.Deleted():
		log.InfoContext(ctx, "skipping delivery of deleted notification")
		return nil
	case n.Delivered:
		log.DebugContext(ctx, "notification already delivered")
		return nil
	}

	if err := sender.Send(ctx, job); err != nil {
		return err
	}

	changed, err := d.store.MarkDelivered(ctx, id)
	if err != nil {
		return fmt.Errorf("mark delivered: %w", err)
	}
	if changed {
		log.InfoContext(ctx, "notification delivered")
	}
	return nil
}

// Handle is the delivery worker handler. Permanent failures are logged and
// acknowledged so the job is not redelivered.
func (d *Dispatcher) Handle(ctx context.Context, job Job) (any, error) {
	err := d.Deliver(ctx, job)
	if errors.Is(err, ErrUndeliverable) {
		d.logger.ErrorContext(ctx, "dropping undeliverable job",
			logger.NotificationID(job.Notification.ID),
			logger.Channel(string(job.DeliveryType)),
			logger.Error(err))
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return job.Notification.ID, nil
}
