package broker

import (
	"context"
	"sync/atomic"

	"github.com/dmitrymomot/notifykit/pkg/compress"
)

// Provider is the broker abstraction consumed by workers and services.
type Provider interface {
	// Initialize connects. Calling it on a connected provider is a no-op.
	Initialize(ctx context.Context) error
	Publish(ctx context.Context, exchange, routingKey string, payload any, opts PublishOptions) error
	Subscribe(ctx context.Context, queue string, handler Handler, opts SubscribeOptions) error
	Unsubscribe(ctx context.Context, queue string) error
	CreateQueue(ctx context.Context, queue string, opts QueueOptions) error
	DeleteQueue(ctx context.Context, queue string) error
	CreateExchange(ctx context.Context, exchange string, opts ExchangeOptions) error
	BindQueue(ctx context.Context, queue, exchange, routingKey string) error
	Close() error
}

// Handler processes one message. Returning nil acks it, an error nacks it
// unless the handler already settled the message itself.
type Handler func(ctx context.Context, msg *Message) error

// Message is a decoded delivery.
type Message struct {
	// Body is the reconstructed payload: []byte, string or the generic JSON
	// shape of an object.
	Body       any
	Raw        []byte // uncompressed payload bytes
	Metadata   compress.Metadata
	Exchange   string
	RoutingKey string
	Headers    map[string]string

	Redelivered bool

	codec   *compress.Codec
	ack     func() error
	nack    func(bool) error
	settled atomic.Bool
}

// Decode unmarshals the payload into dst.
func (m *Message) Decode(ctx context.Context, dst any) error {
	env := compress.Envelope{
		Data:     m.Raw,
		Metadata: compress.Metadata{OriginalType: m.Metadata.OriginalType},
	}
	return m.codec.DecodeInto(ctx, env, dst)
}

// Ack removes the message from its queue.
func (m *Message) Ack() error {
	if !m.settled.CompareAndSwap(false, true) {
		return ErrAlreadySettled
	}
	return m.ack()
}

// Nack rejects the message, returning it to the queue when requeue is true
// and dead-lettering it otherwise.
func (m *Message) Nack(requeue bool) error {
	if !m.settled.CompareAndSwap(false, true) {
		return ErrAlreadySettled
	}
	return m.nack(requeue)
}

// Settled reports whether Ack or Nack has been called.
func (m *Message) Settled() bool { return m.settled.Load() }
