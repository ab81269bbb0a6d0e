package broker

import "context"

// Driver opens connections to a concrete broker.
type Driver interface {
	Dial(ctx context.Context) (Conn, error)
}

// DriverFunc adapts a function to Driver.
type DriverFunc func(ctx context.Context) (Conn, error)

func (f DriverFunc) Dial(ctx context.Context) (Conn, error) { return f(ctx) }

// Conn is a single live broker connection. Implementations must be safe for
// concurrent use. A Conn is never reused after its NotifyClose channel fires.
type Conn interface {
	DeclareExchange(ctx context.Context, name string, opts ExchangeOptions) error
	DeclareQueue(ctx context.Context, name string, opts QueueOptions) error
	DeleteQueue(ctx context.Context, name string) error
	BindQueue(ctx context.Context, queue, exchange, routingKey string) error

	// Publish routes msg through exchange. The empty exchange delivers
	// directly to the queue named by routingKey.
	Publish(ctx context.Context, exchange, routingKey string, msg Outgoing) error

	// Consume registers fn for deliveries from queue under tag. At most
	// prefetch deliveries are in flight at once. ctx bounds the registration
	// only; deliveries continue until Cancel or the connection closes.
	Consume(ctx context.Context, queue, tag string, prefetch int, fn func(Delivery)) error
	Cancel(ctx context.Context, tag string) error

	// NotifyClose yields (or is closed) once the connection is lost.
	NotifyClose() <-chan error
	Close() error
}

// Outgoing is a message handed to Conn.Publish.
type Outgoing struct {
	Body       []byte
	Headers    map[string]string
	Persistent bool
}

// Delivery is a message received from Conn.Consume. Exactly one of Ack or
// Nack should be called.
type Delivery struct {
	Exchange    string
	RoutingKey  string
	Body        []byte
	Headers     map[string]string
	Redelivered bool
	Ack         func() error
	Nack        func(requeue bool) error
}
