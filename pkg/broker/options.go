package broker

// ExchangeKind selects the routing algorithm of an exchange.
type ExchangeKind string

const (
	ExchangeTopic  ExchangeKind = "topic"
	ExchangeDirect ExchangeKind = "direct"
	ExchangeFanout ExchangeKind = "fanout"
)

// ExchangeOptions control exchange declaration. The zero value is a durable
// topic exchange.
type ExchangeOptions struct {
	Kind      ExchangeKind
	Transient bool
}

// KindOrDefault returns Kind, falling back to ExchangeTopic.
func (o ExchangeOptions) KindOrDefault() ExchangeKind {
	if o.Kind == "" {
		return ExchangeTopic
	}
	return o.Kind
}

// QueueOptions control queue declaration. The zero value is a durable queue.
type QueueOptions struct {
	Transient bool
}

// PublishOptions control a single Publish call.
type PublishOptions struct {
	Exchange ExchangeOptions
	Headers  map[string]string
	// Transient disables the persistence flag.
	Transient bool
}

// SubscribeOptions control a subscription.
type SubscribeOptions struct {
	// Exchange and RoutingKey bind the queue when Exchange is set.
	Exchange        string
	RoutingKey      string
	ExchangeOptions ExchangeOptions
	Queue           QueueOptions

	// Requeue decides whether a failed message goes back to the queue or
	// to its dead-letter destination.
	Requeue bool

	// Prefetch bounds concurrent deliveries. Zero uses the client default.
	Prefetch int
}

// DeadLetterQueue returns the dead-letter destination drivers use for queue.
func DeadLetterQueue(queue string) string {
	return queue + ".dead"
}
