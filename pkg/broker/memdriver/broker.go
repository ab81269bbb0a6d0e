package memdriver

import (
	"context"
	"errors"
	"maps"
	"sync"

	"github.com/dmitrymomot/notifykit/pkg/broker"
)

// ErrDialRefused is returned by Dial while dial failures are injected.
var ErrDialRefused = errors.New("memdriver: dial refused")

// ErrDropped is delivered on NotifyClose by DropConnections.
var ErrDropped = errors.New("memdriver: connection dropped")

type exchange struct {
	kind     broker.ExchangeKind
	bindings map[string]map[string]struct{} // queue -> binding keys
}

// Broker is the shared in-memory server state.
type Broker struct {
	mu        sync.Mutex
	exchanges map[string]*exchange
	queues    map[string]*queue
	conns     map[*Conn]struct{}
	failDials int
	nextID    uint64
}

// New creates an empty broker.
func New() *Broker {
	return &Broker{
		exchanges: make(map[string]*exchange),
		queues:    make(map[string]*queue),
		conns:     make(map[*Conn]struct{}),
	}
}

// Dial implements broker.Driver.
func (b *Broker) Dial(ctx context.Context) (broker.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.failDials > 0 {
		b.failDials--
		return nil, ErrDialRefused
	}
	c := &Conn{
		broker:    b,
		consumers: make(map[string]*consumer),
		closeCh:   make(chan error, 1),
	}
	b.conns[c] = struct{}{}
	return c, nil
}

// DropConnections closes every live connection as if the network failed.
// Unacknowledged messages return to their queues.
func (b *Broker) DropConnections() {
	b.mu.Lock()
	conns := make([]*Conn, 0, len(b.conns))
	for c := range b.conns {
		conns = append(conns, c)
	}
	b.mu.Unlock()

	for _, c := range conns {
		c.shutdown(ErrDropped)
	}
}

// FailDials makes the next n Dial calls fail.
func (b *Broker) FailDials(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failDials = n
}

// Connections returns the number of live connections.
func (b *Broker) Connections() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.conns)
}

// QueueLen returns the number of ready (not yet delivered) messages.
func (b *Broker) QueueLen(name string) int {
	b.mu.Lock()
	q, ok := b.queues[name]
	b.mu.Unlock()
	if !ok {
		return 0
	}
	return q.len()
}

// Bindings returns the binding keys of queue on exchange.
func (b *Broker) Bindings(exchangeName, queueName string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	ex, ok := b.exchanges[exchangeName]
	if !ok {
		return nil
	}
	keys := make([]string, 0, len(ex.bindings[queueName]))
	for k := range ex.bindings[queueName] {
		keys = append(keys, k)
	}
	return keys
}

func (b *Broker) declareExchange(name string, opts broker.ExchangeOptions) error {
	if name == "" {
		return broker.ErrEmptyName
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	kind := opts.KindOrDefault()
	if ex, ok := b.exchanges[name]; ok {
		if ex.kind != kind {
			return broker.ErrExchangeMismatch
		}
		return nil
	}
	b.exchanges[name] = &exchange{kind: kind, bindings: make(map[string]map[string]struct{})}
	return nil
}

func (b *Broker) declareQueue(name string) (*queue, error) {
	if name == "" {
		return nil, broker.ErrEmptyName
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.queueLocked(name), nil
}

// Must be called with b.mu held.
func (b *Broker) queueLocked(name string) *queue {
	q, ok := b.queues[name]
	if !ok {
		q = newQueue(name, b)
		b.queues[name] = q
	}
	return q
}

func (b *Broker) deleteQueue(name string) {
	b.mu.Lock()
	q, ok := b.queues[name]
	delete(b.queues, name)
	for _, ex := range b.exchanges {
		delete(ex.bindings, name)
	}
	b.mu.Unlock()
	if ok {
		q.stopConsumers()
	}
}

func (b *Broker) bind(queueName, exchangeName, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	ex, ok := b.exchanges[exchangeName]
	if !ok {
		return broker.ErrExchangeNotFound
	}
	if _, ok := b.queues[queueName]; !ok {
		return broker.ErrQueueNotFound
	}
	keys, ok := ex.bindings[queueName]
	if !ok {
		keys = make(map[string]struct{})
		ex.bindings[queueName] = keys
	}
	keys[key] = struct{}{}
	return nil
}

func (b *Broker) publish(exchangeName, routingKey string, msg broker.Outgoing) error {
	b.mu.Lock()
	var targets []*queue
	if exchangeName == "" {
		if q, ok := b.queues[routingKey]; ok {
			targets = append(targets, q)
		}
	} else {
		ex, ok := b.exchanges[exchangeName]
		if !ok {
			b.mu.Unlock()
			return broker.ErrExchangeNotFound
		}
		for qname, keys := range ex.bindings {
			for key := range keys {
				if broker.Route(ex.kind, key, routingKey) {
					targets = append(targets, b.queues[qname])
					break
				}
			}
		}
	}
	b.mu.Unlock()

	for _, q := range targets {
		b.mu.Lock()
		b.nextID++
		id := b.nextID
		b.mu.Unlock()
		q.push(&message{
			id:         id,
			exchange:   exchangeName,
			routingKey: routingKey,
			body:       append([]byte(nil), msg.Body...),
			headers:    maps.Clone(msg.Headers),
		})
	}
	return nil
}

// deadLetter moves m to the dead-letter queue of q.
func (b *Broker) deadLetter(q *queue, m *message) {
	b.mu.Lock()
	dlq := b.queueLocked(broker.DeadLetterQueue(q.name))
	b.mu.Unlock()
	m.redelivered = false
	dlq.push(m)
}

func (b *Broker) removeConn(c *Conn) {
	b.mu.Lock()
	delete(b.conns, c)
	queues := make([]*queue, 0, len(b.queues))
	for _, q := range b.queues {
		queues = append(queues, q)
	}
	b.mu.Unlock()

	for _, q := range queues {
		q.releaseOwner(c)
	}
}

var _ broker.Driver = (*Broker)(nil)
