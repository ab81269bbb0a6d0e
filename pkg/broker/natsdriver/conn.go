package natsdriver

import (
	"context"
	"errors"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/dmitrymomot/notifykit/pkg/broker"
	"github.com/dmitrymomot/notifykit/pkg/logger"
)

const (
	headerRedelivered = "X-Redelivered"
	headerRoutingKey  = "X-Routing-Key"
	headerExchange    = "X-Exchange"
)

type binding struct {
	exchange string
	key      string
}

// Conn wraps a *nats.Conn. Exchange, queue and binding declarations are
// connection-local; broker.Client replays them after a reconnect.
type Conn struct {
	d  *Driver
	nc *nats.Conn

	mu        sync.Mutex
	exchanges map[string]broker.ExchangeKind
	queues    map[string][]binding
	consumers map[string]*consumer
	closed    bool
	closeOnce sync.Once
	closeCh   chan error
}

func newConn(d *Driver) *Conn {
	return &Conn{
		d:         d,
		exchanges: make(map[string]broker.ExchangeKind),
		queues:    make(map[string][]binding),
		consumers: make(map[string]*consumer),
		closeCh:   make(chan error, 1),
	}
}

func (c *Conn) DeclareExchange(_ context.Context, name string, opts broker.ExchangeOptions) error {
	if name == "" {
		return broker.ErrEmptyName
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return broker.ErrConnClosed
	}
	kind := opts.KindOrDefault()
	if existing, ok := c.exchanges[name]; ok && existing != kind {
		return broker.ErrExchangeMismatch
	}
	c.exchanges[name] = kind
	return nil
}

func (c *Conn) DeclareQueue(_ context.Context, name string, _ broker.QueueOptions) error {
	if name == "" {
		return broker.ErrEmptyName
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return broker.ErrConnClosed
	}
	if _, ok := c.queues[name]; !ok {
		c.queues[name] = nil
	}
	return nil
}

func (c *Conn) DeleteQueue(_ context.Context, name string) error {
	c.mu.Lock()
	delete(c.queues, name)
	var stop []*consumer
	for tag, cons := range c.consumers {
		if cons.queue == name {
			stop = append(stop, cons)
			delete(c.consumers, tag)
		}
	}
	c.mu.Unlock()

	for _, cons := range stop {
		cons.stop()
	}
	return nil
}

func (c *Conn) BindQueue(_ context.Context, queue, exchange, routingKey string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return broker.ErrConnClosed
	}
	kind, ok := c.exchanges[exchange]
	if !ok {
		c.mu.Unlock()
		return broker.ErrExchangeNotFound
	}
	bs, ok := c.queues[queue]
	if !ok {
		c.mu.Unlock()
		return broker.ErrQueueNotFound
	}
	b := binding{exchange: exchange, key: routingKey}
	for _, existing := range bs {
		if existing == b {
			c.mu.Unlock()
			return nil
		}
	}
	c.queues[queue] = append(bs, b)

	var active []*consumer
	for _, cons := range c.consumers {
		if cons.queue == queue {
			active = append(active, cons)
		}
	}
	c.mu.Unlock()

	for _, cons := range active {
		if err := cons.subscribe(bindingSubject(exchange, routingKey, kind == broker.ExchangeFanout)); err != nil {
			return err
		}
	}
	return nil
}

func (c *Conn) Publish(ctx context.Context, exchange, routingKey string, msg broker.Outgoing) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return broker.ErrConnClosed
	}

	m := nats.NewMsg(publishSubject(exchange, routingKey))
	m.Data = msg.Body
	for k, v := range msg.Headers {
		m.Header.Set(k, v)
	}
	if err := c.nc.PublishMsg(m); err != nil {
		if errors.Is(err, nats.ErrConnectionClosed) {
			return broker.ErrConnClosed
		}
		return err
	}
	if msg.Persistent {
		// Core NATS cannot persist; flushing at least confirms the server got it.
		return c.nc.FlushWithContext(ctx)
	}
	return nil
}

func (c *Conn) Consume(_ context.Context, queue, tag string, prefetch int, fn func(broker.Delivery)) error {
	if prefetch < 1 {
		prefetch = 1
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return broker.ErrConnClosed
	}
	bs, ok := c.queues[queue]
	if !ok {
		c.mu.Unlock()
		return broker.ErrQueueNotFound
	}
	kinds := make(map[string]broker.ExchangeKind, len(c.exchanges))
	for k, v := range c.exchanges {
		kinds[k] = v
	}
	cons := newConsumer(c, queue, tag, prefetch, fn)
	c.consumers[tag] = cons
	c.mu.Unlock()

	subjects := []string{directPrefix + queue, requeuePrefix + queue}
	for _, b := range bs {
		subjects = append(subjects, bindingSubject(b.exchange, b.key, kinds[b.exchange] == broker.ExchangeFanout))
	}
	for _, s := range subjects {
		if err := cons.subscribe(s); err != nil {
			_ = c.Cancel(context.Background(), tag)
			return err
		}
	}
	cons.start()
	return nil
}

func (c *Conn) Cancel(_ context.Context, tag string) error {
	c.mu.Lock()
	cons, ok := c.consumers[tag]
	delete(c.consumers, tag)
	c.mu.Unlock()
	if ok {
		cons.stop()
	}
	return nil
}

// accepts reports whether a message on subject should reach queue.
func (c *Conn) accepts(queue, subject string) (exchange, routingKey string, ok bool) {
	switch {
	case len(subject) > len(directPrefix) && subject[:len(directPrefix)] == directPrefix:
		return "", routingKeyOf("", subject), true
	case len(subject) > len(requeuePrefix) && subject[:len(requeuePrefix)] == requeuePrefix:
		return "", "", true
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, b := range c.queues[queue] {
		if len(subject) <= len(b.exchange) || subject[:len(b.exchange)+1] != b.exchange+"." {
			continue
		}
		key := routingKeyOf(b.exchange, subject)
		if broker.Route(c.exchanges[b.exchange], b.key, key) {
			return b.exchange, key, true
		}
	}
	return "", "", false
}

func (c *Conn) NotifyClose() <-chan error { return c.closeCh }

func (c *Conn) Close() error {
	c.mu.Lock()
	c.closed = true
	cons := make([]*consumer, 0, len(c.consumers))
	for _, cs := range c.consumers {
		cons = append(cons, cs)
	}
	clear(c.consumers)
	c.mu.Unlock()

	for _, cs := range cons {
		cs.stop()
	}
	if c.nc != nil {
		c.nc.Close()
	}
	c.closeOnce.Do(func() { close(c.closeCh) })
	return nil
}

// lost is called from nats.go handlers when the server connection goes away.
func (c *Conn) lost(err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	if err == nil {
		err = broker.ErrConnClosed
	}
	c.d.logger.Warn("nats connection lost",
		logger.Component("natsdriver"),
		logger.Error(err))

	c.closeOnce.Do(func() {
		c.closeCh <- err
		close(c.closeCh)
	})
}

var _ broker.Conn = (*Conn)(nil)
