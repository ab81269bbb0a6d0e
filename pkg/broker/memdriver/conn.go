package memdriver

import (
	"context"
	"maps"
	"sync"

	"github.com/dmitrymomot/notifykit/pkg/broker"
)

type consumer struct {
	tag      string
	conn     *Conn
	queue    *queue
	slots    chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func (c *consumer) stop() {
	c.stopOnce.Do(func() { close(c.done) })
}

func (c *consumer) loop(fn func(broker.Delivery)) {
	for {
		select {
		case c.slots <- struct{}{}:
		case <-c.done:
			return
		}

		m, ok := c.queue.take(c.conn, c.done)
		if !ok {
			<-c.slots
			return
		}

		go func() {
			defer func() { <-c.slots }()
			fn(c.delivery(m))
		}()
	}
}

func (c *consumer) delivery(m *message) broker.Delivery {
	q, owner := c.queue, c.conn
	return broker.Delivery{
		Exchange:    m.exchange,
		RoutingKey:  m.routingKey,
		Body:        m.body,
		Headers:     maps.Clone(m.headers),
		Redelivered: m.redelivered,
		Ack: func() error {
			_, err := q.settle(m.id, owner)
			return err
		},
		Nack: func(requeue bool) error {
			msg, err := q.settle(m.id, owner)
			if err != nil {
				return err
			}
			if requeue {
				q.requeue(msg)
				return nil
			}
			q.broker.deadLetter(q, msg)
			return nil
		},
	}
}

// Conn is a connection to a Broker.
type Conn struct {
	broker    *Broker
	mu        sync.Mutex
	consumers map[string]*consumer
	closed    bool
	closeCh   chan error
}

func (c *Conn) alive() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return broker.ErrConnClosed
	}
	return nil
}

func (c *Conn) DeclareExchange(_ context.Context, name string, opts broker.ExchangeOptions) error {
	if err := c.alive(); err != nil {
		return err
	}
	return c.broker.declareExchange(name, opts)
}

func (c *Conn) DeclareQueue(_ context.Context, name string, _ broker.QueueOptions) error {
	if err := c.alive(); err != nil {
		return err
	}
	_, err := c.broker.declareQueue(name)
	return err
}

func (c *Conn) DeleteQueue(_ context.Context, name string) error {
	if err := c.alive(); err != nil {
		return err
	}
	c.broker.deleteQueue(name)
	return nil
}

func (c *Conn) BindQueue(_ context.Context, queue, exchange, routingKey string) error {
	if err := c.alive(); err != nil {
		return err
	}
	return c.broker.bind(queue, exchange, routingKey)
}

func (c *Conn) Publish(_ context.Context, exchange, routingKey string, msg broker.Outgoing) error {
	if err := c.alive(); err != nil {
		return err
	}
	return c.broker.publish(exchange, routingKey, msg)
}

func (c *Conn) Consume(_ context.Context, queueName, tag string, prefetch int, fn func(broker.Delivery)) error {
	if prefetch < 1 {
		prefetch = 1
	}

	c.broker.mu.Lock()
	q, ok := c.broker.queues[queueName]
	c.broker.mu.Unlock()
	if !ok {
		return broker.ErrQueueNotFound
	}

	cons := &consumer{
		tag:   tag,
		conn:  c,
		queue: q,
		slots: make(chan struct{}, prefetch),
		done:  make(chan struct{}),
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return broker.ErrConnClosed
	}
	c.consumers[tag] = cons
	c.mu.Unlock()

	q.addConsumer(cons)
	go cons.loop(fn)
	return nil
}

func (c *Conn) Cancel(_ context.Context, tag string) error {
	c.mu.Lock()
	cons, ok := c.consumers[tag]
	delete(c.consumers, tag)
	c.mu.Unlock()
	if !ok {
		return nil
	}
	cons.queue.removeConsumer(tag)
	cons.stop()
	return nil
}

func (c *Conn) NotifyClose() <-chan error { return c.closeCh }

func (c *Conn) Close() error {
	c.shutdown(nil)
	return nil
}

func (c *Conn) shutdown(cause error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
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
	c.broker.removeConn(c)

	if cause != nil {
		c.closeCh <- cause
	}
	close(c.closeCh)
}

var _ broker.Conn = (*Conn)(nil)
