package natsdriver

import (
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/dmitrymomot/notifykit/pkg/broker"
)

type consumer struct {
	conn     *Conn
	queue    string
	tag      string
	fn       func(broker.Delivery)
	prefetch int
	ch       chan *nats.Msg
	done     chan struct{}
	stopOnce sync.Once

	mu   sync.Mutex
	subs []*nats.Subscription
}

func newConsumer(c *Conn, queue, tag string, prefetch int, fn func(broker.Delivery)) *consumer {
	return &consumer{
		conn:     c,
		queue:    queue,
		tag:      tag,
		fn:       fn,
		prefetch: prefetch,
		ch:       make(chan *nats.Msg, prefetch),
		done:     make(chan struct{}),
	}
}

func (c *consumer) subscribe(subject string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.subs {
		if s.Subject == subject {
			return nil
		}
	}
	sub, err := c.conn.nc.ChanQueueSubscribe(subject, c.queue, c.ch)
	if err != nil {
		return err
	}
	c.subs = append(c.subs, sub)
	return nil
}

func (c *consumer) start() {
	for range c.prefetch {
		go c.work()
	}
}

func (c *consumer) work() {
	for {
		select {
		case <-c.done:
			return
		case m := <-c.ch:
			exchange, key, ok := c.conn.accepts(c.queue, m.Subject)
			if !ok {
				continue
			}
			c.fn(c.delivery(m, exchange, key))
		}
	}
}

func (c *consumer) delivery(m *nats.Msg, exchange, routingKey string) broker.Delivery {
	headers := make(map[string]string, len(m.Header))
	for k := range m.Header {
		headers[k] = m.Header.Get(k)
	}
	redelivered := headers[headerRedelivered] == "1"
	delete(headers, headerRedelivered)
	if orig, ok := headers[headerRoutingKey]; ok {
		routingKey = orig
		delete(headers, headerRoutingKey)
	}
	if orig, ok := headers[headerExchange]; ok {
		exchange = orig
		delete(headers, headerExchange)
	}

	republish := func(subject string, redelivered bool) error {
		out := nats.NewMsg(subject)
		out.Data = m.Data
		for k, v := range headers {
			out.Header.Set(k, v)
		}
		out.Header.Set(headerRoutingKey, routingKey)
		out.Header.Set(headerExchange, exchange)
		if redelivered {
			out.Header.Set(headerRedelivered, "1")
		}
		return c.conn.nc.PublishMsg(out)
	}

	return broker.Delivery{
		Exchange:    exchange,
		RoutingKey:  routingKey,
		Body:        m.Data,
		Headers:     headers,
		Redelivered: redelivered,
		Ack:         func() error { return nil },
		Nack: func(requeue bool) error {
			if requeue {
				return republish(requeuePrefix+c.queue, true)
			}
			return republish(deadPrefix+c.queue, false)
		},
	}
}

func (c *consumer) stop() {
	c.stopOnce.Do(func() {
		c.mu.Lock()
		for _, s := range c.subs {
			_ = s.Unsubscribe()
		}
		c.subs = nil
		c.mu.Unlock()
		close(c.done)
	})
}
