package redisdriver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/notifykit/pkg/broker"
	"github.com/dmitrymomot/notifykit/pkg/logger"
)

const bindingSep = "\x1f"

// Stream entry fields.
const (
	fieldBody        = "body"
	fieldHeaders     = "headers"
	fieldExchange    = "exchange"
	fieldRoutingKey  = "routing_key"
	fieldRedelivered = "redelivered"
)

// Conn is a logical connection; it owns consumer loops and a health probe.
type Conn struct {
	d         *Driver
	ctx       context.Context
	cancel    context.CancelFunc
	mu        sync.Mutex
	consumers map[string]*consumer
	closed    bool
	closeCh   chan error
	wg        sync.WaitGroup
}

func newConn(d *Driver) *Conn {
	ctx, cancel := context.WithCancel(context.Background())
	return &Conn{
		d:         d,
		ctx:       ctx,
		cancel:    cancel,
		consumers: make(map[string]*consumer),
		closeCh:   make(chan error, 1),
	}
}

func (c *Conn) alive() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return broker.ErrConnClosed
	}
	return nil
}

func (c *Conn) DeclareExchange(ctx context.Context, name string, opts broker.ExchangeOptions) error {
	if name == "" {
		return broker.ErrEmptyName
	}
	if err := c.alive(); err != nil {
		return err
	}
	kind := string(opts.KindOrDefault())
	rdb := c.d.client
	if _, err := rdb.HSetNX(ctx, c.d.exchangesKey(), name, kind).Result(); err != nil {
		return err
	}
	existing, err := rdb.HGet(ctx, c.d.exchangesKey(), name).Result()
	if err != nil {
		return err
	}
	if existing != kind {
		return broker.ErrExchangeMismatch
	}
	return nil
}

func (c *Conn) DeclareQueue(ctx context.Context, name string, _ broker.QueueOptions) error {
	if name == "" {
		return broker.ErrEmptyName
	}
	if err := c.alive(); err != nil {
		return err
	}
	return c.ensureQueue(ctx, name)
}

func (c *Conn) ensureQueue(ctx context.Context, name string) error {
	err := c.d.client.XGroupCreateMkStream(ctx, c.d.streamKey(name), c.d.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return err
	}
	return c.d.client.SAdd(ctx, c.d.queuesKey(), name).Err()
}

func (c *Conn) DeleteQueue(ctx context.Context, name string) error {
	if err := c.alive(); err != nil {
		return err
	}
	rdb := c.d.client
	exchanges, err := rdb.HKeys(ctx, c.d.exchangesKey()).Result()
	if err != nil {
		return err
	}

	var stale []string
	for _, ex := range exchanges {
		members, err := rdb.SMembers(ctx, c.d.bindingsKey(ex)).Result()
		if err != nil {
			return err
		}
		for _, m := range members {
			if q, _, ok := strings.Cut(m, bindingSep); ok && q == name {
				stale = append(stale, ex, m)
			}
		}
	}

	_, err = rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, c.d.streamKey(name))
		p.SRem(ctx, c.d.queuesKey(), name)
		for i := 0; i < len(stale); i += 2 {
			p.SRem(ctx, c.d.bindingsKey(stale[i]), stale[i+1])
		}
		return nil
	})
	if err != nil {
		return err
	}

	c.mu.Lock()
	for tag, cons := range c.consumers {
		if cons.queue == name {
			cons.cancel()
			delete(c.consumers, tag)
		}
	}
	c.mu.Unlock()
	return nil
}

func (c *Conn) BindQueue(ctx context.Context, queue, exchange, routingKey string) error {
	if err := c.alive(); err != nil {
		return err
	}
	rdb := c.d.client
	if err := rdb.HGet(ctx, c.d.exchangesKey(), exchange).Err(); err != nil {
		if errors.Is(err, redis.Nil) {
			return broker.ErrExchangeNotFound
		}
		return err
	}
	ok, err := rdb.SIsMember(ctx, c.d.queuesKey(), queue).Result()
	if err != nil {
		return err
	}
	if !ok {
		return broker.ErrQueueNotFound
	}
	return rdb.SAdd(ctx, c.d.bindingsKey(exchange), queue+bindingSep+routingKey).Err()
}

func (c *Conn) Publish(ctx context.Context, exchange, routingKey string, msg broker.Outgoing) error {
	if err := c.alive(); err != nil {
		return err
	}
	targets, err := c.route(ctx, exchange, routingKey)
	if err != nil {
		return err
	}
	if len(targets) == 0 {
		return nil
	}

	headers, err := json.Marshal(msg.Headers)
	if err != nil {
		return err
	}
	values := map[string]any{
		fieldBody:       msg.Body,
		fieldHeaders:    headers,
		fieldExchange:   exchange,
		fieldRoutingKey: routingKey,
	}

	_, err = c.d.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		for _, q := range targets {
			p.XAdd(ctx, &redis.XAddArgs{Stream: c.d.streamKey(q), Values: values})
		}
		return nil
	})
	return err
}

func (c *Conn) route(ctx context.Context, exchange, routingKey string) ([]string, error) {
	rdb := c.d.client
	if exchange == "" {
		ok, err := rdb.SIsMember(ctx, c.d.queuesKey(), routingKey).Result()
		if err != nil || !ok {
			return nil, err
		}
		return []string{routingKey}, nil
	}

	kind, err := rdb.HGet(ctx, c.d.exchangesKey(), exchange).Result()
	if errors.Is(err, redis.Nil) {
		return nil, broker.ErrExchangeNotFound
	}
	if err != nil {
		return nil, err
	}
	members, err := rdb.SMembers(ctx, c.d.bindingsKey(exchange)).Result()
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var targets []string
	for _, m := range members {
		q, key, ok := strings.Cut(m, bindingSep)
		if !ok {
			continue
		}
		if _, dup := seen[q]; dup {
			continue
		}
		if broker.Route(broker.ExchangeKind(kind), key, routingKey) {
			seen[q] = struct{}{}
			targets = append(targets, q)
		}
	}
	return targets, nil
}

func (c *Conn) Consume(ctx context.Context, queue, tag string, prefetch int, fn func(broker.Delivery)) error {
	if prefetch < 1 {
		prefetch = 1
	}
	ok, err := c.d.client.SIsMember(ctx, c.d.queuesKey(), queue).Result()
	if err != nil {
		return err
	}
	if !ok {
		return broker.ErrQueueNotFound
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return broker.ErrConnClosed
	}

	cctx, cancel := context.WithCancel(c.ctx)
	cons := &consumer{
		conn:   c,
		queue:  queue,
		tag:    tag,
		stream: c.d.streamKey(queue),
		slots:  make(chan struct{}, prefetch),
		fn:     fn,
		ctx:    cctx,
		cancel: cancel,
	}
	c.consumers[tag] = cons
	c.wg.Add(1)
	go cons.run()
	return nil
}

func (c *Conn) Cancel(_ context.Context, tag string) error {
	c.mu.Lock()
	cons, ok := c.consumers[tag]
	delete(c.consumers, tag)
	c.mu.Unlock()
	if ok {
		cons.cancel()
	}
	return nil
}

func (c *Conn) NotifyClose() <-chan error { return c.closeCh }

func (c *Conn) Close() error {
	c.shutdown(nil)
	c.wg.Wait()
	return nil
}

func (c *Conn) shutdown(cause error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	clear(c.consumers)
	c.mu.Unlock()

	c.cancel()
	if cause != nil {
		c.d.logger.Warn("redis broker connection failed",
			logger.Component("redisdriver"),
			logger.Error(cause))
		c.closeCh <- cause
	}
	close(c.closeCh)
}

func (c *Conn) healthLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.d.healthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(c.ctx, c.d.healthInterval)
			err := c.d.client.Ping(ctx).Err()
			cancel()
			if err != nil && c.ctx.Err() == nil {
				go c.shutdown(fmt.Errorf("health check: %w", err))
				return
			}
		}
	}
}

var _ broker.Conn = (*Conn)(nil)
