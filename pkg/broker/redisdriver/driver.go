package redisdriver

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/notifykit/pkg/broker"
)

// Driver dials logical connections over a shared Redis client. The client's
// lifetime belongs to the caller.
type Driver struct {
	client         redis.UniversalClient
	prefix         string
	group          string
	block          time.Duration
	claimIdle      time.Duration
	healthInterval time.Duration
	logger         *slog.Logger
}

// Option configures a Driver.
type Option func(*Driver)

// WithPrefix sets the key prefix. Default "broker".
func WithPrefix(prefix string) Option {
	return func(d *Driver) {
		if prefix != "" {
			d.prefix = prefix
		}
	}
}

// WithGroup sets the consumer group name. Default "broker".
func WithGroup(group string) Option {
	return func(d *Driver) {
		if group != "" {
			d.group = group
		}
	}
}

// WithBlock sets how long XREADGROUP blocks per poll. Default 1s.
func WithBlock(block time.Duration) Option {
	return func(d *Driver) {
		if block > 0 {
			d.block = block
		}
	}
}

// WithClaimIdle sets how long an entry stays pending before another consumer
// may claim it. Default 1m.
func WithClaimIdle(idle time.Duration) Option {
	return func(d *Driver) {
		if idle > 0 {
			d.claimIdle = idle
		}
	}
}

// WithHealthInterval sets the ping interval used to detect a lost server.
// Default 5s.
func WithHealthInterval(interval time.Duration) Option {
	return func(d *Driver) {
		if interval > 0 {
			d.healthInterval = interval
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Driver) {
		if l != nil {
			d.logger = l
		}
	}
}

// New creates a driver.
func New(client redis.UniversalClient, opts ...Option) *Driver {
	if client == nil {
		panic("redisdriver: nil client")
	}
	d := &Driver{
		client:         client,
		prefix:         "broker",
		group:          "broker",
		block:          time.Second,
		claimIdle:      time.Minute,
		healthInterval: 5 * time.Second,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dial pings Redis and returns a connection.
func (d *Driver) Dial(ctx context.Context) (broker.Conn, error) {
	if err := d.client.Ping(ctx).Err(); err != nil {
		return nil, errors.Join(broker.ErrNotConnected, err)
	}
	c := newConn(d)
	c.wg.Add(1)
	go c.healthLoop()
	return c, nil
}

func (d *Driver) exchangesKey() string { return d.prefix + ":exchanges" }

func (d *Driver) bindingsKey(exchange string) string {
	return d.prefix + ":exchange:" + exchange + ":bindings"
}

func (d *Driver) queuesKey() string { return d.prefix + ":queues" }

func (d *Driver) streamKey(queue string) string { return d.prefix + ":queue:" + queue }

var _ broker.Driver = (*Driver)(nil)
