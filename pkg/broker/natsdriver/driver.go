package natsdriver

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/dmitrymomot/notifykit/pkg/broker"
)

// Driver dials NATS connections.
type Driver struct {
	url     string
	name    string
	timeout time.Duration
	opts    []nats.Option
	logger  *slog.Logger
}

// Option configures a Driver.
type Option func(*Driver)

// WithName sets the client name reported to the server.
func WithName(name string) Option {
	return func(d *Driver) { d.name = name }
}

// WithTimeout sets the dial timeout. Default 5s.
func WithTimeout(timeout time.Duration) Option {
	return func(d *Driver) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

// WithNATSOptions appends raw nats.go options (credentials, TLS).
func WithNATSOptions(opts ...nats.Option) Option {
	return func(d *Driver) { d.opts = append(d.opts, opts...) }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Driver) {
		if l != nil {
			d.logger = l
		}
	}
}

// New creates a driver for url. An empty url uses nats.DefaultURL.
func New(url string, opts ...Option) *Driver {
	if url == "" {
		url = nats.DefaultURL
	}
	d := &Driver{
		url:     url,
		name:    "notifykit",
		timeout: 5 * time.Second,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Driver) Dial(ctx context.Context) (broker.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c := newConn(d)

	opts := append([]nats.Option{
		nats.Name(d.name),
		nats.Timeout(d.timeout),
		nats.NoReconnect(),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			c.lost(err)
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			c.lost(nc.LastError())
		}),
	}, d.opts...)

	nc, err := nats.Connect(d.url, opts...)
	if err != nil {
		return nil, errors.Join(broker.ErrNotConnected, err)
	}
	c.nc = nc
	return c, nil
}

var _ broker.Driver = (*Driver)(nil)
