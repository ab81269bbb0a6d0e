package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"github.com/dmitrymomot/notifykit/pkg/compress"
	"github.com/dmitrymomot/notifykit/pkg/logger"
)

type subscription struct {
	queue   string
	tag     string
	handler Handler
	opts    SubscribeOptions
	bound   Conn // connection the consumer is registered on; guarded by Client.mu
}

// Client implements Provider over a Driver.
type Client struct {
	driver            Driver
	codec             *compress.Codec
	logger            *slog.Logger
	reconnectInterval time.Duration
	maxReconnectDelay time.Duration
	prefetch          int

	initMu      sync.Mutex
	mu          sync.RWMutex
	conn        Conn
	ready       chan struct{} // closed while conn != nil
	lost        chan struct{} // closed when conn is detected dead
	initialized bool
	closed      bool
	subs        map[string]*subscription

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithCodec sets the compression codec. Defaults to compress.DefaultConfig().
func WithCodec(codec *compress.Codec) ClientOption {
	return func(c *Client) {
		if codec != nil {
			c.codec = codec
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithReconnect sets the base reconnect interval and the backoff cap.
func WithReconnect(interval, maxDelay time.Duration) ClientOption {
	return func(c *Client) {
		if interval > 0 {
			c.reconnectInterval = interval
		}
		if maxDelay > 0 {
			c.maxReconnectDelay = maxDelay
		}
	}
}

// WithPrefetch sets the prefetch used when SubscribeOptions.Prefetch is zero.
func WithPrefetch(n int) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.prefetch = n
		}
	}
}

// WithConfig applies reconnect and prefetch settings from cfg.
func WithConfig(cfg Config) ClientOption {
	return func(c *Client) {
		WithReconnect(cfg.ReconnectInterval, cfg.MaxReconnectDelay)(c)
		WithPrefetch(cfg.Prefetch)(c)
	}
}

// NewClient creates a client. Call Initialize before use.
func NewClient(driver Driver, opts ...ClientOption) *Client {
	if driver == nil {
		panic("broker: nil driver")
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		driver:            driver,
		logger:            slog.Default(),
		reconnectInterval: 5 * time.Second,
		maxReconnectDelay: time.Minute,
		prefetch:          1,
		ready:             make(chan struct{}),
		subs:              make(map[string]*subscription),
		ctx:               ctx,
		cancel:            cancel,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.codec == nil {
		c.codec = compress.New(compress.DefaultConfig(), compress.WithLogger(c.logger))
	}
	if c.maxReconnectDelay < c.reconnectInterval {
		c.maxReconnectDelay = c.reconnectInterval
	}
	return c
}

// Codec returns the codec used for payloads.
func (c *Client) Codec() *compress.Codec { return c.codec }

// Connected reports whether a live connection is held.
func (c *Client) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil
}

func (c *Client) Initialize(ctx context.Context) error {
	c.initMu.Lock()
	defer c.initMu.Unlock()

	c.mu.RLock()
	closed, initialized := c.closed, c.initialized
	c.mu.RUnlock()
	if closed {
		return ErrClosed
	}
	if initialized {
		return nil
	}

	if err := c.connect(ctx); err != nil {
		return fmt.Errorf("broker: initialize: %w", err)
	}

	c.mu.Lock()
	c.initialized = true
	c.mu.Unlock()

	c.logger.InfoContext(ctx, "broker connected", logger.Component("broker"))
	return nil
}

// connect dials, replays the subscription table and publishes the connection.
func (c *Client) connect(ctx context.Context) error {
	conn, err := c.driver.Dial(ctx)
	if err != nil {
		return err
	}

	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			_ = conn.Close()
			return ErrClosed
		}
		var pending []*subscription
		for _, s := range c.subs {
			if s.bound != conn {
				pending = append(pending, s)
			}
		}
		if len(pending) == 0 {
			c.conn = conn
			c.lost = make(chan struct{})
			close(c.ready)
			c.mu.Unlock()
			break
		}
		c.mu.Unlock()

		for _, s := range pending {
			if err := c.setup(ctx, conn, s); err != nil {
				_ = conn.Close()
				return fmt.Errorf("replay subscription %q: %w", s.queue, err)
			}
			c.mu.Lock()
			if c.subs[s.queue] == s {
				s.bound = conn
				c.mu.Unlock()
				continue
			}
			c.mu.Unlock()
			// Unsubscribed while replaying.
			_ = conn.Cancel(ctx, s.tag)
		}
	}

	c.wg.Add(1)
	go c.watch(conn)
	return nil
}

func (c *Client) watch(conn Conn) {
	defer c.wg.Done()

	var cause error
	select {
	case cause = <-conn.NotifyClose():
	case <-c.ctx.Done():
		return
	}

	c.mu.Lock()
	if c.closed || c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.ready = make(chan struct{})
	close(c.lost)
	c.mu.Unlock()

	if cause == nil {
		cause = ErrConnClosed
	}
	c.logger.Warn("broker connection lost, reconnecting",
		logger.Component("broker"),
		logger.Error(cause),
		logger.Delay(c.reconnectInterval))

	c.reconnect()
}

// reconnect retries until success or Close, doubling the delay up to
// maxReconnectDelay.
func (c *Client) reconnect() {
	select {
	case <-time.After(c.reconnectInterval):
	case <-c.ctx.Done():
		return
	}

	backoff := retry.WithCappedDuration(c.maxReconnectDelay, retry.NewExponential(c.reconnectInterval))
	attempt := 0
	err := retry.Do(c.ctx, backoff, func(ctx context.Context) error {
		attempt++
		if err := c.connect(ctx); err != nil {
			if errors.Is(err, ErrClosed) {
				return err
			}
			c.logger.Warn("broker reconnect failed",
				logger.Component("broker"),
				logger.Attempt(attempt),
				logger.Error(err))
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		// Only reachable through Close.
		return
	}

	c.mu.RLock()
	n := len(c.subs)
	c.mu.RUnlock()
	c.logger.Info("broker reconnected",
		logger.Component("broker"),
		logger.Attempt(attempt),
		slog.Int("subscriptions", n))
}

// connection returns the live connection, waiting for an in-progress
// reconnect bounded by ctx.
func (c *Client) connection(ctx context.Context) (Conn, error) {
	conn, _, err := c.acquire(ctx)
	return conn, err
}

func (c *Client) acquire(ctx context.Context) (Conn, <-chan struct{}, error) {
	for {
		c.mu.RLock()
		conn, lost, ready, closed, initialized := c.conn, c.lost, c.ready, c.closed, c.initialized
		c.mu.RUnlock()

		switch {
		case closed:
			return nil, nil, ErrClosed
		case conn != nil:
			return conn, lost, nil
		case !initialized:
			return nil, nil, ErrNotConnected
		}

		select {
		case <-ready:
		case <-ctx.Done():
			return nil, nil, errors.Join(ErrNotConnected, ctx.Err())
		case <-c.ctx.Done():
			return nil, nil, ErrClosed
		}
	}
}

// withConn runs op on the live connection. An op that fails because the
// connection died is retried once the watcher has noticed the loss and a
// new connection is up.
func (c *Client) withConn(ctx context.Context, op func(Conn) error) error {
	for {
		conn, lost, err := c.acquire(ctx)
		if err != nil {
			return err
		}
		err = op(conn)
		if err == nil || !errors.Is(err, ErrConnClosed) {
			return err
		}
		select {
		case <-lost:
		case <-ctx.Done():
			return err
		case <-c.ctx.Done():
			return ErrClosed
		}
	}
}

func (c *Client) Publish(ctx context.Context, exchange, routingKey string, payload any, opts PublishOptions) error {
	env, err := c.codec.MaybeCompress(ctx, payload)
	if err != nil {
		return err
	}

	headers := make(map[string]string, len(opts.Headers)+1)
	maps.Copy(headers, opts.Headers)
	headers[compress.HeaderName] = env.Metadata.Header()

	return c.withConn(ctx, func(conn Conn) error {
		if exchange != "" {
			if err := conn.DeclareExchange(ctx, exchange, opts.Exchange); err != nil {
				return fmt.Errorf("broker: declare exchange %q: %w", exchange, err)
			}
		}
		if err := conn.Publish(ctx, exchange, routingKey, Outgoing{
			Body:       env.Data,
			Headers:    headers,
			Persistent: !opts.Transient,
		}); err != nil {
			return fmt.Errorf("broker: publish %q/%q: %w", exchange, routingKey, err)
		}
		return nil
	})
}

func (c *Client) Subscribe(ctx context.Context, queue string, handler Handler, opts SubscribeOptions) error {
	if queue == "" {
		return ErrEmptyName
	}
	if handler == nil {
		panic("broker: nil handler")
	}
	if opts.Prefetch < 1 {
		opts.Prefetch = c.prefetch
	}

	sub := &subscription{
		queue:   queue,
		tag:     uuid.NewString(),
		handler: handler,
		opts:    opts,
	}

	c.mu.Lock()
	if _, ok := c.subs[queue]; ok {
		c.mu.Unlock()
		return ErrAlreadySubscribed
	}
	c.subs[queue] = sub
	c.mu.Unlock()

	for {
		conn, lost, err := c.acquire(ctx)
		if err != nil {
			c.forget(sub)
			return err
		}

		c.mu.RLock()
		replayed := sub.bound == conn
		c.mu.RUnlock()
		if replayed {
			return nil
		}

		err = c.setup(ctx, conn, sub)

		c.mu.Lock()
		if err == nil {
			sub.bound = conn
			c.mu.Unlock()
			return nil
		}
		stale := c.conn != conn
		c.mu.Unlock()

		if !stale && !errors.Is(err, ErrConnClosed) {
			c.forget(sub)
			return err
		}
		// The connection died mid-setup; retry on its replacement.
		select {
		case <-lost:
		case <-ctx.Done():
			c.forget(sub)
			return err
		}
	}
}

func (c *Client) forget(sub *subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subs[sub.queue] == sub {
		delete(c.subs, sub.queue)
	}
}

func (c *Client) setup(ctx context.Context, conn Conn, sub *subscription) error {
	if err := conn.DeclareQueue(ctx, sub.queue, sub.opts.Queue); err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}
	if sub.opts.Exchange != "" {
		if err := conn.DeclareExchange(ctx, sub.opts.Exchange, sub.opts.ExchangeOptions); err != nil {
			return fmt.Errorf("declare exchange: %w", err)
		}
		if err := conn.BindQueue(ctx, sub.queue, sub.opts.Exchange, sub.opts.RoutingKey); err != nil {
			return fmt.Errorf("bind queue: %w", err)
		}
	}
	return conn.Consume(ctx, sub.queue, sub.tag, sub.opts.Prefetch, func(d Delivery) {
		c.dispatch(sub, d)
	})
}

func (c *Client) dispatch(sub *subscription, d Delivery) {
	ctx := c.ctx
	log := c.logger.With(
		logger.Component("broker"),
		logger.Queue(sub.queue),
		logger.RoutingKey(d.RoutingKey))

	msg, err := c.decode(ctx, d)
	if err != nil {
		log.ErrorContext(ctx, "dropping undecodable message", logger.Error(err))
		if err := d.Nack(false); err != nil {
			log.WarnContext(ctx, "nack failed", logger.Error(err))
		}
		return
	}

	err = invoke(ctx, sub.handler, msg)
	if msg.Settled() {
		return
	}
	if err == nil {
		if err := msg.Ack(); err != nil {
			log.WarnContext(ctx, "ack failed", logger.Error(err))
		}
		return
	}

	log.WarnContext(ctx, "message handler failed",
		logger.Error(err),
		slog.Bool("requeue", sub.opts.Requeue))
	if err := msg.Nack(sub.opts.Requeue); err != nil {
		log.WarnContext(ctx, "nack failed", logger.Error(err))
	}
}

func invoke(ctx context.Context, h Handler, msg *Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
	}()
	return h(ctx, msg)
}

func (c *Client) decode(ctx context.Context, d Delivery) (*Message, error) {
	msg := &Message{
		Exchange:    d.Exchange,
		RoutingKey:  d.RoutingKey,
		Headers:     d.Headers,
		Redelivered: d.Redelivered,
		codec:       c.codec,
		ack:         d.Ack,
		nack:        d.Nack,
	}

	header, ok := d.Headers[compress.HeaderName]
	if !ok {
		// Foreign publisher: treat as plain JSON, fall back to raw bytes.
		msg.Raw = d.Body
		msg.Metadata = compress.Metadata{OriginalType: compress.TypeObject}
		body, err := c.codec.MaybeDecompress(ctx, compress.Plain(d.Body))
		if err != nil {
			msg.Metadata.OriginalType = compress.TypeBuffer
			body = d.Body
		}
		msg.Body = body
		return msg, nil
	}

	meta, err := compress.ParseHeader(header)
	if err != nil {
		return nil, err
	}
	raw, err := c.codec.Bytes(ctx, compress.Envelope{Data: d.Body, Metadata: meta})
	if err != nil {
		return nil, err
	}
	body, err := c.codec.MaybeDecompress(ctx, compress.Envelope{
		Data:     raw,
		Metadata: compress.Metadata{OriginalType: meta.OriginalType},
	})
	if err != nil {
		return nil, err
	}

	msg.Raw = raw
	msg.Metadata = meta
	msg.Body = body
	return msg, nil
}

func (c *Client) Unsubscribe(ctx context.Context, queue string) error {
	c.mu.Lock()
	sub, ok := c.subs[queue]
	if !ok {
		c.mu.Unlock()
		return ErrNotSubscribed
	}
	delete(c.subs, queue)
	conn, bound := c.conn, sub.bound
	c.mu.Unlock()

	if conn == nil || bound != conn {
		return nil
	}
	return conn.Cancel(ctx, sub.tag)
}

func (c *Client) CreateQueue(ctx context.Context, queue string, opts QueueOptions) error {
	return c.withConn(ctx, func(conn Conn) error {
		return conn.DeclareQueue(ctx, queue, opts)
	})
}

func (c *Client) DeleteQueue(ctx context.Context, queue string) error {
	return c.withConn(ctx, func(conn Conn) error {
		return conn.DeleteQueue(ctx, queue)
	})
}

func (c *Client) CreateExchange(ctx context.Context, exchange string, opts ExchangeOptions) error {
	return c.withConn(ctx, func(conn Conn) error {
		return conn.DeclareExchange(ctx, exchange, opts)
	})
}

func (c *Client) BindQueue(ctx context.Context, queue, exchange, routingKey string) error {
	return c.withConn(ctx, func(conn Conn) error {
		return conn.BindQueue(ctx, queue, exchange, routingKey)
	})
}

// Close stops reconnecting and closes the connection. Subscriptions are
// dropped.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.conn = nil
	clear(c.subs)
	c.mu.Unlock()

	c.cancel()

	var err error
	if conn != nil {
		err = conn.Close()
	}
	c.wg.Wait()
	return err
}

// Run returns a function for errgroup that closes the client when ctx ends.
func (c *Client) Run(ctx context.Context) func() error {
	return func() error {
		select {
		case <-ctx.Done():
		case <-c.ctx.Done():
		}
		return c.Close()
	}
}

var _ Provider = (*Client)(nil)
