package ratelimit

import (
	"context"
	"fmt"
	"math"
	"time"
)

// Config describes one bucket shape. Populated from RATE_LIMIT_* variables.
type Config struct {
	Enabled  bool          `env:"RATE_LIMIT_ENABLED" envDefault:"true"`
	Rate     int           `env:"RATE_LIMIT_RATE" envDefault:"60"`
	Interval time.Duration `env:"RATE_LIMIT_INTERVAL" envDefault:"1m"`
	Burst    int           `env:"RATE_LIMIT_BURST" envDefault:"20"`
}

// perToken is the refill time of a single token.
func (c Config) perToken() time.Duration {
	return c.Interval / time.Duration(c.Rate)
}

func (c Config) validate() error {
	if c.Rate <= 0 || c.Interval <= 0 || c.Burst <= 0 {
		return fmt.Errorf("%w: rate %d, interval %s, burst %d", ErrInvalidConfig, c.Rate, c.Interval, c.Burst)
	}
	if c.perToken() <= 0 {
		return fmt.Errorf("%w: rate %d too high for interval %s", ErrInvalidConfig, c.Rate, c.Interval)
	}
	return nil
}

// Store keeps bucket state. Take refills the bucket for now, removes n
// tokens when available and returns the tokens left.
type Store interface {
	Take(ctx context.Context, key string, n int, cfg Config, now time.Time) (tokens float64, allowed bool, err error)
	Reset(ctx context.Context, key string) error
}

// Result is the outcome of one Allow call.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	// RetryAfter is zero when allowed.
	RetryAfter time.Duration
	// ResetAt is when the bucket is full again.
	ResetAt time.Time
}

// Limiter applies one Config to any number of keys.
type Limiter struct {
	store Store
	cfg   Config
	now   func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

func New(store Store, cfg Config, opts ...Option) (*Limiter, error) {
	if store == nil {
		return nil, ErrStoreRequired
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	l := &Limiter{store: store, cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

func (l *Limiter) Allow(ctx context.Context, key string) (Result, error) {
	return l.AllowN(ctx, key, 1)
}

// AllowN takes n tokens from key's bucket. A request larger than the burst
// is never allowed.
func (l *Limiter) AllowN(ctx context.Context, key string, n int) (Result, error) {
	if key == "" {
		return Result{}, ErrKeyRequired
	}
	n = max(n, 1)
	now := l.now()
	tokens, allowed, err := l.store.Take(ctx, key, n, l.cfg, now)
	if err != nil {
		return Result{}, err
	}

	per := l.cfg.perToken()
	res := Result{
		Allowed:   allowed,
		Limit:     l.cfg.Burst,
		Remaining: max(0, int(math.Floor(tokens))),
		ResetAt:   now.Add(scale(per, float64(l.cfg.Burst)-tokens)),
	}
	if !allowed {
		res.RetryAfter = scale(per, float64(n)-tokens)
	}
	return res, nil
}

func (l *Limiter) Reset(ctx context.Context, key string) error {
	if key == "" {
		return ErrKeyRequired
	}
	return l.store.Reset(ctx, key)
}

func scale(d time.Duration, f float64) time.Duration {
	if f <= 0 {
		return 0
	}
	return time.Duration(math.Ceil(float64(d) * f))
}

// refill returns the tokens in a bucket last updated at updated.
func refill(tokens float64, updated, now time.Time, cfg Config) float64 {
	elapsed := now.Sub(updated)
	if elapsed <= 0 {
		return tokens
	}
	return math.Min(float64(cfg.Burst), tokens+float64(elapsed)/float64(cfg.perToken()))
}
