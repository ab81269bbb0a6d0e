package redis

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sethvargo/go-retry"
)

// Connect parses cfg.ConnectionURL and pings the server until it answers,
// backing off exponentially between attempts (capped at MaxRetryDelay).
func Connect(ctx context.Context, cfg Config) (*redis.Client, error) {
	if cfg.ConnectionURL == "" {
		return nil, ErrEmptyURL
	}

	opts, err := redis.ParseURL(cfg.ConnectionURL)
	if err != nil {
		return nil, errors.Join(ErrInvalidURL, err)
	}

	if cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}

	var client *redis.Client
	err = retry.Do(ctx, backoff(cfg), func(ctx context.Context) error {
		c := redis.NewClient(opts)
		if err := c.Ping(ctx).Err(); err != nil {
			_ = c.Close()
			return retry.RetryableError(err)
		}
		client = c
		return nil
	})
	if err != nil {
		return nil, errors.Join(ErrNotReady, err)
	}
	return client, nil
}

func backoff(cfg Config) retry.Backoff {
	base := cfg.RetryInterval
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	b := retry.NewExponential(base)
	if cfg.MaxRetryDelay > 0 {
		b = retry.WithCappedDuration(cfg.MaxRetryDelay, b)
	}
	attempts := cfg.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}
	return retry.WithMaxRetries(uint64(attempts-1), b)
}
