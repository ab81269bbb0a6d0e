package cache

import (
	"context"
	"errors"
	"time"
)

// Provider is a key-value store with TTL support.
type Provider interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// Clear removes every key owned by the provider.
	Clear(ctx context.Context) error

	// GetMany returns the found keys only.
	GetMany(ctx context.Context, keys []string) (map[string][]byte, error)
	SetMany(ctx context.Context, items map[string][]byte, ttl time.Duration) error
	DeleteMany(ctx context.Context, keys []string) error

	Close() error
}

// IsMiss reports whether err is a cache miss.
func IsMiss(err error) bool {
	return errors.Is(err, ErrCacheMiss)
}
