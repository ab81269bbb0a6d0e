package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisProvider stores keys in Redis under a fixed prefix.
type RedisProvider struct {
	db            redis.UniversalClient
	prefix        string
	scanBatchSize int64
}

// RedisOption configures a RedisProvider.
type RedisOption func(*RedisProvider)

// WithPrefix namespaces every key. Default "notifykit:cache:".
func WithPrefix(prefix string) RedisOption {
	return func(r *RedisProvider) { r.prefix = prefix }
}

// WithScanBatchSize sets the SCAN COUNT hint used by Clear.
func WithScanBatchSize(n int64) RedisOption {
	return func(r *RedisProvider) {
		if n > 0 {
			r.scanBatchSize = n
		}
	}
}

// NewRedisProvider wraps an existing client. The caller owns the client's
// lifetime unless Close is called.
func NewRedisProvider(client redis.UniversalClient, opts ...RedisOption) *RedisProvider {
	r := &RedisProvider{
		db:            client,
		prefix:        "notifykit:cache:",
		scanBatchSize: 1000,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *RedisProvider) key(k string) string { return r.prefix + k }

func (r *RedisProvider) Get(ctx context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}
	val, err := r.db.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	return val, err
}

// Set stores a value. Zero ttl means no expiration.
func (r *RedisProvider) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return ErrEmptyKey
	}
	return r.db.Set(ctx, r.key(key), value, ttl).Err()
}

func (r *RedisProvider) Delete(ctx context.Context, key string) error {
	if key == "" {
		return nil
	}
	return r.db.Del(ctx, r.key(key)).Err()
}

// Clear deletes prefixed keys using SCAN so Redis is never blocked.
func (r *RedisProvider) Clear(ctx context.Context) error {
	var cursor uint64
	for {
		batch, next, err := r.db.Scan(ctx, cursor, r.prefix+"*", r.scanBatchSize).Result()
		if err != nil {
			return err
		}
		if len(batch) > 0 {
			if err := r.db.Del(ctx, batch...).Err(); err != nil {
				return err
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

func (r *RedisProvider) GetMany(ctx context.Context, keys []string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = r.key(k)
	}
	values, err := r.db.MGet(ctx, full...).Result()
	if err != nil {
		return nil, err
	}
	for i, v := range values {
		if s, ok := v.(string); ok {
			out[keys[i]] = []byte(s)
		}
	}
	return out, nil
}

// SetMany writes all items in one pipeline.
func (r *RedisProvider) SetMany(ctx context.Context, items map[string][]byte, ttl time.Duration) error {
	if len(items) == 0 {
		return nil
	}
	_, err := r.db.Pipelined(ctx, func(p redis.Pipeliner) error {
		for k, v := range items {
			if k == "" {
				return ErrEmptyKey
			}
			p.Set(ctx, r.key(k), v, ttl)
		}
		return nil
	})
	return err
}

func (r *RedisProvider) DeleteMany(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = r.key(k)
	}
	return r.db.Del(ctx, full...).Err()
}

func (r *RedisProvider) Close() error {
	return r.db.Close()
}
