package cache

import (
	"context"
	"encoding/json"
	"time"
)

// Memoize returns the cached value for key or calls load and caches its
// result. Cache read and write failures degrade to calling load directly.
func Memoize[T any](ctx context.Context, p Provider, key string, ttl time.Duration, load func(context.Context) (T, error)) (T, error) {
	if raw, err := p.Get(ctx, key); err == nil {
		var v T
		if json.Unmarshal(raw, &v) == nil {
			return v, nil
		}
	}

	v, err := load(ctx)
	if err != nil {
		return v, err
	}
	if raw, err := json.Marshal(v); err == nil {
		_ = p.Set(ctx, key, raw, ttl)
	}
	return v, nil
}
