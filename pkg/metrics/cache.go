package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dmitrymomot/notifykit/pkg/cache"
)

// Cache lookup outcomes.
const (
	outcomeHit  = "hit"
	outcomeMiss = "miss"
)

// InstrumentedCache counts cache operations by outcome.
type InstrumentedCache struct {
	cache.Provider

	name string
	ops  *prometheus.CounterVec
}

// InstrumentCache wraps c. name labels the series, e.g. "presence".
func InstrumentCache(c cache.Provider, name string, reg prometheus.Registerer) (*InstrumentedCache, error) {
	ops, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "operations_total",
		Help:      "Cache operations, by cache, operation and outcome.",
	}, []string{"cache", "op", "outcome"}))
	if err != nil {
		return nil, err
	}
	return &InstrumentedCache{Provider: c, name: name, ops: ops}, nil
}

func (c *InstrumentedCache) observe(op, outcome string) {
	c.ops.WithLabelValues(c.name, op, outcome).Inc()
}

func (c *InstrumentedCache) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := c.Provider.Get(ctx, key)
	switch {
	case cache.IsMiss(err):
		c.observe("get", outcomeMiss)
	case err != nil:
		c.observe("get", resultError)
	default:
		c.observe("get", outcomeHit)
	}
	return v, err
}

func (c *InstrumentedCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	err := c.Provider.Set(ctx, key, value, ttl)
	c.observe("set", result(err))
	return err
}

func (c *InstrumentedCache) Delete(ctx context.Context, key string) error {
	err := c.Provider.Delete(ctx, key)
	c.observe("delete", result(err))
	return err
}

// GetMany counts one hit per found key and one miss per absent key.
func (c *InstrumentedCache) GetMany(ctx context.Context, keys []string) (map[string][]byte, error) {
	found, err := c.Provider.GetMany(ctx, keys)
	if err != nil {
		c.observe("get", resultError)
		return found, err
	}
	if hits := len(found); hits > 0 {
		c.ops.WithLabelValues(c.name, "get", outcomeHit).Add(float64(hits))
	}
	if misses := len(keys) - len(found); misses > 0 {
		c.ops.WithLabelValues(c.name, "get", outcomeMiss).Add(float64(misses))
	}
	return found, nil
}
