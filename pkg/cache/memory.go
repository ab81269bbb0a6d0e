package cache

import (
	"context"
	"sync/atomic"
	"time"
)

// MemoryProvider is a process-local Provider backed by LRUCache.
type MemoryProvider struct {
	lru    *LRUCache[string, []byte]
	closed atomic.Bool
}

// NewMemoryProvider creates a provider holding at most capacity keys.
func NewMemoryProvider(capacity int) *MemoryProvider {
	return &MemoryProvider{lru: NewLRUCache[string, []byte](capacity)}
}

// LRU exposes the underlying cache (e.g. to install a test clock).
func (m *MemoryProvider) LRU() *LRUCache[string, []byte] { return m.lru }

func (m *MemoryProvider) Get(_ context.Context, key string) ([]byte, error) {
	if m.closed.Load() {
		return nil, ErrClosed
	}
	if key == "" {
		return nil, ErrEmptyKey
	}
	v, ok := m.lru.Get(key)
	if !ok {
		return nil, ErrCacheMiss
	}
	return append([]byte(nil), v...), nil
}

func (m *MemoryProvider) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if m.closed.Load() {
		return ErrClosed
	}
	if key == "" {
		return ErrEmptyKey
	}
	m.lru.PutWithTTL(key, append([]byte(nil), value...), ttl)
	return nil
}

func (m *MemoryProvider) Delete(_ context.Context, key string) error {
	if m.closed.Load() {
		return ErrClosed
	}
	m.lru.Remove(key)
	return nil
}

func (m *MemoryProvider) Clear(_ context.Context) error {
	if m.closed.Load() {
		return ErrClosed
	}
	m.lru.Clear()
	return nil
}

func (m *MemoryProvider) GetMany(ctx context.Context, keys []string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(keys))
	for _, k := range keys {
		v, err := m.Get(ctx, k)
		if IsMiss(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}

func (m *MemoryProvider) SetMany(ctx context.Context, items map[string][]byte, ttl time.Duration) error {
	for k, v := range items {
		if err := m.Set(ctx, k, v, ttl); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemoryProvider) DeleteMany(ctx context.Context, keys []string) error {
	for _, k := range keys {
		if err := m.Delete(ctx, k); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemoryProvider) Close() error {
	if m.closed.CompareAndSwap(false, true) {
		m.lru.Clear()
	}
	return nil
}
