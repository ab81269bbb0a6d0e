package ratelimit

import (
	"context"
	"sync"
	"time"
)

type bucket struct {
	tokens  float64
	updated time.Time
}

// MemoryStore keeps buckets in process. Full buckets are dropped on a
// periodic sweep since they are equal to a missing one.
type MemoryStore struct {
	mu         sync.Mutex
	buckets    map[string]*bucket
	sweepEvery time.Duration
	lastSweep  time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		buckets:    make(map[string]*bucket),
		sweepEvery: time.Minute,
	}
}

func (s *MemoryStore) Take(_ context.Context, key string, n int, cfg Config, now time.Time) (float64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if now.Sub(s.lastSweep) >= s.sweepEvery {
		s.sweep(cfg, now)
	}

	b, ok := s.buckets[key]
	if !ok {
		b = &bucket{tokens: float64(cfg.Burst), updated: now}
		s.buckets[key] = b
	}
	b.tokens = refill(b.tokens, b.updated, now, cfg)
	b.updated = now

	if b.tokens < float64(n) {
		return b.tokens, false, nil
	}
	b.tokens -= float64(n)
	return b.tokens, true, nil
}

func (s *MemoryStore) Reset(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.buckets, key)
	return nil
}

// Len returns the number of tracked buckets.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buckets)
}

// Must be called with s.mu held.
func (s *MemoryStore) sweep(cfg Config, now time.Time) {
	for k, b := range s.buckets {
		if refill(b.tokens, b.updated, now, cfg) >= float64(cfg.Burst) {
			delete(s.buckets, k)
		}
	}
	s.lastSweep = now
}
