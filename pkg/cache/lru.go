package cache

import (
	"container/list"
	"sync"
	"time"
)

type lruEntry[K comparable, V any] struct {
	key       K
	value     V
	expiresAt time.Time // zero means no expiry
}

// LRUCache is a thread-safe LRU cache with optional per-entry TTL.
// Expired entries are dropped lazily on access or when evicted by capacity.
type LRUCache[K comparable, V any] struct {
	capacity int
	items    map[K]*list.Element
	eviction *list.List
	mu       sync.Mutex
	onEvict  func(key K, value V)
	now      func() time.Time
}

// NewLRUCache creates a new LRU cache. Panics on non-positive capacity.
func NewLRUCache[K comparable, V any](capacity int) *LRUCache[K, V] {
	if capacity <= 0 {
		panic("LRU cache capacity must be positive")
	}
	return &LRUCache[K, V]{
		capacity: capacity,
		items:    make(map[K]*list.Element),
		eviction: list.New(),
		now:      time.Now,
	}
}

// SetEvictCallback sets a callback invoked for entries removed by capacity,
// expiry, Remove or Clear.
func (c *LRUCache[K, V]) SetEvictCallback(fn func(key K, value V)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onEvict = fn
}

// SetClock replaces the time source. Intended for tests.
func (c *LRUCache[K, V]) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if now != nil {
		c.now = now
	}
}

// Get returns a live value and marks it as recently used.
func (c *LRUCache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	elem, ok := c.items[key]
	if !ok {
		return zero, false
	}
	entry := elem.Value.(*lruEntry[K, V])
	if c.expired(entry) {
		c.removeElement(elem)
		return zero, false
	}
	c.eviction.MoveToFront(elem)
	return entry.value, true
}

// Put stores a value without expiry.
func (c *LRUCache[K, V]) Put(key K, value V) (V, bool) {
	return c.PutWithTTL(key, value, 0)
}

// PutWithTTL stores a value that expires after ttl (ttl <= 0 means never).
// Returns the previous live value, if any.
func (c *LRUCache[K, V]) PutWithTTL(key K, value V, ttl time.Duration) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = c.now().Add(ttl)
	}

	var zero V
	if elem, ok := c.items[key]; ok {
		entry := elem.Value.(*lruEntry[K, V])
		old, live := entry.value, !c.expired(entry)
		entry.value = value
		entry.expiresAt = expiresAt
		c.eviction.MoveToFront(elem)
		if !live {
			return zero, false
		}
		return old, true
	}

	elem := c.eviction.PushFront(&lruEntry[K, V]{key: key, value: value, expiresAt: expiresAt})
	c.items[key] = elem

	if c.eviction.Len() > c.capacity {
		if oldest := c.eviction.Back(); oldest != nil {
			c.removeElement(oldest)
		}
	}
	return zero, false
}

// Remove deletes a key and returns its value if it was live.
func (c *LRUCache[K, V]) Remove(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	elem, ok := c.items[key]
	if !ok {
		return zero, false
	}
	entry := elem.Value.(*lruEntry[K, V])
	live := !c.expired(entry)
	c.removeElement(elem)
	if !live {
		return zero, false
	}
	return entry.value, true
}

// Len returns the number of stored entries, including not yet collected
// expired ones.
func (c *LRUCache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.eviction.Len()
}

// Keys returns live keys from most to least recently used.
func (c *LRUCache[K, V]) Keys() []K {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]K, 0, c.eviction.Len())
	for elem := c.eviction.Front(); elem != nil; elem = elem.Next() {
		entry := elem.Value.(*lruEntry[K, V])
		if !c.expired(entry) {
			keys = append(keys, entry.key)
		}
	}
	return keys
}

// Clear removes all entries, invoking the evict callback for each.
func (c *LRUCache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.onEvict != nil {
		for _, elem := range c.items {
			entry := elem.Value.(*lruEntry[K, V])
			c.onEvict(entry.key, entry.value)
		}
	}
	c.items = make(map[K]*list.Element)
	c.eviction.Init()
}

// Must be called with lock held.
func (c *LRUCache[K, V]) expired(e *lruEntry[K, V]) bool {
	return !e.expiresAt.IsZero() && !c.now().Before(e.expiresAt)
}

// Must be called with lock held.
func (c *LRUCache[K, V]) removeElement(elem *list.Element) {
	c.eviction.Remove(elem)
	entry := elem.Value.(*lruEntry[K, V])
	delete(c.items, entry.key)
	if c.onEvict != nil {
		c.onEvict(entry.key, entry.value)
	}
}
