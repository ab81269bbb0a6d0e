package notifications

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"
)

// MemoryStorage keeps notifications in process memory.
type MemoryStorage struct {
	mu    sync.RWMutex
	items map[string]*Notification
	now   func() time.Time
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		items: make(map[string]*Notification),
		now:   time.Now,
	}
}

func (s *MemoryStorage) Create(_ context.Context, n Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[n.ID]; ok {
		return ErrDuplicateID
	}
	c := clone(n)
	s.items[n.ID] = &c
	return nil
}

func (s *MemoryStorage) Get(_ context.Context, id string) (*Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := clone(*n)
	return &c, nil
}

func (s *MemoryStorage) FindAndCountAll(_ context.Context, f Filter) ([]Notification, int, error) {
	s.mu.RLock()
	var matched []Notification
	for _, n := range s.items {
		if f.match(n) {
			matched = append(matched, clone(*n))
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(matched, func(a, b Notification) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		if a.ID > b.ID {
			return -1
		}
		if a.ID < b.ID {
			return 1
		}
		return 0
	})

	total := len(matched)
	start := min(max(f.Offset, 0), total)
	end := total
	if f.Limit > 0 {
		end = min(start+f.Limit, total)
	}
	return matched[start:end], total, nil
}

func (s *MemoryStorage) MarkRead(_ context.Context, userID string, ids []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	mark := func(n *Notification) int {
		if n.UserID != userID || n.Read || n.Deleted() {
			return 0
		}
		n.Read = true
		n.UpdatedAt = now
		return 1
	}

	changed := 0
	if len(ids) == 0 {
		for _, n := range s.items {
			changed += mark(n)
		}
		return changed, nil
	}
	for _, id := range uniq(ids) {
		if n, ok := s.items[id]; ok {
			changed += mark(n)
		}
	}
	return changed, nil
}

func (s *MemoryStorage) MarkDelivered(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.items[id]
	if !ok {
		return false, ErrNotFound
	}
	if n.Delivered {
		return false, nil
	}
	now := s.now()
	n.Delivered = true
	n.DeliveredAt = &now
	n.UpdatedAt = now
	return true, nil
}

func (s *MemoryStorage) SoftDelete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.items[id]
	if !ok || n.Deleted() {
		return ErrNotFound
	}
	now := s.now()
	n.DeletedAt = &now
	n.UpdatedAt = now
	return nil
}

func (s *MemoryStorage) Stats(_ context.Context, userID string) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Stats{ByType: make(map[string]int)}
	for _, n := range s.items {
		if n.UserID != userID || n.Deleted() {
			continue
		}
		st.Total++
		if !n.Read {
			st.Unread++
		}
		if n.Delivered {
			st.Delivered++
		}
		st.ByType[n.Type]++
	}
	return st, nil
}

func clone(n Notification) Notification {
	n.Data = maps.Clone(n.Data)
	if n.DeliveredAt != nil {
		t := *n.DeliveredAt
		n.DeliveredAt = &t
	}
	if n.DeletedAt != nil {
		t := *n.DeletedAt
		n.DeletedAt = &t
	}
	return n
}

func uniq(ids []string) []string {
	out := slices.Clone(ids)
	slices.Sort(out)
	return slices.Compact(out)
}

var _ Storage = (*MemoryStorage)(nil)
