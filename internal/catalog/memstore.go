package catalog

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"
)

// Compile-time assertion that MemStore satisfies the Store interface.
var _ Store = (*MemStore)(nil)

// MemStore is a thread-safe, in-memory implementation of [Store].
// It is suitable for single-process use and testing.
type MemStore struct {
	mu      sync.RWMutex
	entries map[string]Entry
	now     func() time.Time
}

// MemOption configures a [MemStore].
type MemOption func(*MemStore)

// WithClock overrides the time source used for CreatedAt/UpdatedAt.
func WithClock(now func() time.Time) MemOption {
	return func(s *MemStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewMemStore returns an initialised [MemStore].
func NewMemStore(opts ...MemOption) *MemStore {
	s := &MemStore{
		entries: make(map[string]Entry),
		now:     time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// List implements [Store.List].
func (s *MemStore) List(_ context.Context, order Order) ([]Entry, error) {
	s.mu.RLock()
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	s.mu.RUnlock()

	sortEntries(out, order)
	return out, nil
}

// Get implements [Store.Get].
func (s *MemStore) Get(_ context.Context, key string) (Entry, error) {
	e := Entry{Key: key}
	if err := normalizeKey(&e); err != nil {
		return Entry{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	got, ok := s.entries[e.Key]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return got, nil
}

// Insert implements [Store.Insert].
func (s *MemStore) Insert(_ context.Context, e Entry) (Entry, error) {
	if err := normalizeKey(&e); err != nil {
		return Entry{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[e.Key]; exists {
		return Entry{}, ErrDuplicateKey
	}
	now := s.now()
	e.CreatedAt = now
	e.UpdatedAt = now
	s.entries[e.Key] = e
	return e, nil
}

// Update implements [Store.Update].
func (s *MemStore) Update(_ context.Context, e Entry) (Entry, error) {
	if err := normalizeKey(&e); err != nil {
		return Entry{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.entries[e.Key]
	if !ok {
		return Entry{}, ErrNotFound
	}
	cur.Clip = e.Clip
	cur.UpdatedAt = s.now()
	s.entries[e.Key] = cur
	return cur, nil
}

// Delete implements [Store.Delete].
func (s *MemStore) Delete(_ context.Context, key string) error {
	e := Entry{Key: key}
	if err := normalizeKey(&e); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[e.Key]; !ok {
		return ErrNotFound
	}
	delete(s.entries, e.Key)
	return nil
}

// DeleteAll implements [Store.DeleteAll].
func (s *MemStore) DeleteAll(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.entries)
	return nil
}

// sortEntries orders entries in place according to order.
func sortEntries(entries []Entry, order Order) {
	switch order {
	case OrderRecentlyUpdated:
		slices.SortFunc(entries, func(a, b Entry) int {
			if c := b.UpdatedAt.Compare(a.UpdatedAt); c != 0 {
				return c
			}
			return strings.Compare(a.Key, b.Key)
		})
	default:
		slices.SortFunc(entries, func(a, b Entry) int {
			return strings.Compare(a.Key, b.Key)
		})
	}
}
