package audit

import (
	"context"
	"sync"
)

const defaultCapacity = 10_000

// MemoryStore keeps the newest entries in a bounded ring. Redelivered events
// are recorded once.
type MemoryStore struct {
	mu       sync.RWMutex
	entries  []Entry
	next     int
	full     bool
	seen     map[string]struct{}
	capacity int
}

// NewMemoryStore bounds the trail to capacity entries; capacity <= 0 uses a
// default.
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &MemoryStore{
		entries:  make([]Entry, capacity),
		seen:     make(map[string]struct{}, capacity),
		capacity: capacity,
	}
}

func (s *MemoryStore) Append(_ context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := e.EventID.String()
	if _, dup := s.seen[key]; dup {
		return nil
	}
	if s.full {
		delete(s.seen, s.entries[s.next].EventID.String())
	}
	s.entries[s.next] = e
	s.seen[key] = struct{}{}
	s.next = (s.next + 1) % s.capacity
	if s.next == 0 {
		s.full = true
	}
	return nil
}

// List returns matching entries newest first.
func (s *MemoryStore) List(_ context.Context, f Filter) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	size := s.next
	if s.full {
		size = s.capacity
	}
	var out []Entry
	for i := 0; i < size; i++ {
		e := s.entries[(s.next-1-i+s.capacity)%s.capacity]
		if !f.matches(e) {
			continue
		}
		out = append(out, e)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}
