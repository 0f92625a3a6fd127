package eventbus

import (
	"context"
	"sort"
	"sync"
	"time"

	id "olympus/pkg/domain"
)

// PublishSubscriber names the dead-letter origin for events that never reached
// the transport.
const PublishSubscriber = "publish"

// DeadLetter is an event that exhausted its retry budget, either while being
// published or while a subscriber handled it.
type DeadLetter struct {
	Event      Event
	Subscriber string
	Reason     string
	Attempts   int
	FailedAt   time.Time
}

// DeadLetterFilter narrows List. Zero values match everything.
type DeadLetterFilter struct {
	TenantID id.TenantID
	Limit    int
}

type DeadLetterStore interface {
	Put(ctx context.Context, dl DeadLetter) error
	List(ctx context.Context, filter DeadLetterFilter) ([]DeadLetter, error)
}

// MemoryDeadLetters keeps the latest dead letter per (event, subscriber).
type MemoryDeadLetters struct {
	mu      sync.RWMutex
	letters map[ledgerKey]DeadLetter
}

func NewMemoryDeadLetters() *MemoryDeadLetters {
	return &MemoryDeadLetters{letters: make(map[ledgerKey]DeadLetter)}
}

func (s *MemoryDeadLetters) Put(_ context.Context, dl DeadLetter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	dl.Event.Status = StatusDeadLettered
	s.letters[ledgerKey{dl.Subscriber, dl.Event.ID}] = dl
	return nil
}

// List returns newest first.
func (s *MemoryDeadLetters) List(_ context.Context, filter DeadLetterFilter) ([]DeadLetter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]DeadLetter, 0, len(s.letters))
	for _, dl := range s.letters {
		if !filter.TenantID.IsNil() && dl.Event.TenantID != filter.TenantID {
			continue
		}
		out = append(out, dl)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FailedAt.After(out[j].FailedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}
