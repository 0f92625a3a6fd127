package outbox

import (
	"context"
	"sort"
	"sync"
	"time"

	"olympus/internal/eventbus"
	id "olympus/pkg/domain"
	"olympus/pkg/platform/sentinel"
)

// Memory is the outbox used when no database is configured.
type Memory struct {
	relayMu sync.Mutex

	mu      sync.Mutex
	records map[id.EventID]*Record
	seq     map[id.EventID]int
	next    int
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{records: make(map[id.EventID]*Record), seq: make(map[id.EventID]int)}
}

func (m *Memory) Append(_ context.Context, e eventbus.Event) error {
	if err := e.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[e.ID]; ok {
		return sentinel.ErrAlreadyUsed
	}
	e.Status = eventbus.StatusPending
	m.records[e.ID] = &Record{Event: e, NextAttemptAt: e.CreatedAt}
	m.seq[e.ID] = m.next
	m.next++
	return nil
}

func (m *Memory) Pending(_ context.Context, now time.Time, limit int) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	open := make([]*Record, 0, len(m.records))
	for _, r := range m.records {
		if r.Event.Status == eventbus.StatusPending {
			open = append(open, r)
		}
	}
	sort.Slice(open, func(i, j int) bool { return m.seq[open[i].Event.ID] < m.seq[open[j].Event.ID] })

	blocked := make(map[string]bool)
	var out []Record
	for _, r := range open {
		key := r.Event.OrderingKey()
		if blocked[key] {
			continue
		}
		if r.NextAttemptAt.After(now) {
			blocked[key] = true
			continue
		}
		out = append(out, *r)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) MarkPublished(_ context.Context, eventID id.EventID, now time.Time) error {
	return m.update(eventID, func(r *Record) {
		r.Event.Status = eventbus.StatusDelivered
		r.PublishedAt = &now
	})
}

func (m *Memory) MarkRetry(_ context.Context, eventID id.EventID, attempts int, next time.Time, lastErr string) error {
	return m.update(eventID, func(r *Record) {
		r.Event.Attempts = attempts
		r.NextAttemptAt = next
		r.LastError = lastErr
	})
}

func (m *Memory) MarkDeadLettered(_ context.Context, eventID id.EventID, attempts int, _ time.Time, lastErr string) error {
	return m.update(eventID, func(r *Record) {
		r.Event.Attempts = attempts
		r.Event.Status = eventbus.StatusDeadLettered
		r.LastError = lastErr
	})
}

func (m *Memory) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	m.relayMu.Lock()
	defer m.relayMu.Unlock()
	return fn(ctx)
}

// Get returns a copy of a row, for tests and diagnostics.
func (m *Memory) Get(eventID id.EventID) (Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[eventID]
	if !ok {
		return Record{}, false
	}
	return *r, true
}

func (m *Memory) update(eventID id.EventID, fn func(*Record)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[eventID]
	if !ok {
		return sentinel.ErrNotFound
	}
	fn(r)
	return nil
}

// Records returns copies of every row in append order.
func (m *Memory) Records() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return m.seq[out[i].Event.ID] < m.seq[out[j].Event.ID] })
	return out
}
