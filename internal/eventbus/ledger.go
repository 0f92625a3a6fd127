package eventbus

import (
	"context"
	"sync"

	id "olympus/pkg/domain"
)

// Ledger records which events a subscriber has fully handled. A subscriber
// never runs its handler twice for an event id recorded here.
type Ledger interface {
	Processed(ctx context.Context, subscriber string, eventID id.EventID) (bool, error)
	MarkProcessed(ctx context.Context, subscriber string, eventID id.EventID) error
}

type ledgerKey struct {
	subscriber string
	eventID    id.EventID
}

// MemoryLedger keeps processed ids in memory. It forgets everything on restart,
// so only use it together with the memory transport.
type MemoryLedger struct {
	mu   sync.RWMutex
	done map[ledgerKey]struct{}
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{done: make(map[ledgerKey]struct{})}
}

func (l *MemoryLedger) Processed(_ context.Context, subscriber string, eventID id.EventID) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.done[ledgerKey{subscriber, eventID}]
	return ok, nil
}

func (l *MemoryLedger) MarkProcessed(_ context.Context, subscriber string, eventID id.EventID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.done[ledgerKey{subscriber, eventID}] = struct{}{}
	return nil
}
