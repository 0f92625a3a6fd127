package eventbus

import (
	"context"
	"sync"
	"time"

	id "olympus/pkg/domain"
)

// DedupStore remembers event ids the transport has acknowledged. Seen is
// checked before a send and Mark is only called after the ack, so a crash or
// store failure in between costs a duplicate send, never a lost event.
type DedupStore interface {
	Seen(ctx context.Context, eventID id.EventID) (bool, error)
	Mark(ctx context.Context, eventID id.EventID, retention time.Duration) error
}

// MemoryDedup is a process-local DedupStore.
type MemoryDedup struct {
	mu     sync.Mutex
	seen   map[id.EventID]time.Time
	now    func() time.Time
	sweeps int
}

func NewMemoryDedup() *MemoryDedup {
	return &MemoryDedup{seen: make(map[id.EventID]time.Time), now: time.Now}
}

func (d *MemoryDedup) Seen(_ context.Context, eventID id.EventID) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	exp, ok := d.seen[eventID]
	return ok && d.now().Before(exp), nil
}

func (d *MemoryDedup) Mark(_ context.Context, eventID id.EventID, retention time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	d.seen[eventID] = now.Add(retention)

	d.sweeps++
	if d.sweeps%1024 == 0 {
		for k, exp := range d.seen {
			if !now.Before(exp) {
				delete(d.seen, k)
			}
		}
	}
	return nil
}
