package revocation

import (
	"context"
	"sync"
	"time"

	id "olympus/pkg/domain"
)

// InMemory is a process-local revocation list. Expired entries are dropped
// lazily on lookup and on every write.
type InMemory struct {
	mu      sync.Mutex
	clock   Clock
	expires map[id.SessionID]time.Time
}

func NewInMemory(clock Clock) *InMemory {
	if clock == nil {
		clock = time.Now
	}
	return &InMemory{clock: clock, expires: make(map[id.SessionID]time.Time)}
}

func (l *InMemory) RevokeSession(ctx context.Context, sessionID id.SessionID, ttl time.Duration) error {
	return l.RevokeSessions(ctx, []id.SessionID{sessionID}, ttl)
}

func (l *InMemory) RevokeSessions(_ context.Context, sessionIDs []id.SessionID, ttl time.Duration) error {
	if err := validateTTL(ttl); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clock()
	for sessionID, exp := range l.expires {
		if !now.Before(exp) {
			delete(l.expires, sessionID)
		}
	}
	for _, sessionID := range sessionIDs {
		l.expires[sessionID] = now.Add(ttl)
	}
	return nil
}

func (l *InMemory) IsSessionRevoked(_ context.Context, sessionID id.SessionID) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	exp, ok := l.expires[sessionID]
	if !ok {
		return false, nil
	}
	if !l.clock().Before(exp) {
		delete(l.expires, sessionID)
		return false, nil
	}
	return true, nil
}
