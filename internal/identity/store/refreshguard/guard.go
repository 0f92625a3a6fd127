// Package refreshguard serializes refresh attempts per session. A holder that
// crashes loses the lock when its ttl lapses.
package refreshguard

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	id "olympus/pkg/domain"
	"olympus/pkg/platform/sentinel"
)

// Release drops a held lock. It is safe to call more than once.
type Release func(ctx context.Context) error

func noopRelease(context.Context) error { return nil }

func newToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("lock token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func validateTTL(ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("lock ttl must be positive: %w", sentinel.ErrInvalidState)
	}
	return nil
}

type heldLock struct {
	token     string
	expiresAt time.Time
}

// InMemory guards sessions within one process.
type InMemory struct {
	mu    sync.Mutex
	held  map[id.SessionID]heldLock
	clock func() time.Time
}

func NewInMemory() *InMemory {
	return &InMemory{held: make(map[id.SessionID]heldLock), clock: time.Now}
}

// WithClock replaces the clock used for lock expiry.
func (g *InMemory) WithClock(clock func() time.Time) *InMemory {
	g.clock = clock
	return g
}

// Acquire reports false when another holder owns a live lock for sessionID.
func (g *InMemory) Acquire(_ context.Context, sessionID id.SessionID, ttl time.Duration) (Release, bool, error) {
	if err := validateTTL(ttl); err != nil {
		return nil, false, err
	}
	token, err := newToken()
	if err != nil {
		return nil, false, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.clock()
	if h, ok := g.held[sessionID]; ok && now.Before(h.expiresAt) {
		return noopRelease, false, nil
	}
	g.held[sessionID] = heldLock{token: token, expiresAt: now.Add(ttl)}

	return func(context.Context) error {
		g.mu.Lock()
		defer g.mu.Unlock()
		if h, ok := g.held[sessionID]; ok && h.token == token {
			delete(g.held, sessionID)
		}
		return nil
	}, true, nil
}

const refreshLockKeyPrefix = "olympus:refresh:lock:"

// Deletes the key only while it still carries our token, so a holder whose
// ttl lapsed cannot release a successor's lock.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis guards sessions across instances with SET NX PX.
type Redis struct {
	client redis.UniversalClient
}

func NewRedis(client redis.UniversalClient) *Redis {
	return &Redis{client: client}
}

func (g *Redis) Acquire(ctx context.Context, sessionID id.SessionID, ttl time.Duration) (Release, bool, error) {
	if err := validateTTL(ttl); err != nil {
		return nil, false, err
	}
	token, err := newToken()
	if err != nil {
		return nil, false, err
	}
	key := refreshLockKeyPrefix + sessionID.String()

	ok, err := g.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire refresh lock: %w", err)
	}
	if !ok {
		return noopRelease, false, nil
	}
	return func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, g.client, []string{key}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("release refresh lock: %w", err)
		}
		return nil
	}, true, nil
}
