package revocation

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	id "olympus/pkg/domain"
)

const revokedSessionKeyPrefix = "olympus:revoked:session:"

// Redis shares the revocation list across instances. Key expiry does the
// cleanup.
type Redis struct {
	client  redis.UniversalClient
	latency prometheus.Observer
}

type RedisOption func(*Redis)

// WithLatencyObserver records lookup latency in milliseconds.
func WithLatencyObserver(o prometheus.Observer) RedisOption {
	return func(r *Redis) { r.latency = o }
}

func NewRedis(client redis.UniversalClient, opts ...RedisOption) *Redis {
	r := &Redis{client: client}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Redis) RevokeSession(ctx context.Context, sessionID id.SessionID, ttl time.Duration) error {
	if err := validateTTL(ttl); err != nil {
		return err
	}
	return r.client.Set(ctx, revokedSessionKeyPrefix+sessionID.String(), "1", ttl).Err()
}

// RevokeSessions writes every entry in one pipeline round trip.
func (r *Redis) RevokeSessions(ctx context.Context, sessionIDs []id.SessionID, ttl time.Duration) error {
	if len(sessionIDs) == 0 {
		return nil
	}
	if err := validateTTL(ttl); err != nil {
		return err
	}
	pipe := r.client.Pipeline()
	for _, sessionID := range sessionIDs {
		pipe.Set(ctx, revokedSessionKeyPrefix+sessionID.String(), "1", ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (r *Redis) IsSessionRevoked(ctx context.Context, sessionID id.SessionID) (bool, error) {
	if r.latency != nil {
		start := time.Now()
		defer func() {
			r.latency.Observe(float64(time.Since(start).Microseconds()) / 1000.0)
		}()
	}
	err := r.client.Get(ctx, revokedSessionKeyPrefix+sessionID.String()).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
