// Package retry holds the one retry policy used for event publishing,
// subscriber delivery, the outbox relay and the token refresh path.
package retry

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy describes a bounded exponential backoff curve.
type Policy struct {
	MaxAttempts     int           // total attempts including the first; <= 0 means 1
	InitialInterval time.Duration // delay before the second attempt
	MaxInterval     time.Duration // cap on any single delay
	Multiplier      float64
	Jitter          float64 // randomization factor in [0, 1)
}

// Default matches the publisher defaults: 3 retries after the first attempt,
// starting at 100ms and doubling.
func Default() Policy {
	return Policy{
		MaxAttempts:     4,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		Multiplier:      2,
		Jitter:          0.2,
	}
}

func (p Policy) attempts() int {
	if p.MaxAttempts <= 0 {
		return 1
	}
	return p.MaxAttempts
}

// Backoff returns the jitter-free delay that follows the given failed attempt
// (1-based). Used where the delay is persisted rather than slept, e.g. the
// outbox next_attempt_at column.
func (p Policy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(p.InitialInterval) * math.Pow(mult, float64(attempt-1))
	if p.MaxInterval > 0 && d > float64(p.MaxInterval) {
		return p.MaxInterval
	}
	return time.Duration(d)
}

// Exhausted reports whether attempt has used up the policy.
func (p Policy) Exhausted(attempt int) bool {
	return attempt >= p.attempts()
}

func (p Policy) newBackOff(ctx context.Context) backoff.BackOffContext {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.InitialInterval
	eb.MaxInterval = p.MaxInterval
	if p.Multiplier >= 1 {
		eb.Multiplier = p.Multiplier
	}
	eb.RandomizationFactor = p.Jitter
	eb.MaxElapsedTime = 0
	eb.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(eb, uint64(p.attempts()-1)), ctx)
}

// Do runs op until it succeeds, returns a Permanent error, ctx ends or the
// attempts are used up. It returns the number of attempts made and the last
// error (unwrapped from Permanent).
func (p Policy) Do(ctx context.Context, op func(ctx context.Context, attempt int) error) (int, error) {
	return p.DoNotify(ctx, op, nil)
}

// DoNotify is Do with a callback invoked before each retry sleep.
func (p Policy) DoNotify(ctx context.Context, op func(ctx context.Context, attempt int) error, notify func(err error, wait time.Duration)) (int, error) {
	attempt := 0
	err := backoff.RetryNotify(func() error {
		attempt++
		return op(ctx, attempt)
	}, p.newBackOff(ctx), notify)
	return attempt, err
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var perm *backoff.PermanentError
	return errors.As(err, &perm)
}
