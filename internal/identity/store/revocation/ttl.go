// Package revocation records revoked sessions until their tokens expire, so
// access tokens can be checked for freshness without a session lookup.
package revocation

import (
	"fmt"
	"time"

	"olympus/pkg/platform/sentinel"
)

// Clock returns the current time.
type Clock func() time.Time

func validateTTL(ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("ttl must be positive: %w", sentinel.ErrInvalidState)
	}
	return nil
}
