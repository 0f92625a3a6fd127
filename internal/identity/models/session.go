package models

import (
	"time"

	id "olympus/pkg/domain"
	dErrors "olympus/pkg/domain-errors"
)

type RevokeReason string

const (
	RevokeReasonLogout         RevokeReason = "logout"
	RevokeReasonPasswordChange RevokeReason = "password_change"
	RevokeReasonAdmin          RevokeReason = "admin"
)

// Session is one issued access/refresh pair. Only SHA-256 hashes of the
// tokens are kept.
//
// Generation starts at 1 and grows by one on every refresh. Stores advance
// it with a compare-and-swap so two refreshes of one generation cannot both
// win.
type Session struct {
	ID               id.SessionID
	TenantID         id.TenantID
	UserID           id.UserID
	AccessTokenHash  string
	RefreshTokenHash string
	Roles            []string
	DeviceLabel      string
	ClientIP         string
	Generation       int64
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
	LastActivityAt   time.Time
	RevokedAt        *time.Time
	RevokeReason     RevokeReason
	CreatedAt        time.Time
}

func (s *Session) IsRevoked() bool {
	return s.RevokedAt != nil
}

// CanRefresh checks session state in the order revoked, then expired.
func (s *Session) CanRefresh(now time.Time) error {
	if s.IsRevoked() {
		return dErrors.New(dErrors.CodeSessionRevoked, "session has been revoked")
	}
	if !now.Before(s.RefreshExpiresAt) {
		return dErrors.New(dErrors.CodeTokenExpired, "session has expired")
	}
	return nil
}

// ApplyRefresh rotates the access token hash and extends activity.
func (s *Session) ApplyRefresh(accessHash string, accessExpiresAt, now time.Time) {
	s.AccessTokenHash = accessHash
	s.AccessExpiresAt = accessExpiresAt
	s.LastActivityAt = now
	s.Generation++
}

func (s *Session) ApplyRevocation(reason RevokeReason, now time.Time) {
	s.RevokedAt = &now
	s.RevokeReason = reason
}

// RemainingLifetime is how long a revocation entry for this session must
// outlive now: until both of its tokens have expired.
func (s *Session) RemainingLifetime(now time.Time) time.Duration {
	end := s.RefreshExpiresAt
	if s.AccessExpiresAt.After(end) {
		end = s.AccessExpiresAt
	}
	if d := end.Sub(now); d > 0 {
		return d
	}
	return 0
}
