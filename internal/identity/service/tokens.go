package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"olympus/internal/identity/models"
	"olympus/internal/identity/token"
	id "olympus/pkg/domain"
	dErrors "olympus/pkg/domain-errors"
	"olympus/pkg/platform/sentinel"
	"olympus/pkg/requestcontext"
)

type RefreshResult struct {
	AccessToken     string
	ExpiresIn       time.Duration
	AccessExpiresAt time.Time
	SessionID       id.SessionID
}

// Validate verifies an access token's signature, expiry and claim shape
// without touching any store.
func (s *Service) Validate(ctx context.Context, raw string) (*id.Claims, error) {
	return s.tokens.ParseAccess(raw, requestcontext.Now(ctx))
}

// ValidateFresh is Validate plus a revocation list lookup, for callers that
// must observe logouts before the access token expires. A failed lookup is
// reported as unavailable rather than treated as "not revoked".
func (s *Service) ValidateFresh(ctx context.Context, raw string) (*id.Claims, error) {
	claims, err := s.Validate(ctx, raw)
	if err != nil {
		return nil, err
	}
	if s.revocation == nil {
		return claims, nil
	}
	revoked, err := s.revocation.IsSessionRevoked(ctx, claims.SessionID)
	if err != nil {
		s.incrementRevocationFailure()
		s.logger.ErrorContext(ctx, "revocation lookup failed", "session_id", claims.SessionID, "error", err)
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "cannot confirm session state")
	}
	if revoked {
		return nil, dErrors.New(dErrors.CodeSessionRevoked, "session has been revoked")
	}
	return claims, nil
}

// Refresh issues a new access token for the session behind a refresh token.
// Checks run signature, expiry, then session state. Concurrent refreshes of
// one session are serialized by the refresh guard and the store's generation
// compare-and-swap; the loser gets ConcurrentRefresh.
func (s *Service) Refresh(ctx context.Context, raw string) (*RefreshResult, error) {
	ctx, span := tracer.Start(ctx, "identity.refresh")
	defer span.End()

	result, outcome, err := s.refresh(ctx, raw)
	s.incrementRefresh(outcome)
	if err != nil {
		span.SetStatus(codes.Error, outcome)
		return nil, err
	}
	span.SetAttributes(attribute.String("session.id", result.SessionID.String()))
	return result, nil
}

func (s *Service) refresh(ctx context.Context, raw string) (*RefreshResult, string, error) {
	now := requestcontext.Now(ctx)
	rc, err := s.tokens.ParseRefresh(raw, now)
	if err != nil {
		return nil, string(dErrors.CodeOf(err)), err
	}

	ctx = context.WithoutCancel(ctx)

	var sess *models.Session
	err = s.retryTransient(ctx, func(ctx context.Context) error {
		found, err := s.sessions.FindByID(ctx, rc.TenantID, rc.SessionID)
		sess = found
		return err
	})
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, "invalid", dErrors.New(dErrors.CodeTokenInvalid, "refresh token is not recognized")
	}
	if err != nil {
		return nil, "error", storeErr(err, dErrors.CodeTokenInvalid, "failed to load session")
	}
	if sess.UserID != rc.Subject || subtle.ConstantTimeCompare([]byte(token.Hash(raw)), []byte(sess.RefreshTokenHash)) != 1 {
		return nil, "invalid", dErrors.New(dErrors.CodeTokenInvalid, "refresh token is not recognized")
	}
	if err := sess.CanRefresh(now); err != nil {
		return nil, string(dErrors.CodeOf(err)), err
	}

	release, acquired, err := s.guard.Acquire(ctx, sess.ID, s.refreshLockTTL)
	if err != nil {
		return nil, "error", dErrors.Wrap(err, dErrors.CodeUnavailable, "refresh lock unavailable")
	}
	if !acquired {
		return nil, "concurrent", dErrors.New(dErrors.CodeConcurrentRefresh, "session is already being refreshed")
	}
	defer func() {
		if err := release(ctx); err != nil {
			s.logger.WarnContext(ctx, "failed to release refresh lock", "session_id", sess.ID, "error", err)
		}
	}()

	access, err := s.tokens.IssueAccess(sess.UserID, sess.TenantID, sess.Roles, sess.ID, now)
	if err != nil {
		return nil, "error", dErrors.Wrap(err, dErrors.CodeInternal, "failed to issue access token")
	}

	var updated *models.Session
	err = s.retryTransient(ctx, func(ctx context.Context) error {
		advanced, err := s.sessions.AdvanceRefresh(ctx, sess.TenantID, sess.ID, sess.Generation, access.Hash, access.ExpiresAt, now)
		updated = advanced
		return err
	})
	switch {
	case errors.Is(err, sentinel.ErrConflict):
		return nil, "concurrent", dErrors.New(dErrors.CodeConcurrentRefresh, "session was refreshed concurrently")
	case errors.Is(err, sentinel.ErrInvalidState):
		return nil, string(dErrors.CodeSessionRevoked), dErrors.New(dErrors.CodeSessionRevoked, "session has been revoked")
	case err != nil:
		return nil, "error", storeErr(err, dErrors.CodeTokenInvalid, "failed to advance session")
	}

	return &RefreshResult{
		AccessToken:     access.Raw,
		ExpiresIn:       s.tokens.AccessTTL(),
		AccessExpiresAt: access.ExpiresAt,
		SessionID:       updated.ID,
	}, "success", nil
}
