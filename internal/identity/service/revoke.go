package service

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"olympus/internal/identity/models"
	"olympus/internal/identity/password"
	"olympus/internal/policy"
	id "olympus/pkg/domain"
	dErrors "olympus/pkg/domain-errors"
	"olympus/pkg/platform/sentinel"
	"olympus/pkg/requestcontext"
)

func requireClaims(ctx context.Context) (*id.Claims, error) {
	claims := requestcontext.Claims(ctx)
	if claims == nil {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	return claims, nil
}

// Logout revokes a session of the caller's tenant. Revoking an already
// revoked session succeeds without side effects. Sessions of other users need
// sessions:revoke.
func (s *Service) Logout(ctx context.Context, sessionID id.SessionID) error {
	ctx, span := tracer.Start(ctx, "identity.logout")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", sessionID.String()))

	claims, err := requireClaims(ctx)
	if err != nil {
		return err
	}
	if sessionID.IsNil() {
		return dErrors.New(dErrors.CodeBadRequest, "session ID required")
	}

	now := requestcontext.Now(ctx)
	var (
		revoked        *models.Session
		alreadyRevoked bool
	)
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		alreadyRevoked = false
		sess, err := s.sessions.Execute(ctx, claims.TenantID, sessionID,
			func(sess *models.Session) error {
				if sess.UserID != claims.Subject {
					if err := s.requireAdmin(ctx, claims, sess.TenantID); err != nil {
						s.logger.InfoContext(ctx, "logout of foreign session refused",
							"session_id", sess.ID, "user_id", claims.Subject)
						return err
					}
				}
				alreadyRevoked = sess.IsRevoked()
				return nil
			},
			func(sess *models.Session) {
				if !alreadyRevoked {
					sess.ApplyRevocation(models.RevokeReasonLogout, now)
				}
			},
		)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return dErrors.New(dErrors.CodeNotFound, "session not found")
			}
			return storeErr(err, dErrors.CodeNotFound, "failed to revoke session")
		}
		if alreadyRevoked {
			return nil
		}
		revoked = sess
		return s.emit(ctx, sess.TenantID, "session:"+sess.ID.String(), models.EventSessionRevoked,
			models.SessionRevoked{SessionID: sess.ID, UserID: sess.UserID, Reason: models.RevokeReasonLogout})
	})
	if err != nil {
		return err
	}
	if revoked == nil {
		return nil
	}

	s.incrementSessionsRevoked(models.RevokeReasonLogout, 1)
	s.publishRevocations(ctx, []*models.Session{revoked}, now)
	return nil
}

// ChangePassword replaces the caller's password and revokes every session of
// the user, including the current one.
func (s *Service) ChangePassword(ctx context.Context, current, next string) (int, error) {
	ctx, span := tracer.Start(ctx, "identity.change_password")
	defer span.End()

	claims, err := requireClaims(ctx)
	if err != nil {
		return 0, err
	}
	user, err := s.users.FindByID(ctx, claims.TenantID, claims.Subject)
	if err != nil {
		return 0, storeErr(err, dErrors.CodeNotFound, "user not found")
	}

	ctx = context.WithoutCancel(ctx)
	ok, err := s.hasher.Verify(current, user.PasswordHash)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to verify password")
	}
	if !ok {
		return 0, invalidCredentials()
	}
	if err := password.ValidateStrength(next); err != nil {
		return 0, err
	}
	hash, err := s.hasher.Hash(next)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to hash password")
	}

	now := requestcontext.Now(ctx)
	var revoked []*models.Session
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if _, err := s.users.Execute(ctx, user.TenantID, user.ID,
			func(*models.User) error { return nil },
			func(u *models.User) { u.ApplyPassword(hash, now) },
		); err != nil {
			return storeErr(err, dErrors.CodeNotFound, "failed to store password")
		}
		sessions, err := s.sessions.RevokeAllForUser(ctx, user.TenantID, user.ID, models.RevokeReasonPasswordChange, now)
		if err != nil {
			return storeErr(err, dErrors.CodeNotFound, "failed to revoke sessions")
		}
		revoked = sessions
		return s.emit(ctx, user.TenantID, "user:"+user.ID.String(), models.EventPasswordChange,
			models.PasswordChanged{UserID: user.ID, RevokedSessions: len(sessions)})
	})
	if err != nil {
		return 0, err
	}

	s.incrementSessionsRevoked(models.RevokeReasonPasswordChange, len(revoked))
	s.publishRevocations(ctx, revoked, now)
	return len(revoked), nil
}

// RevokeUserSessions is the administrative revocation of every active session
// of a user. It needs sessions:revoke in the user's tenant.
func (s *Service) RevokeUserSessions(ctx context.Context, tenantID id.TenantID, userID id.UserID) (int, error) {
	ctx, span := tracer.Start(ctx, "identity.revoke_user_sessions")
	defer span.End()

	claims, err := requireClaims(ctx)
	if err != nil {
		return 0, err
	}
	if err := s.requireAdmin(ctx, claims, tenantID); err != nil {
		return 0, err
	}

	now := requestcontext.Now(ctx)
	var revoked []*models.Session
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		sessions, err := s.sessions.RevokeAllForUser(ctx, tenantID, userID, models.RevokeReasonAdmin, now)
		if err != nil {
			return storeErr(err, dErrors.CodeNotFound, "failed to revoke sessions")
		}
		for _, sess := range sessions {
			if err := s.emit(ctx, tenantID, "session:"+sess.ID.String(), models.EventSessionRevoked,
				models.SessionRevoked{SessionID: sess.ID, UserID: userID, Reason: models.RevokeReasonAdmin}); err != nil {
				return err
			}
		}
		revoked = sessions
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.incrementSessionsRevoked(models.RevokeReasonAdmin, len(revoked))
	s.publishRevocations(ctx, revoked, now)
	return len(revoked), nil
}

func (s *Service) requireAdmin(ctx context.Context, claims *id.Claims, tenantID id.TenantID) error {
	if s.authorizer == nil {
		return dErrors.New(dErrors.CodeForbidden, "session does not belong to caller")
	}
	return s.authorizer.RequireIn(ctx, claims, policy.PermSessionsRevoke, tenantID)
}

// publishRevocations adds sessions to the revocation list for as long as any
// of their tokens can still verify. The store already holds the revocation,
// so a list failure is logged and only delays ValidateFresh callers.
func (s *Service) publishRevocations(ctx context.Context, sessions []*models.Session, now time.Time) {
	if s.revocation == nil || len(sessions) == 0 {
		return
	}
	var (
		ids []id.SessionID
		ttl time.Duration
	)
	for _, sess := range sessions {
		remaining := sess.RemainingLifetime(now)
		if remaining <= 0 {
			continue
		}
		ids = append(ids, sess.ID)
		ttl = max(ttl, remaining)
	}
	if len(ids) == 0 {
		return
	}
	if err := s.revocation.RevokeSessions(ctx, ids, ttl); err != nil {
		s.incrementRevocationFailure()
		s.logger.ErrorContext(ctx, "failed to add sessions to revocation list",
			"sessions", len(ids), "error", err)
	}
}
