package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"olympus/internal/identity/device"
	"olympus/internal/identity/models"
	id "olympus/pkg/domain"
	dErrors "olympus/pkg/domain-errors"
	"olympus/pkg/platform/sentinel"
	"olympus/pkg/requestcontext"
)

type LoginRequest struct {
	TenantSlug string
	Email      string
	Password   string
}

// LoginResult carries the raw tokens. They are returned once and only their
// hashes are stored.
type LoginResult struct {
	AccessToken      string
	RefreshToken     string
	ExpiresIn        time.Duration
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
	SessionID        id.SessionID
	UserID           id.UserID
	TenantID         id.TenantID
}

func invalidCredentials() error {
	return dErrors.New(dErrors.CodeInvalidCredentials, "invalid email or password")
}

// Login authenticates a user within the tenant named by slug and opens a
// session. Unknown emails and wrong passwords fail the same way. Suspended
// tenants are reported as not found to unauthenticated callers.
//
// Once the credential check starts the work no longer follows ctx
// cancellation, so failure accounting and session creation always complete.
func (s *Service) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	start := time.Now()
	defer s.observeLogin(start)

	ctx, span := tracer.Start(ctx, "identity.login")
	defer span.End()

	result, outcome, err := s.login(ctx, req)
	s.incrementLogin(outcome)
	if err != nil {
		span.SetStatus(codes.Error, outcome)
		return nil, err
	}
	span.SetAttributes(
		attribute.String("tenant.id", result.TenantID.String()),
		attribute.String("session.id", result.SessionID.String()),
	)
	return result, nil
}

func (s *Service) login(ctx context.Context, req LoginRequest) (*LoginResult, string, error) {
	tenant, err := s.tenants.ResolveActiveBySlug(ctx, strings.TrimSpace(req.TenantSlug))
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeTenantSuspended) {
			s.logger.InfoContext(ctx, "login refused for suspended tenant", "tenant_slug", req.TenantSlug)
			return nil, "tenant_rejected", dErrors.New(dErrors.CodeTenantNotFound, "tenant not found")
		}
		return nil, "tenant_rejected", err
	}

	ctx = context.WithoutCancel(ctx)

	user, err := s.users.FindByEmail(ctx, tenant.ID, req.Email)
	if errors.Is(err, sentinel.ErrNotFound) {
		s.hasher.VerifyDummy(req.Password)
		return nil, "invalid_credentials", invalidCredentials()
	}
	if err != nil {
		return nil, "error", storeErr(err, dErrors.CodeInvalidCredentials, "failed to look up user")
	}

	if err := s.lockout.Check(ctx, user); err != nil {
		return nil, "locked", err
	}

	ok, err := s.hasher.Verify(req.Password, user.PasswordHash)
	if err != nil {
		s.logger.ErrorContext(ctx, "stored password hash is unreadable",
			"tenant_id", tenant.ID, "user_id", user.ID, "error", err)
		return nil, "error", dErrors.Wrap(err, dErrors.CodeInternal, "failed to verify password")
	}
	if !ok {
		if _, err := s.lockout.RecordFailure(ctx, user); err != nil {
			return nil, "error", err
		}
		return nil, "invalid_credentials", invalidCredentials()
	}

	if err := s.lockout.Clear(ctx, user); err != nil {
		return nil, "error", err
	}
	s.upgradeHash(ctx, user, req.Password)

	result, err := s.openSession(ctx, user)
	if err != nil {
		return nil, "error", err
	}
	return result, "success", nil
}

func (s *Service) openSession(ctx context.Context, user *models.User) (*LoginResult, error) {
	now := requestcontext.Now(ctx)
	sessionID := id.NewSessionID()
	roles := user.RoleNames()

	access, err := s.tokens.IssueAccess(user.ID, user.TenantID, roles, sessionID, now)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to issue access token")
	}
	refresh, err := s.tokens.IssueRefresh(user.ID, user.TenantID, sessionID, now)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to issue refresh token")
	}

	sess := &models.Session{
		ID:               sessionID,
		TenantID:         user.TenantID,
		UserID:           user.ID,
		AccessTokenHash:  access.Hash,
		RefreshTokenHash: refresh.Hash,
		Roles:            roles,
		DeviceLabel:      device.Label(requestcontext.UserAgent(ctx)),
		ClientIP:         requestcontext.ClientIP(ctx),
		Generation:       1,
		AccessExpiresAt:  access.ExpiresAt,
		RefreshExpiresAt: refresh.ExpiresAt,
		LastActivityAt:   now,
		CreatedAt:        now,
	}

	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.sessions.Create(ctx, sess); err != nil {
			return storeErr(err, dErrors.CodeNotFound, "failed to create session")
		}
		return s.emit(ctx, user.TenantID, "session:"+sessionID.String(), models.EventUserLoggedIn,
			models.UserLoggedIn{UserID: user.ID, SessionID: sessionID, Device: sess.DeviceLabel})
	})
	if err != nil {
		return nil, err
	}

	return &LoginResult{
		AccessToken:      access.Raw,
		RefreshToken:     refresh.Raw,
		ExpiresIn:        s.tokens.AccessTTL(),
		AccessExpiresAt:  access.ExpiresAt,
		RefreshExpiresAt: refresh.ExpiresAt,
		SessionID:        sessionID,
		UserID:           user.ID,
		TenantID:         user.TenantID,
	}, nil
}

// upgradeHash rehashes a verified password stored under weaker parameters.
// Failure only costs the upgrade.
func (s *Service) upgradeHash(ctx context.Context, user *models.User, plain string) {
	if !s.hasher.NeedsRehash(user.PasswordHash) {
		return
	}
	hash, err := s.hasher.Hash(plain)
	if err != nil {
		s.logger.WarnContext(ctx, "password rehash failed", "user_id", user.ID, "error", err)
		return
	}
	now := requestcontext.Now(ctx)
	_, err = s.users.Execute(ctx, user.TenantID, user.ID,
		func(*models.User) error { return nil },
		func(u *models.User) { u.ApplyPassword(hash, now) },
	)
	if err != nil {
		s.logger.WarnContext(ctx, "password rehash not stored", "user_id", user.ID, "error", err)
	}
}
