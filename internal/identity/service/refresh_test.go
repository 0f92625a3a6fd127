package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"olympus/internal/identity/models"
	"olympus/internal/identity/password"
	"olympus/internal/identity/service"
	"olympus/internal/identity/service/mocks"
	"olympus/internal/identity/token"
	id "olympus/pkg/domain"
	dErrors "olympus/pkg/domain-errors"
	"olympus/pkg/platform/retry"
	"olympus/pkg/platform/sentinel"
	"olympus/pkg/requestcontext"
)

// RefreshSuite drives the refresh and revocation paths against mocked stores
// so that races and backend failures can be staged exactly.
type RefreshSuite struct {
	suite.Suite
	ctrl       *gomock.Controller
	users      *mocks.MockUserStore
	sessions   *mocks.MockSessionStore
	revocation *mocks.MockRevocationList
	guard      *mocks.MockRefreshGuard
	tenants    *mocks.MockTenantResolver
	tokens     *token.Service
	service    *service.Service

	now     time.Time
	session *models.Session
	refresh token.Issued
}

func TestRefreshSuite(t *testing.T) {
	suite.Run(t, new(RefreshSuite))
}

func (s *RefreshSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.users = mocks.NewMockUserStore(s.ctrl)
	s.sessions = mocks.NewMockSessionStore(s.ctrl)
	s.revocation = mocks.NewMockRevocationList(s.ctrl)
	s.guard = mocks.NewMockRefreshGuard(s.ctrl)
	s.tenants = mocks.NewMockTenantResolver(s.ctrl)
	s.now = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	tokens, err := token.New(token.Config{
		SigningKey: "0123456789abcdef0123456789abcdef",
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 24 * time.Hour,
	})
	s.Require().NoError(err)
	s.tokens = tokens
	hasher, err := password.NewHasher(password.Params{Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32})
	s.Require().NoError(err)

	svc, err := service.New(s.users, s.sessions, s.tenants, tokens, hasher, service.Config{RefreshLockTTL: time.Second},
		service.WithRevocationList(s.revocation),
		service.WithRefreshGuard(s.guard),
		service.WithRetryPolicy(retry.Policy{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond, Multiplier: 1}),
	)
	s.Require().NoError(err)
	s.service = svc

	sessionID, userID, tenantID := id.NewSessionID(), id.NewUserID(), id.NewTenantID()
	refresh, err := tokens.IssueRefresh(userID, tenantID, sessionID, s.now)
	s.Require().NoError(err)
	s.refresh = refresh
	s.session = &models.Session{
		ID:               sessionID,
		TenantID:         tenantID,
		UserID:           userID,
		RefreshTokenHash: refresh.Hash,
		Roles:            []string{"customer"},
		Generation:       3,
		AccessExpiresAt:  s.now.Add(15 * time.Minute),
		RefreshExpiresAt: refresh.ExpiresAt,
		CreatedAt:        s.now,
	}
}

func (s *RefreshSuite) ctx() context.Context {
	return requestcontext.WithTime(context.Background(), s.now)
}

func (s *RefreshSuite) copySession() *models.Session {
	c := *s.session
	return &c
}

func noopRelease(context.Context) error { return nil }

func (s *RefreshSuite) TestGuardHeldElsewhere() {
	s.sessions.EXPECT().FindByID(gomock.Any(), s.session.TenantID, s.session.ID).Return(s.copySession(), nil)
	s.guard.EXPECT().Acquire(gomock.Any(), s.session.ID, time.Second).Return(noopRelease, false, nil)

	_, err := s.service.Refresh(s.ctx(), s.refresh.Raw)
	s.True(dErrors.HasCode(err, dErrors.CodeConcurrentRefresh))
	s.True(dErrors.Retryable(err))
}

func (s *RefreshSuite) TestGenerationMovedUnderneath() {
	released := false
	s.sessions.EXPECT().FindByID(gomock.Any(), s.session.TenantID, s.session.ID).Return(s.copySession(), nil)
	s.guard.EXPECT().Acquire(gomock.Any(), s.session.ID, time.Second).Return(
		func(context.Context) error { released = true; return nil }, true, nil)
	s.sessions.EXPECT().AdvanceRefresh(gomock.Any(), s.session.TenantID, s.session.ID, int64(3), gomock.Any(), gomock.Any(), s.now).
		Return(nil, sentinel.ErrConflict)

	_, err := s.service.Refresh(s.ctx(), s.refresh.Raw)
	s.True(dErrors.HasCode(err, dErrors.CodeConcurrentRefresh))
	s.True(released, "the lock is released on failure")
}

func (s *RefreshSuite) TestRevokedBetweenReadAndAdvance() {
	s.sessions.EXPECT().FindByID(gomock.Any(), gomock.Any(), gomock.Any()).Return(s.copySession(), nil)
	s.guard.EXPECT().Acquire(gomock.Any(), gomock.Any(), gomock.Any()).Return(noopRelease, true, nil)
	s.sessions.EXPECT().AdvanceRefresh(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(nil, sentinel.ErrInvalidState)

	_, err := s.service.Refresh(s.ctx(), s.refresh.Raw)
	s.True(dErrors.HasCode(err, dErrors.CodeSessionRevoked))
}

func (s *RefreshSuite) TestTransientStoreErrorsAreRetried() {
	down := errors.New("connection reset")
	gomock.InOrder(
		s.sessions.EXPECT().FindByID(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, down),
		s.sessions.EXPECT().FindByID(gomock.Any(), gomock.Any(), gomock.Any()).Return(s.copySession(), nil),
	)
	s.guard.EXPECT().Acquire(gomock.Any(), gomock.Any(), gomock.Any()).Return(noopRelease, true, nil)
	advanced := s.copySession()
	advanced.Generation = 4
	gomock.InOrder(
		s.sessions.EXPECT().AdvanceRefresh(gomock.Any(), gomock.Any(), gomock.Any(), int64(3), gomock.Any(), gomock.Any(), gomock.Any()).
			Return(nil, sentinel.ErrUnavailable),
		s.sessions.EXPECT().AdvanceRefresh(gomock.Any(), gomock.Any(), gomock.Any(), int64(3), gomock.Any(), gomock.Any(), gomock.Any()).
			Return(advanced, nil),
	)

	res, err := s.service.Refresh(s.ctx(), s.refresh.Raw)
	s.Require().NoError(err)
	s.Equal(s.session.ID, res.SessionID)
}

func (s *RefreshSuite) TestIntegrityErrorsAreNotRetried() {
	s.sessions.EXPECT().FindByID(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, sentinel.ErrTenantMismatch).Times(1)

	_, err := s.service.Refresh(s.ctx(), s.refresh.Raw)
	s.True(dErrors.HasCode(err, dErrors.CodeTenantMismatch))
	s.False(dErrors.Retryable(err))
}

func (s *RefreshSuite) TestRefreshTokenMustMatchStoredHash() {
	other, err := s.tokens.IssueRefresh(s.session.UserID, s.session.TenantID, s.session.ID, s.now.Add(-time.Second))
	s.Require().NoError(err)
	s.sessions.EXPECT().FindByID(gomock.Any(), gomock.Any(), gomock.Any()).Return(s.copySession(), nil)

	_, err = s.service.Refresh(s.ctx(), other.Raw)
	s.True(dErrors.HasCode(err, dErrors.CodeTokenInvalid))
}

func (s *RefreshSuite) TestSignatureIsCheckedBeforeSessionState() {
	_, err := s.service.Refresh(s.ctx(), s.refresh.Raw+"x")
	s.True(dErrors.HasCode(err, dErrors.CodeTokenInvalid))
}

func (s *RefreshSuite) TestValidateFreshFailsClosed() {
	access, err := s.tokens.IssueAccess(s.session.UserID, s.session.TenantID, nil, s.session.ID, s.now)
	s.Require().NoError(err)
	s.revocation.EXPECT().IsSessionRevoked(gomock.Any(), s.session.ID).Return(false, errors.New("redis down"))

	_, err = s.service.ValidateFresh(s.ctx(), access.Raw)
	s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))
}

func (s *RefreshSuite) TestLogoutSurvivesRevocationListOutage() {
	claims := &id.Claims{Subject: s.session.UserID, TenantID: s.session.TenantID, SessionID: s.session.ID}
	ctx := requestcontext.WithClaims(s.ctx(), claims)

	s.sessions.EXPECT().Execute(gomock.Any(), s.session.TenantID, s.session.ID, gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, _ id.TenantID, _ id.SessionID, validate func(*models.Session) error, mutate func(*models.Session)) (*models.Session, error) {
			sess := s.copySession()
			if err := validate(sess); err != nil {
				return nil, err
			}
			mutate(sess)
			s.True(sess.IsRevoked())
			return sess, nil
		})
	s.revocation.EXPECT().RevokeSessions(gomock.Any(), []id.SessionID{s.session.ID}, s.refresh.ExpiresAt.Sub(s.now)).
		Return(errors.New("redis down"))

	s.NoError(s.service.Logout(ctx, s.session.ID))
}
