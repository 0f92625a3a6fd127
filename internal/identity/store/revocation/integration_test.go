//go:build integration

package revocation_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"olympus/internal/identity/store/revocation"
	id "olympus/pkg/domain"
	"olympus/pkg/testutil/containers"
)

type revocationList interface {
	RevokeSession(ctx context.Context, sessionID id.SessionID, ttl time.Duration) error
	RevokeSessions(ctx context.Context, sessionIDs []id.SessionID, ttl time.Duration) error
	IsSessionRevoked(ctx context.Context, sessionID id.SessionID) (bool, error)
}

type RevocationSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	redis    *containers.RedisContainer
	now      time.Time
}

func TestRevocationSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RevocationSuite))
}

func (s *RevocationSuite) SetupSuite() {
	s.postgres = containers.GetManager().GetPostgres(s.T())
	s.redis = containers.GetManager().GetRedis(s.T())
}

func (s *RevocationSuite) SetupTest() {
	ctx := context.Background()
	s.Require().NoError(s.postgres.TruncateTables(ctx, "session_revocations"))
	s.Require().NoError(s.redis.FlushAll(ctx))
	s.now = time.Now().UTC()
}

func (s *RevocationSuite) lists() map[string]revocationList {
	return map[string]revocationList{
		"postgres": revocation.NewPostgres(s.postgres.DB, revocation.WithPostgresClock(func() time.Time { return s.now })),
		"redis":    revocation.NewRedis(s.redis.Client),
	}
}

func (s *RevocationSuite) TestRevokeAndCheck() {
	ctx := context.Background()
	for name, list := range s.lists() {
		s.Run(name, func() {
			sessionID := id.NewSessionID()
			revoked, err := list.IsSessionRevoked(ctx, sessionID)
			s.Require().NoError(err)
			s.False(revoked)

			s.Require().NoError(list.RevokeSession(ctx, sessionID, time.Hour))
			s.Require().NoError(list.RevokeSession(ctx, sessionID, time.Hour), "revocation is idempotent")
			revoked, err = list.IsSessionRevoked(ctx, sessionID)
			s.Require().NoError(err)
			s.True(revoked)

			batch := []id.SessionID{id.NewSessionID(), id.NewSessionID(), id.NewSessionID()}
			s.Require().NoError(list.RevokeSessions(ctx, batch, time.Hour))
			for _, sid := range batch {
				revoked, err := list.IsSessionRevoked(ctx, sid)
				s.Require().NoError(err)
				s.True(revoked)
			}
		})
	}
}

func (s *RevocationSuite) TestPostgresEntriesExpire() {
	ctx := context.Background()
	list := revocation.NewPostgres(s.postgres.DB, revocation.WithPostgresClock(func() time.Time { return s.now }))
	sessionID := id.NewSessionID()
	s.Require().NoError(list.RevokeSession(ctx, sessionID, time.Minute))

	s.now = s.now.Add(2 * time.Minute)
	revoked, err := list.IsSessionRevoked(ctx, sessionID)
	s.Require().NoError(err)
	s.False(revoked)

	purged, err := list.PurgeExpired(ctx)
	s.Require().NoError(err)
	s.Equal(int64(1), purged)
}

func (s *RevocationSuite) TestRedisEntriesExpire() {
	ctx := context.Background()
	list := revocation.NewRedis(s.redis.Client)
	sessionID := id.NewSessionID()
	s.Require().NoError(list.RevokeSession(ctx, sessionID, 50*time.Millisecond))

	s.Eventually(func() bool {
		revoked, err := list.IsSessionRevoked(ctx, sessionID)
		return err == nil && !revoked
	}, 2*time.Second, 25*time.Millisecond)
}
