//go:build integration

package outbox_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"olympus/internal/eventbus"
	"olympus/internal/eventbus/outbox"
	id "olympus/pkg/domain"
	"olympus/pkg/platform/sentinel"
	"olympus/pkg/platform/tx"
	"olympus/pkg/testutil/containers"
)

type PostgresOutboxSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *outbox.Postgres
	tenantID id.TenantID
}

func TestPostgresOutboxSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresOutboxSuite))
}

func (s *PostgresOutboxSuite) SetupSuite() {
	s.postgres = containers.GetManager().GetPostgres(s.T())
	s.store = outbox.NewPostgres(s.postgres.DB)
}

func (s *PostgresOutboxSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "outbox"))
	s.tenantID = id.NewTenantID()
}

func (s *PostgresOutboxSuite) newEvent(aggregate string, at time.Time) eventbus.Event {
	e, err := eventbus.NewEvent(s.tenantID, "commerce.order.updated", map[string]string{"agg": aggregate},
		eventbus.WithAggregate(aggregate), eventbus.WithCreatedAt(at))
	s.Require().NoError(err)
	return e
}

func (s *PostgresOutboxSuite) TestAppendJoinsCallerTransaction() {
	ctx := context.Background()
	now := time.Now().UTC()
	e := s.newEvent("a", now)

	rollback := errors.New("rollback")
	err := tx.Run(ctx, s.postgres.DB, func(ctx context.Context) error {
		s.Require().NoError(s.store.Append(ctx, e))
		return rollback
	})
	s.Require().ErrorIs(err, rollback)

	pending, err := s.store.Pending(ctx, now.Add(time.Second), 10)
	s.Require().NoError(err)
	s.Empty(pending, "rolled back append leaves no row")

	s.Require().NoError(s.store.Append(ctx, e))
	s.ErrorIs(s.store.Append(ctx, e), sentinel.ErrAlreadyUsed)
}

func (s *PostgresOutboxSuite) TestPendingOrderingAndBlocking() {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)
	a1, b1, a2 := s.newEvent("a", now), s.newEvent("b", now), s.newEvent("a", now)
	for _, e := range []eventbus.Event{a1, b1, a2} {
		s.Require().NoError(s.store.Append(ctx, e))
	}

	pending, err := s.store.Pending(ctx, now, 10)
	s.Require().NoError(err)
	s.Require().Len(pending, 3)
	s.Equal([]id.EventID{a1.ID, b1.ID, a2.ID}, []id.EventID{pending[0].Event.ID, pending[1].Event.ID, pending[2].Event.ID})
	s.Equal("a", pending[0].Event.AggregateKey)
	s.JSONEq(`{"agg":"a"}`, string(pending[0].Event.Payload))

	s.Require().NoError(s.store.MarkRetry(ctx, a1.ID, 1, now.Add(time.Minute), "transport down"))
	s.Require().NoError(s.store.MarkPublished(ctx, b1.ID, now))

	pending, err = s.store.Pending(ctx, now, 10)
	s.Require().NoError(err)
	s.Empty(pending, "a2 waits behind a1, b1 is published")

	s.Require().NoError(s.store.MarkDeadLettered(ctx, a1.ID, 4, now, "gave up"))
	pending, err = s.store.Pending(ctx, now, 10)
	s.Require().NoError(err)
	s.Require().Len(pending, 1)
	s.Equal(a2.ID, pending[0].Event.ID)

	s.ErrorIs(s.store.MarkPublished(ctx, id.NewEventID(), now), sentinel.ErrNotFound)
}
