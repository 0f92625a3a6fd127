package audit_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"olympus/internal/audit"
	"olympus/internal/eventbus"
	"olympus/internal/eventbus/transport/memory"
	id "olympus/pkg/domain"
)

type failingStore struct{ audit.Store }

func (failingStore) Append(context.Context, audit.Entry) error { return errors.New("disk full") }

type AuditSuite struct {
	suite.Suite
	ctx      context.Context
	store    *audit.MemoryStore
	recorder *audit.Recorder
	tenantID id.TenantID
}

func TestAuditSuite(t *testing.T) {
	suite.Run(t, new(AuditSuite))
}

func (s *AuditSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = audit.NewMemoryStore(3)
	s.recorder = audit.NewRecorder(s.store, slog.New(slog.NewTextHandler(io.Discard, nil)))
	s.tenantID = id.NewTenantID()
}

func (s *AuditSuite) event(eventType string) eventbus.Event {
	e, err := eventbus.NewEvent(s.tenantID, eventType, map[string]string{"k": "v"}, eventbus.WithAggregate("order-1"))
	s.Require().NoError(err)
	return e
}

func (s *AuditSuite) TestClassify() {
	cases := map[string]audit.Category{
		"identity.account.locked":        audit.CategorySecurity,
		"identity.session.revoked":       audit.CategorySecurity,
		"identity.user.password_changed": audit.CategorySecurity,
		"identity.user.logged_in":        audit.CategoryOperations,
		"platform.tenant.suspended":      audit.CategoryCompliance,
		"commerce.payment.refunded":      audit.CategoryCompliance,
		"commerce.order.submitted":       audit.CategoryOperations,
	}
	for eventType, want := range cases {
		s.Equal(want, audit.Classify(eventType), eventType)
	}
}

func (s *AuditSuite) TestHandleRecordsOnce() {
	e := s.event("commerce.payment.captured")
	s.Require().NoError(s.recorder.Handle(s.ctx, e))
	s.Require().NoError(s.recorder.Handle(s.ctx, e))

	entries, err := s.recorder.List(s.ctx, audit.Filter{})
	s.Require().NoError(err)
	s.Require().Len(entries, 1)
	s.Equal(e.ID, entries[0].EventID)
	s.Equal(audit.CategoryCompliance, entries[0].Category)
	s.Equal("order-1", entries[0].Aggregate)
	s.Equal(s.tenantID, entries[0].TenantID)
}

func (s *AuditSuite) TestRingKeepsNewestFirst() {
	var ids []id.EventID
	for _, t := range []string{"a.one", "a.two", "a.three", "a.four"} {
		e := s.event(t)
		ids = append(ids, e.ID)
		s.Require().NoError(s.recorder.Handle(s.ctx, e))
	}

	entries, err := s.store.List(s.ctx, audit.Filter{})
	s.Require().NoError(err)
	s.Require().Len(entries, 3)
	s.Equal(ids[3], entries[0].EventID)
	s.Equal(ids[1], entries[2].EventID)

	s.Run("evicted events may be recorded again", func() {
		s.Require().NoError(s.store.Append(s.ctx, audit.Entry{EventID: ids[0], TenantID: s.tenantID}))
		entries, err := s.store.List(s.ctx, audit.Filter{Limit: 1})
		s.Require().NoError(err)
		s.Equal(ids[0], entries[0].EventID)
	})
}

func (s *AuditSuite) TestFilter() {
	s.Require().NoError(s.recorder.Handle(s.ctx, s.event("identity.account.locked")))
	s.Require().NoError(s.recorder.Handle(s.ctx, s.event("commerce.order.created")))
	other, err := eventbus.NewEvent(id.NewTenantID(), "identity.session.revoked", map[string]string{})
	s.Require().NoError(err)
	s.Require().NoError(s.recorder.Handle(s.ctx, other))

	security, err := s.store.List(s.ctx, audit.Filter{Category: audit.CategorySecurity})
	s.Require().NoError(err)
	s.Len(security, 2)

	mine, err := s.store.List(s.ctx, audit.Filter{TenantID: s.tenantID, Category: audit.CategorySecurity})
	s.Require().NoError(err)
	s.Require().Len(mine, 1)
	s.Equal("identity.account.locked", mine[0].EventType)
}

func (s *AuditSuite) TestStoreFailureIsReturned() {
	r := audit.NewRecorder(failingStore{}, nil)
	s.Error(r.Handle(s.ctx, s.event("commerce.order.created")))
}

func (s *AuditSuite) TestParseCategory() {
	c, ok := audit.ParseCategory("security")
	s.True(ok)
	s.Equal(audit.CategorySecurity, c)
	_, ok = audit.ParseCategory("billing")
	s.False(ok)
}

func (s *AuditSuite) TestRecordsEventsDeliveredByTheBus() {
	bus := eventbus.New(memory.NewTransport(memory.NewLog(), "audit-test"), eventbus.WithPollInterval(time.Millisecond))
	s.Require().NoError(s.recorder.Attach(bus))
	s.Require().NoError(bus.Start(s.ctx))
	defer func() { _ = bus.Shutdown(context.Background()) }()

	_, err := bus.Publish(s.ctx, s.tenantID, "platform.tenant.suspended", map[string]string{"reason": "billing"})
	s.Require().NoError(err)

	s.Eventually(func() bool {
		entries, _ := s.store.List(s.ctx, audit.Filter{Category: audit.CategoryCompliance})
		return len(entries) == 1
	}, 2*time.Second, 5*time.Millisecond)
}
