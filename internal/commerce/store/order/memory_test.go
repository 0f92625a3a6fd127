package order

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"olympus/internal/commerce/models"
	id "olympus/pkg/domain"
	"olympus/pkg/platform/sentinel"
)

type OrderStoreSuite struct {
	suite.Suite
	ctx      context.Context
	store    *InMemory
	now      time.Time
	tenantID id.TenantID
	customer id.UserID
}

func TestOrderStoreSuite(t *testing.T) {
	suite.Run(t, new(OrderStoreSuite))
}

func (s *OrderStoreSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = NewInMemory()
	s.now = time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
	s.tenantID = id.NewTenantID()
	s.customer = id.NewUserID()
}

func (s *OrderStoreSuite) newOrder(tenantID id.TenantID, customer id.UserID, createdAt time.Time) *models.Order {
	loc := id.NewLocationID()
	o, err := models.NewDraft(id.NewOrderID(), tenantID, customer, &loc,
		[]models.Item{{SKU: "tea", Name: "Tea", Quantity: 1, UnitPrice: 300}}, 0, models.Pricing{}, createdAt)
	s.Require().NoError(err)
	s.Require().NoError(s.store.Create(s.ctx, o))
	return o
}

func (s *OrderStoreSuite) TestCreateRejectsDuplicateID() {
	o := s.newOrder(s.tenantID, s.customer, s.now)
	s.ErrorIs(s.store.Create(s.ctx, o), sentinel.ErrAlreadyUsed)
}

func (s *OrderStoreSuite) TestTenantIsolation() {
	o := s.newOrder(s.tenantID, s.customer, s.now)
	other := id.NewTenantID()

	_, err := s.store.FindByID(s.ctx, other, o.ID)
	s.ErrorIs(err, sentinel.ErrTenantMismatch)

	_, err = s.store.Execute(s.ctx, other, o.ID, func(*models.Order) error { return nil }, func(o *models.Order) { o.ApplySubmit(s.now) })
	s.ErrorIs(err, sentinel.ErrTenantMismatch)

	listed, err := s.store.List(s.ctx, other, ListFilter{})
	s.Require().NoError(err)
	s.Empty(listed)

	_, err = s.store.FindByID(s.ctx, s.tenantID, id.NewOrderID())
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *OrderStoreSuite) TestExecute() {
	o := s.newOrder(s.tenantID, s.customer, s.now)

	s.Run("validate failure leaves the order untouched", func() {
		boom := errors.New("nope")
		_, err := s.store.Execute(s.ctx, s.tenantID, o.ID,
			func(*models.Order) error { return boom },
			func(o *models.Order) { o.ApplySubmit(s.now) })
		s.ErrorIs(err, boom)

		got, err := s.store.FindByID(s.ctx, s.tenantID, o.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusDraft, got.Status)
		s.Equal(int64(1), got.Version)
	})

	s.Run("mutation is saved and returned", func() {
		got, err := s.store.Execute(s.ctx, s.tenantID, o.ID,
			func(o *models.Order) error { return o.CanSubmit() },
			func(o *models.Order) { o.ApplySubmit(s.now) })
		s.Require().NoError(err)
		s.Equal(models.StatusPending, got.Status)
		s.Equal(int64(2), got.Version)

		got.Items[0].Quantity = 42
		stored, _ := s.store.FindByID(s.ctx, s.tenantID, o.ID)
		s.Equal(int64(1), stored.Items[0].Quantity, "callers get copies")
	})

	s.Run("a mutation that skips the version bump is refused", func() {
		_, err := s.store.Execute(s.ctx, s.tenantID, o.ID,
			func(*models.Order) error { return nil },
			func(o *models.Order) { o.CancelReason = "sneaky" })
		s.ErrorIs(err, sentinel.ErrConflict)
	})
}

func (s *OrderStoreSuite) TestConcurrentVersionCheck() {
	o := s.newOrder(s.tenantID, s.customer, s.now)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.store.Execute(s.ctx, s.tenantID, o.ID,
				func(o *models.Order) error { return o.CheckVersion(1) },
				func(o *models.Order) { o.ApplySubmit(s.now) })
			if err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	s.Equal(int32(1), wins.Load())
}

func (s *OrderStoreSuite) TestList() {
	other := id.NewUserID()
	first := s.newOrder(s.tenantID, s.customer, s.now)
	second := s.newOrder(s.tenantID, other, s.now.Add(time.Minute))
	third := s.newOrder(s.tenantID, s.customer, s.now.Add(2*time.Minute))
	s.newOrder(id.NewTenantID(), s.customer, s.now)

	all, err := s.store.List(s.ctx, s.tenantID, ListFilter{})
	s.Require().NoError(err)
	s.Require().Len(all, 3)
	s.Equal([]id.OrderID{third.ID, second.ID, first.ID}, []id.OrderID{all[0].ID, all[1].ID, all[2].ID})

	mine, err := s.store.List(s.ctx, s.tenantID, ListFilter{CustomerID: &s.customer, Limit: 1})
	s.Require().NoError(err)
	s.Require().Len(mine, 1)
	s.Equal(third.ID, mine[0].ID)

	pending, err := s.store.List(s.ctx, s.tenantID, ListFilter{Status: models.StatusPending})
	s.Require().NoError(err)
	s.Empty(pending)
}
