//go:build integration

package order_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"olympus/internal/commerce/models"
	"olympus/internal/commerce/store/order"
	tenantmodels "olympus/internal/tenant/models"
	"olympus/internal/tenant/store/tenant"
	id "olympus/pkg/domain"
	"olympus/pkg/platform/sentinel"
	"olympus/pkg/testutil/containers"
)

type PostgresOrderSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *order.PostgresStore
	tenantID id.TenantID
	otherID  id.TenantID
	now      time.Time
}

func TestPostgresOrderSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresOrderSuite))
}

func (s *PostgresOrderSuite) SetupSuite() {
	s.postgres = containers.GetManager().GetPostgres(s.T())
	s.store = order.NewPostgres(s.postgres.DB)
}

func (s *PostgresOrderSuite) SetupTest() {
	ctx := context.Background()
	s.Require().NoError(s.postgres.TruncateTables(ctx, "orders", "tenants"))
	s.now = time.Now().UTC().Truncate(time.Microsecond)

	tenants := tenant.NewPostgres(s.postgres.DB)
	for _, slug := range []string{"acme", "globex"} {
		t, err := tenantmodels.NewTenant(id.NewTenantID(), slug, slug, "", "", s.now)
		s.Require().NoError(err)
		s.Require().NoError(tenants.CreateIfSlugAvailable(ctx, t))
		if slug == "acme" {
			s.tenantID = t.ID
		} else {
			s.otherID = t.ID
		}
	}
}

func (s *PostgresOrderSuite) newOrder(tenantID id.TenantID) *models.Order {
	loc := id.NewLocationID()
	o, err := models.NewDraft(id.NewOrderID(), tenantID, id.NewUserID(), &loc,
		[]models.Item{
			{SKU: "latte", Name: "Latte", Quantity: 2, UnitPrice: 450},
			{SKU: "bagel", Name: "Bagel", Quantity: 1, UnitPrice: 275},
		}, 50, models.Pricing{Currency: "EUR", TaxRateBasisPoints: 700}, s.now)
	s.Require().NoError(err)
	s.Require().NoError(s.store.Create(context.Background(), o))
	return o
}

func (s *PostgresOrderSuite) TestRoundTrip() {
	o := s.newOrder(s.tenantID)

	got, err := s.store.FindByID(context.Background(), s.tenantID, o.ID)
	s.Require().NoError(err)
	s.Equal(o.Items, got.Items)
	s.Equal(o.Total, got.Total)
	s.Equal(o.Currency, got.Currency)
	s.Equal(*o.LocationID, *got.LocationID)
	s.Equal(models.PaymentPending, got.Payment.Status)
	s.Nil(got.SubmittedAt)
}

func (s *PostgresOrderSuite) TestTenantMismatchProbe() {
	o := s.newOrder(s.tenantID)

	_, err := s.store.FindByID(context.Background(), s.otherID, o.ID)
	s.ErrorIs(err, sentinel.ErrTenantMismatch)

	_, err = s.store.FindByID(context.Background(), s.tenantID, id.NewOrderID())
	s.ErrorIs(err, sentinel.ErrNotFound)

	listed, err := s.store.List(context.Background(), s.otherID, order.ListFilter{})
	s.Require().NoError(err)
	s.Empty(listed)
}

func (s *PostgresOrderSuite) TestExecutePersistsTransition() {
	o := s.newOrder(s.tenantID)

	updated, err := s.store.Execute(context.Background(), s.tenantID, o.ID,
		func(o *models.Order) error { return o.CanSubmit() },
		func(o *models.Order) { o.ApplySubmit(s.now) })
	s.Require().NoError(err)
	s.Equal(int64(2), updated.Version)

	got, err := s.store.FindByID(context.Background(), s.tenantID, o.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusPending, got.Status)
	s.Require().NotNil(got.SubmittedAt)
	s.True(s.now.Equal(*got.SubmittedAt))
}

func (s *PostgresOrderSuite) TestConcurrentTransitionsSerialize() {
	o := s.newOrder(s.tenantID)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.store.Execute(context.Background(), s.tenantID, o.ID,
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

func (s *PostgresOrderSuite) TestListFilters() {
	a := s.newOrder(s.tenantID)
	s.newOrder(s.tenantID)

	mine, err := s.store.List(context.Background(), s.tenantID, order.ListFilter{CustomerID: &a.CustomerID})
	s.Require().NoError(err)
	s.Require().Len(mine, 1)
	s.Equal(a.ID, mine[0].ID)

	drafts, err := s.store.List(context.Background(), s.tenantID, order.ListFilter{Status: models.StatusDraft, Limit: 10})
	s.Require().NoError(err)
	s.Len(drafts, 2)
}
