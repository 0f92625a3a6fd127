package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"

	"olympus/internal/eventbus"
	"olympus/internal/eventbus/outbox"
	tenantmetrics "olympus/internal/tenant/metrics"
	"olympus/internal/tenant/models"
	tenantstore "olympus/internal/tenant/store/tenant"
	id "olympus/pkg/domain"
	dErrors "olympus/pkg/domain-errors"
	"olympus/pkg/requestcontext"
)

type ServiceSuite struct {
	suite.Suite
	ctx     context.Context
	store   *tenantstore.InMemory
	outbox  *outbox.Memory
	metrics *tenantmetrics.Metrics
	service *Service
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctx = requestcontext.WithTime(context.Background(), time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC))
	s.store = tenantstore.NewInMemory()
	s.outbox = outbox.NewMemory()
	s.metrics = tenantmetrics.New(prometheus.NewRegistry())
	s.service = New(s.store, WithOutbox(s.outbox), WithMetrics(s.metrics))
}

func (s *ServiceSuite) create(slug string, parent *id.TenantID) *models.Tenant {
	t, err := s.service.CreateTenant(s.ctx, CreateTenantRequest{
		Slug: slug, Name: "Tenant " + slug, Industry: models.IndustryRestaurant, ParentID: parent,
	})
	s.Require().NoError(err)
	return t
}

func (s *ServiceSuite) eventTypes() []string {
	var out []string
	for _, r := range s.outbox.Records() {
		out = append(out, r.Event.EventType)
	}
	return out
}

func (s *ServiceSuite) TestCreateTenant() {
	s.Run("normalizes slug and records created event", func() {
		t, err := s.service.CreateTenant(s.ctx, CreateTenantRequest{Slug: " Joes-Diner ", Name: "Joe's Diner"})
		s.Require().NoError(err)
		s.Equal("joes-diner", t.Slug)

		records := s.outbox.Records()
		s.Require().Len(records, 1)
		e := records[0].Event
		s.Equal(models.EventTenantCreated, e.EventType)
		s.Equal(t.ID, e.TenantID)
		s.Equal("tenant:"+t.ID.String(), e.AggregateKey)

		var payload models.TenantCreated
		s.Require().NoError(json.Unmarshal(e.Payload, &payload))
		s.Equal("joes-diner", payload.Slug)
		s.Equal(float64(1), testutil.ToFloat64(s.metrics.TenantCreated))
	})

	s.Run("duplicate slug conflicts", func() {
		_, err := s.service.CreateTenant(s.ctx, CreateTenantRequest{Slug: "joes-diner", Name: "Other"})
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("invalid slug is a validation error", func() {
		_, err := s.service.CreateTenant(s.ctx, CreateTenantRequest{Slug: "no spaces", Name: "Bad"})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("unknown parent is rejected", func() {
		missing := id.NewTenantID()
		_, err := s.service.CreateTenant(s.ctx, CreateTenantRequest{Slug: "orphan", Name: "Orphan", ParentID: &missing})
		s.True(dErrors.HasCode(err, dErrors.CodeTenantNotFound))
	})
}

func (s *ServiceSuite) TestResolveActiveBySlug() {
	t := s.create("resolve-me", nil)

	s.Run("active tenant resolves", func() {
		got, err := s.service.ResolveActiveBySlug(s.ctx, "Resolve-Me")
		s.Require().NoError(err)
		s.Equal(t.ID, got.ID)
	})

	s.Run("unknown slug", func() {
		_, err := s.service.ResolveActiveBySlug(s.ctx, "nobody")
		s.True(dErrors.HasCode(err, dErrors.CodeTenantNotFound))
	})

	s.Run("suspended tenant", func() {
		_, err := s.service.Suspend(s.ctx, t.ID)
		s.Require().NoError(err)
		_, err = s.service.ResolveActiveBySlug(s.ctx, "resolve-me")
		s.True(dErrors.HasCode(err, dErrors.CodeTenantSuspended))
		s.True(dErrors.HasCode(s.service.EnsureActive(s.ctx, t.ID), dErrors.CodeTenantSuspended))
	})

	s.Run("deleted tenant is not found", func() {
		_, err := s.service.SoftDelete(s.ctx, t.ID)
		s.Require().NoError(err)
		_, err = s.service.ResolveActiveBySlug(s.ctx, "resolve-me")
		s.True(dErrors.HasCode(err, dErrors.CodeTenantNotFound))
		_, err = s.service.GetTenant(s.ctx, t.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeTenantNotFound))
	})

	s.Equal(float64(1), testutil.ToFloat64(s.metrics.ResolveRejected.WithLabelValues(string(dErrors.CodeTenantSuspended))))
}

func (s *ServiceSuite) TestLifecycleTransitions() {
	t := s.create("cycle", nil)

	suspended, err := s.service.Suspend(s.ctx, t.ID)
	s.Require().NoError(err)
	s.Equal(models.TenantStatusSuspended, suspended.Status)

	_, err = s.service.Suspend(s.ctx, t.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeConflict), "suspending twice conflicts")

	reactivated, err := s.service.Reactivate(s.ctx, t.ID)
	s.Require().NoError(err)
	s.True(reactivated.IsActive())
	s.Equal(int64(3), reactivated.Version)

	_, err = s.service.Suspend(s.ctx, id.NewTenantID())
	s.True(dErrors.HasCode(err, dErrors.CodeTenantNotFound))

	s.Equal([]string{
		models.EventTenantCreated,
		models.EventTenantSuspended,
		models.EventTenantReactivated,
	}, s.eventTypes())
}

func (s *ServiceSuite) TestFailedTransitionRecordsNoEvent() {
	t := s.create("quiet", nil)
	_, err := s.service.Reactivate(s.ctx, t.ID)
	s.Require().Error(err)
	s.Equal([]string{models.EventTenantCreated}, s.eventTypes())
}

func (s *ServiceSuite) TestSetParent() {
	root := s.create("root", nil)
	mid := s.create("mid", &root.ID)
	leaf := s.create("leaf", &mid.ID)

	s.Run("rejects self parenting", func() {
		_, err := s.service.SetParent(s.ctx, root.ID, &root.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("rejects cycles", func() {
		_, err := s.service.SetParent(s.ctx, root.ID, &leaf.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("detaches to root", func() {
		updated, err := s.service.SetParent(s.ctx, leaf.ID, nil)
		s.Require().NoError(err)
		s.Nil(updated.ParentID)
	})

	s.Run("moves under a new parent", func() {
		updated, err := s.service.SetParent(s.ctx, leaf.ID, &root.ID)
		s.Require().NoError(err)
		s.Require().NotNil(updated.ParentID)
		s.Equal(root.ID, *updated.ParentID)
	})
}

func (s *ServiceSuite) TestHierarchyDepthLimit() {
	parent := s.create("level-1", nil)
	for i := 2; i <= models.MaxHierarchyDepth; i++ {
		parent = s.create("level-"+string(rune('0'+i)), &parent.ID)
	}

	s.Run("creation below the deepest level fails", func() {
		_, err := s.service.CreateTenant(s.ctx, CreateTenantRequest{Slug: "too-deep", Name: "Too deep", ParentID: &parent.ID})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("moving a subtree that would overflow fails", func() {
		other := s.create("other-root", nil)
		s.create("other-child", &other.ID)
		_, err := s.service.SetParent(s.ctx, other.ID, &parent.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

func (s *ServiceSuite) TestUpdateSettings() {
	t := s.create("settings", nil)

	s.Run("merges a valid patch", func() {
		updated, err := s.service.UpdateSettings(s.ctx, t.ID, models.Settings{
			models.FeatureOrdering: json.RawMessage(`{"currency":"USD","tax_rate_bps":825}`),
		})
		s.Require().NoError(err)
		var ordering models.OrderingSettings
		s.Require().NoError(updated.Settings.Decode(models.FeatureOrdering, &ordering))
		s.Equal(int64(825), ordering.TaxRateBasisPoints)
	})

	s.Run("rejects an invalid patch and keeps prior settings", func() {
		_, err := s.service.UpdateSettings(s.ctx, t.ID, models.Settings{
			models.FeatureOrdering: json.RawMessage(`{"currency":"dollars"}`),
		})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))

		current, err := s.service.GetTenant(s.ctx, t.ID)
		s.Require().NoError(err)
		var ordering models.OrderingSettings
		s.Require().NoError(current.Settings.Decode(models.FeatureOrdering, &ordering))
		s.Equal("USD", ordering.Currency)
		s.Equal(float64(1), testutil.ToFloat64(s.metrics.SettingsRejections))
	})

	s.Run("rejects unknown features", func() {
		_, err := s.service.UpdateSettings(s.ctx, t.ID, models.Settings{"billing": json.RawMessage(`{}`)})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("null removes a feature", func() {
		updated, err := s.service.UpdateSettings(s.ctx, t.ID, models.Settings{models.FeatureOrdering: json.RawMessage(`null`)})
		s.Require().NoError(err)
		s.NotContains(updated.Settings, models.FeatureOrdering)
	})

	records := s.outbox.Records()
	last := records[len(records)-1].Event
	s.Equal(models.EventSettingsUpdated, last.EventType)
	s.Equal(eventbus.StatusPending, last.Status)
}

func (s *ServiceSuite) TestWithoutOutboxOnlyLogs() {
	svc := New(tenantstore.NewInMemory())
	_, err := svc.CreateTenant(s.ctx, CreateTenantRequest{Slug: "no-outbox", Name: "No outbox"})
	s.NoError(err)
}
