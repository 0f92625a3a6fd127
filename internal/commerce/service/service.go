package service

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks OrderStore,TenantReader,Authorizer,EventOutbox

import (
	"context"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel"

	commercemetrics "olympus/internal/commerce/metrics"
	"olympus/internal/commerce/models"
	orderstore "olympus/internal/commerce/store/order"
	"olympus/internal/eventbus"
	"olympus/internal/policy"
	tenantmodels "olympus/internal/tenant/models"
	id "olympus/pkg/domain"
	dErrors "olympus/pkg/domain-errors"
	"olympus/pkg/platform/retry"
	"olympus/pkg/platform/sentinel"
	"olympus/pkg/platform/tx"
	"olympus/pkg/requestcontext"
)

var tracer = otel.Tracer("olympus/commerce")

// OrderStore persists orders. Execute holds the row lock (mutex or FOR
// UPDATE) across validate and mutate; rows of another tenant are reported as
// sentinel.ErrTenantMismatch.
type OrderStore interface {
	Create(ctx context.Context, o *models.Order) error
	FindByID(ctx context.Context, tenantID id.TenantID, orderID id.OrderID) (*models.Order, error)
	List(ctx context.Context, tenantID id.TenantID, filter orderstore.ListFilter) ([]*models.Order, error)
	Execute(ctx context.Context, tenantID id.TenantID, orderID id.OrderID, validate func(*models.Order) error, mutate func(*models.Order)) (*models.Order, error)
}

// TenantReader loads the tenant whose settings hold locations and pricing.
type TenantReader interface {
	GetTenant(ctx context.Context, tenantID id.TenantID) (*tenantmodels.Tenant, error)
}

type Authorizer interface {
	RequireIn(ctx context.Context, claims *id.Claims, perm policy.Permission, resourceTenant id.TenantID) error
}

type EventOutbox interface {
	Append(ctx context.Context, e eventbus.Event) error
}

type serviceConfig struct {
	logger  *slog.Logger
	metrics *commercemetrics.Metrics
	outbox  EventOutbox
	tx      tx.Runner
	retry   retry.Policy
}

type Option func(*serviceConfig)

func WithLogger(logger *slog.Logger) Option {
	return func(c *serviceConfig) {
		c.logger = logger
	}
}

func WithMetrics(m *commercemetrics.Metrics) Option {
	return func(c *serviceConfig) {
		c.metrics = m
	}
}

// WithOutbox records order events in the same unit of work as the order row.
// Without it events are only logged.
func WithOutbox(o EventOutbox) Option {
	return func(c *serviceConfig) {
		c.outbox = o
	}
}

func WithTx(r tx.Runner) Option {
	return func(c *serviceConfig) {
		c.tx = r
	}
}

func WithRetryPolicy(p retry.Policy) Option {
	return func(c *serviceConfig) {
		c.retry = p
	}
}

// Service drives the order and payment state machines.
type Service struct {
	orders     OrderStore
	tenants    TenantReader
	authorizer Authorizer
	outbox     EventOutbox
	tx         tx.Runner
	retry      retry.Policy
	logger     *slog.Logger
	metrics    *commercemetrics.Metrics
}

func New(orders OrderStore, tenants TenantReader, authorizer Authorizer, opts ...Option) (*Service, error) {
	if orders == nil || tenants == nil {
		return nil, errors.New("order store and tenant reader are required")
	}
	if authorizer == nil {
		return nil, errors.New("authorizer is required")
	}
	c := &serviceConfig{
		logger: slog.Default(),
		tx:     &tx.LocalRunner{},
		retry:  retry.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return &Service{
		orders:     orders,
		tenants:    tenants,
		authorizer: authorizer,
		outbox:     c.outbox,
		tx:         c.tx,
		retry:      c.retry,
		logger:     c.logger,
		metrics:    c.metrics,
	}, nil
}

// emit appends the order event inside the caller's unit of work and writes
// the audit log line. Events of one order share an aggregate so subscribers
// see them in order.
func (s *Service) emit(ctx context.Context, o *models.Order, eventType string, payload models.OrderChanged) error {
	s.logger.InfoContext(ctx, eventType,
		"tenant_id", o.TenantID,
		"order_id", o.ID,
		"version", o.Version,
		"request_id", requestcontext.RequestID(ctx),
		"log_type", "audit",
	)
	if s.outbox == nil {
		return nil
	}
	evt, err := eventbus.NewEvent(o.TenantID, eventType, payload,
		eventbus.WithAggregate("order:"+o.ID.String()),
		eventbus.WithCreatedAt(requestcontext.Now(ctx)),
	)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to build order event")
	}
	if err := s.outbox.Append(ctx, evt); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record order event")
	}
	return nil
}

// pricing reads the tenant's ordering settings, falling back to USD with no
// tax when the feature is not configured.
func (s *Service) pricing(ctx context.Context, tenantID id.TenantID) (models.Pricing, error) {
	t, err := s.tenants.GetTenant(ctx, tenantID)
	if err != nil {
		return models.Pricing{}, err
	}
	var ordering tenantmodels.OrderingSettings
	if err := t.Settings.Decode(tenantmodels.FeatureOrdering, &ordering); err != nil {
		if dErrors.HasCode(err, dErrors.CodeNotFound) {
			return models.Pricing{Currency: "USD"}, nil
		}
		return models.Pricing{}, err
	}
	return models.Pricing{Currency: ordering.Currency, TaxRateBasisPoints: ordering.TaxRateBasisPoints}, nil
}

// locations returns the tenant's configured locations. A tenant without the
// feature has none, so no order of it can be submitted.
func (s *Service) locations(ctx context.Context, tenantID id.TenantID) (tenantmodels.LocationsSettings, error) {
	t, err := s.tenants.GetTenant(ctx, tenantID)
	if err != nil {
		return tenantmodels.LocationsSettings{}, err
	}
	var locs tenantmodels.LocationsSettings
	if err := t.Settings.Decode(tenantmodels.FeatureLocations, &locs); err != nil && !dErrors.HasCode(err, dErrors.CodeNotFound) {
		return tenantmodels.LocationsSettings{}, err
	}
	return locs, nil
}

// isStaff reports whether the caller acts for the business rather than as a
// customer. Customers only reach their own orders.
func isStaff(claims *id.Claims) bool {
	var roles []policy.Role
	for _, name := range claims.Roles {
		if r, err := policy.ParseRole(name); err == nil {
			roles = append(roles, r)
		}
	}
	return policy.Highest(roles).Rank() >= policy.RoleEmployee.Rank()
}

func requireClaims(claims *id.Claims) error {
	if claims == nil || claims.TenantID.IsNil() || claims.Subject.IsNil() {
		return dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	return nil
}

func checkOwner(claims *id.Claims, o *models.Order) error {
	if !isStaff(claims) && o.CustomerID != claims.Subject {
		return dErrors.New(dErrors.CodeResourceOutOfScope, "order belongs to another customer")
	}
	return nil
}

// retryTransient runs op under the retry policy. Only ErrUnavailable and
// errors that are neither domain errors nor store facts are retried.
func (s *Service) retryTransient(ctx context.Context, op func(ctx context.Context) error) error {
	_, err := s.retry.Do(ctx, func(ctx context.Context, _ int) error {
		err := op(ctx)
		if err == nil || isTransient(err) {
			return err
		}
		return retry.Permanent(err)
	})
	return err
}

func isTransient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, sentinel.ErrUnavailable) || dErrors.HasCode(err, dErrors.CodeUnavailable) {
		return true
	}
	var de *dErrors.Error
	if errors.As(err, &de) {
		return false
	}
	for _, fact := range []error{
		sentinel.ErrNotFound, sentinel.ErrConflict, sentinel.ErrAlreadyUsed,
		sentinel.ErrExpired, sentinel.ErrInvalidState, sentinel.ErrTenantMismatch,
	} {
		if errors.Is(err, fact) {
			return false
		}
	}
	return true
}

// storeErr translates store facts into domain errors.
func storeErr(err error) error {
	var de *dErrors.Error
	switch {
	case errors.As(err, &de):
		return err
	case errors.Is(err, sentinel.ErrTenantMismatch):
		return dErrors.New(dErrors.CodeTenantMismatch, "order belongs to another tenant")
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "order not found")
	case errors.Is(err, sentinel.ErrAlreadyUsed):
		return dErrors.New(dErrors.CodeConflict, "order already exists")
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.New(dErrors.CodeVersionConflict, "order was modified concurrently")
	case errors.Is(err, sentinel.ErrUnavailable):
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "order store unavailable")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "order store failure")
	}
}

func (s *Service) incrementTransition(eventType string) {
	if s.metrics != nil {
		s.metrics.IncrementTransition(eventType)
	}
}

func (s *Service) incrementRejected(op string, err error) {
	if s.metrics == nil {
		return
	}
	code := dErrors.CodeOf(err)
	s.metrics.IncrementRejected(op, string(code))
	if code == dErrors.CodeVersionConflict {
		s.metrics.IncrementVersionConflict()
	}
}
