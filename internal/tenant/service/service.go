package service

import (
	"context"
	"errors"
	"log/slog"

	"olympus/internal/eventbus"
	tenantmetrics "olympus/internal/tenant/metrics"
	"olympus/internal/tenant/models"
	id "olympus/pkg/domain"
	dErrors "olympus/pkg/domain-errors"
	"olympus/pkg/platform/sentinel"
	"olympus/pkg/platform/tx"
	"olympus/pkg/requestcontext"
)

// TenantStore persists tenants. Execute holds the row lock (mutex or FOR
// UPDATE) across validate and mutate.
type TenantStore interface {
	CreateIfSlugAvailable(ctx context.Context, t *models.Tenant) error
	FindByID(ctx context.Context, tenantID id.TenantID) (*models.Tenant, error)
	FindBySlug(ctx context.Context, slug string) (*models.Tenant, error)
	ChildIDs(ctx context.Context, parentID id.TenantID) ([]id.TenantID, error)
	Execute(ctx context.Context, tenantID id.TenantID, validate func(*models.Tenant) error, mutate func(*models.Tenant)) (*models.Tenant, error)
}

// EventOutbox records lifecycle events in the transaction carried by ctx.
type EventOutbox interface {
	Append(ctx context.Context, e eventbus.Event) error
}

type serviceConfig struct {
	logger  *slog.Logger
	metrics *tenantmetrics.Metrics
	outbox  EventOutbox
	tx      tx.Runner
}

type Option func(*serviceConfig)

func WithLogger(logger *slog.Logger) Option {
	return func(c *serviceConfig) {
		c.logger = logger
	}
}

func WithMetrics(m *tenantmetrics.Metrics) Option {
	return func(c *serviceConfig) {
		c.metrics = m
	}
}

// WithOutbox routes lifecycle events through the transactional outbox.
// Without it events are only logged.
func WithOutbox(o EventOutbox) Option {
	return func(c *serviceConfig) {
		c.outbox = o
	}
}

// WithTx sets the unit-of-work runner shared by the tenant store and outbox.
func WithTx(r tx.Runner) Option {
	return func(c *serviceConfig) {
		c.tx = r
	}
}

// Service orchestrates the tenant lifecycle, hierarchy and settings.
type Service struct {
	tenants TenantStore
	events  *eventEmitter
	metrics *tenantmetrics.Metrics
	logger  *slog.Logger
	tx      tx.Runner
}

func New(tenants TenantStore, opts ...Option) *Service {
	cfg := &serviceConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	if cfg.tx == nil {
		cfg.tx = &tx.LocalRunner{}
	}
	return &Service{
		tenants: tenants,
		events:  &eventEmitter{outbox: cfg.outbox, logger: cfg.logger},
		metrics: cfg.metrics,
		logger:  cfg.logger,
		tx:      cfg.tx,
	}
}

// eventEmitter appends tenant events to the outbox inside the caller's
// transaction and writes the audit log line.
type eventEmitter struct {
	outbox EventOutbox
	logger *slog.Logger
}

func (e *eventEmitter) emit(ctx context.Context, tenantID id.TenantID, eventType string, payload any) error {
	e.logger.InfoContext(ctx, eventType,
		"tenant_id", tenantID,
		"request_id", requestcontext.RequestID(ctx),
		"log_type", "audit",
	)
	if e.outbox == nil {
		return nil
	}
	evt, err := eventbus.NewEvent(tenantID, eventType, payload,
		eventbus.WithAggregate("tenant:"+tenantID.String()),
		eventbus.WithCreatedAt(requestcontext.Now(ctx)),
	)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to build tenant event")
	}
	if err := e.outbox.Append(ctx, evt); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record tenant event")
	}
	return nil
}

func requireTenantID(tenantID id.TenantID) error {
	if tenantID.IsNil() {
		return dErrors.New(dErrors.CodeBadRequest, "tenant ID required")
	}
	return nil
}

// wrapTenantErr translates store facts into domain errors. Coded errors from
// validate callbacks pass through unchanged.
func wrapTenantErr(err error) error {
	if err == nil {
		return nil
	}
	var de *dErrors.Error
	if errors.As(err, &de) {
		return err
	}
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeTenantNotFound, "tenant not found")
	case errors.Is(err, sentinel.ErrAlreadyUsed):
		return dErrors.New(dErrors.CodeConflict, "tenant slug is already taken")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "tenant store failure")
	}
}

// conflictOnInvariant maps a model invariant failure to a conflict, keeping
// its message.
func conflictOnInvariant(err error) error {
	if dErrors.HasCode(err, dErrors.CodeInvariantViolation) {
		return dErrors.New(dErrors.CodeConflict, dErrors.SafeMessage(err))
	}
	return err
}

func (s *Service) incrementTenantCreated() {
	if s.metrics != nil {
		s.metrics.IncrementTenantCreated()
	}
}

func (s *Service) incrementStatusChange(eventType string) {
	if s.metrics != nil {
		s.metrics.IncrementStatusChange(eventType)
	}
}
