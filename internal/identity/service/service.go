package service

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks UserStore,SessionStore,RevocationList,RefreshGuard,TenantResolver,Authorizer

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"

	"olympus/internal/eventbus"
	"olympus/internal/identity/lockout"
	identitymetrics "olympus/internal/identity/metrics"
	"olympus/internal/identity/models"
	"olympus/internal/identity/password"
	"olympus/internal/identity/store/refreshguard"
	"olympus/internal/identity/token"
	"olympus/internal/policy"
	tenantmodels "olympus/internal/tenant/models"
	id "olympus/pkg/domain"
	dErrors "olympus/pkg/domain-errors"
	"olympus/pkg/platform/retry"
	"olympus/pkg/platform/sentinel"
	"olympus/pkg/platform/tx"
	"olympus/pkg/requestcontext"
)

var tracer = otel.Tracer("olympus/identity")

// UserStore persists users. Every method is scoped to the supplied tenant and
// reports rows of another tenant as sentinel.ErrTenantMismatch.
type UserStore interface {
	Create(ctx context.Context, u *models.User) error
	FindByEmail(ctx context.Context, tenantID id.TenantID, email string) (*models.User, error)
	FindByID(ctx context.Context, tenantID id.TenantID, userID id.UserID) (*models.User, error)
	Update(ctx context.Context, tenantID id.TenantID, u *models.User) error
	Execute(ctx context.Context, tenantID id.TenantID, userID id.UserID, validate func(*models.User) error, mutate func(*models.User)) (*models.User, error)
	RecordFailure(ctx context.Context, tenantID id.TenantID, userID id.UserID, now time.Time) (*models.User, error)
}

// SessionStore persists sessions. AdvanceRefresh is a compare-and-swap on the
// session generation.
type SessionStore interface {
	Create(ctx context.Context, sess *models.Session) error
	FindByID(ctx context.Context, tenantID id.TenantID, sessionID id.SessionID) (*models.Session, error)
	ListByUser(ctx context.Context, tenantID id.TenantID, userID id.UserID) ([]*models.Session, error)
	Execute(ctx context.Context, tenantID id.TenantID, sessionID id.SessionID, validate func(*models.Session) error, mutate func(*models.Session)) (*models.Session, error)
	AdvanceRefresh(ctx context.Context, tenantID id.TenantID, sessionID id.SessionID, expectedGeneration int64, accessHash string, accessExpiresAt, now time.Time) (*models.Session, error)
	RevokeAllForUser(ctx context.Context, tenantID id.TenantID, userID id.UserID, reason models.RevokeReason, now time.Time) ([]*models.Session, error)
}

type RevocationList interface {
	RevokeSession(ctx context.Context, sessionID id.SessionID, ttl time.Duration) error
	RevokeSessions(ctx context.Context, sessionIDs []id.SessionID, ttl time.Duration) error
	IsSessionRevoked(ctx context.Context, sessionID id.SessionID) (bool, error)
}

type RefreshGuard interface {
	Acquire(ctx context.Context, sessionID id.SessionID, ttl time.Duration) (refreshguard.Release, bool, error)
}

// TenantResolver returns TenantNotFound or TenantSuspended for tenants that
// cannot log in.
type TenantResolver interface {
	ResolveActiveBySlug(ctx context.Context, slug string) (*tenantmodels.Tenant, error)
}

type Authorizer interface {
	RequireIn(ctx context.Context, claims *id.Claims, perm policy.Permission, resourceTenant id.TenantID) error
}

type EventOutbox interface {
	Append(ctx context.Context, e eventbus.Event) error
}

// Config holds the identity settings that are not owned by the token or
// password packages.
type Config struct {
	LockoutThreshold int
	LockDuration     time.Duration
	RefreshLockTTL   time.Duration
}

type serviceConfig struct {
	logger     *slog.Logger
	metrics    *identitymetrics.Metrics
	outbox     EventOutbox
	tx         tx.Runner
	revocation RevocationList
	guard      RefreshGuard
	authorizer Authorizer
	retry      retry.Policy
}

type Option func(*serviceConfig)

func WithLogger(logger *slog.Logger) Option {
	return func(c *serviceConfig) {
		c.logger = logger
	}
}

func WithMetrics(m *identitymetrics.Metrics) Option {
	return func(c *serviceConfig) {
		c.metrics = m
	}
}

// WithOutbox records identity events in the same unit of work as the state
// change. Without it events are only logged.
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

func WithRevocationList(l RevocationList) Option {
	return func(c *serviceConfig) {
		c.revocation = l
	}
}

func WithRefreshGuard(g RefreshGuard) Option {
	return func(c *serviceConfig) {
		c.guard = g
	}
}

// WithAuthorizer enables admin paths: role assignment at registration,
// logout of other users' sessions and RevokeUserSessions.
func WithAuthorizer(a Authorizer) Option {
	return func(c *serviceConfig) {
		c.authorizer = a
	}
}

func WithRetryPolicy(p retry.Policy) Option {
	return func(c *serviceConfig) {
		c.retry = p
	}
}

// Service issues, validates and revokes session credentials.
type Service struct {
	users      UserStore
	sessions   SessionStore
	tenants    TenantResolver
	tokens     *token.Service
	hasher     *password.Hasher
	lockout    *lockout.Service
	revocation RevocationList
	guard      RefreshGuard
	authorizer Authorizer
	outbox     EventOutbox
	tx         tx.Runner
	retry      retry.Policy
	logger     *slog.Logger
	metrics    *identitymetrics.Metrics

	refreshLockTTL time.Duration
}

func New(users UserStore, sessions SessionStore, tenants TenantResolver, tokens *token.Service, hasher *password.Hasher, cfg Config, opts ...Option) (*Service, error) {
	if users == nil || sessions == nil || tenants == nil {
		return nil, errors.New("identity stores and tenant resolver are required")
	}
	if tokens == nil || hasher == nil {
		return nil, errors.New("token service and password hasher are required")
	}

	c := &serviceConfig{
		logger: slog.Default(),
		tx:     &tx.LocalRunner{},
		retry:  retry.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.guard == nil {
		c.guard = refreshguard.NewInMemory()
	}

	lockOpts := []lockout.Option{
		lockout.WithLogger(c.logger),
		lockout.WithTx(c.tx),
		lockout.WithPolicy(cfg.LockoutThreshold, cfg.LockDuration),
	}
	if c.outbox != nil {
		lockOpts = append(lockOpts, lockout.WithOutbox(c.outbox))
	}
	if c.metrics != nil {
		lockOpts = append(lockOpts, lockout.WithMetrics(c.metrics))
	}
	lock, err := lockout.New(users, lockOpts...)
	if err != nil {
		return nil, err
	}

	refreshLockTTL := cfg.RefreshLockTTL
	if refreshLockTTL <= 0 {
		refreshLockTTL = 5 * time.Second
	}

	return &Service{
		users:          users,
		sessions:       sessions,
		tenants:        tenants,
		tokens:         tokens,
		hasher:         hasher,
		lockout:        lock,
		revocation:     c.revocation,
		guard:          c.guard,
		authorizer:     c.authorizer,
		outbox:         c.outbox,
		tx:             c.tx,
		retry:          c.retry,
		logger:         c.logger,
		metrics:        c.metrics,
		refreshLockTTL: refreshLockTTL,
	}, nil
}

// emit appends an identity event inside the caller's unit of work and writes
// the audit log line. Event payloads never carry secrets.
func (s *Service) emit(ctx context.Context, tenantID id.TenantID, aggregate, eventType string, payload any) error {
	s.logger.InfoContext(ctx, eventType,
		"tenant_id", tenantID,
		"aggregate", aggregate,
		"request_id", requestcontext.RequestID(ctx),
		"log_type", "audit",
	)
	if s.outbox == nil {
		return nil
	}
	evt, err := eventbus.NewEvent(tenantID, eventType, payload,
		eventbus.WithAggregate(aggregate),
		eventbus.WithCreatedAt(requestcontext.Now(ctx)),
	)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to build identity event")
	}
	if err := s.outbox.Append(ctx, evt); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record identity event")
	}
	return nil
}

// retryTransient runs op under the shared retry policy. Domain errors and
// store facts other than ErrUnavailable end the loop at once.
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

// storeErr translates store facts into domain errors. Domain errors already
// raised below (e.g. by the tenant guard) pass through.
func storeErr(err error, notFound dErrors.Code, msg string) error {
	var de *dErrors.Error
	switch {
	case errors.As(err, &de):
		return err
	case errors.Is(err, sentinel.ErrTenantMismatch):
		return dErrors.New(dErrors.CodeTenantMismatch, "resource belongs to another tenant")
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(notFound, msg)
	case errors.Is(err, sentinel.ErrAlreadyUsed):
		return dErrors.New(dErrors.CodeDuplicateIdentity, "an account with this email already exists")
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.New(dErrors.CodeVersionConflict, "resource was modified concurrently")
	case errors.Is(err, sentinel.ErrUnavailable):
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "identity store unavailable")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, msg)
	}
}

func (s *Service) incrementLogin(outcome string) {
	if s.metrics != nil {
		s.metrics.IncrementLogin(outcome)
	}
}

func (s *Service) observeLogin(start time.Time) {
	if s.metrics != nil {
		s.metrics.ObserveLogin(start)
	}
}

func (s *Service) incrementRefresh(outcome string) {
	if s.metrics != nil {
		s.metrics.IncrementRefresh(outcome)
	}
}

func (s *Service) incrementSessionsRevoked(reason models.RevokeReason, n int) {
	if s.metrics != nil && n > 0 {
		s.metrics.IncrementSessionsRevoked(string(reason), n)
	}
}

func (s *Service) incrementRegistration() {
	if s.metrics != nil {
		s.metrics.IncrementRegistration()
	}
}

func (s *Service) incrementRevocationFailure() {
	if s.metrics != nil {
		s.metrics.IncrementRevocationFailure()
	}
}
