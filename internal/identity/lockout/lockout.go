// Package lockout counts failed logins per user and hard-locks the account
// once the threshold is reached.
package lockout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"olympus/internal/eventbus"
	identitymetrics "olympus/internal/identity/metrics"
	"olympus/internal/identity/models"
	id "olympus/pkg/domain"
	dErrors "olympus/pkg/domain-errors"
	"olympus/pkg/platform/tx"
	"olympus/pkg/requestcontext"
)

const (
	DefaultThreshold    = 5
	DefaultLockDuration = 30 * time.Minute
)

// Store is the part of the user store the lockout needs. RecordFailure must
// increment atomically.
type Store interface {
	RecordFailure(ctx context.Context, tenantID id.TenantID, userID id.UserID, now time.Time) (*models.User, error)
	Execute(ctx context.Context, tenantID id.TenantID, userID id.UserID, validate func(*models.User) error, mutate func(*models.User)) (*models.User, error)
}

type EventOutbox interface {
	Append(ctx context.Context, e eventbus.Event) error
}

type Service struct {
	store        Store
	outbox       EventOutbox
	tx           tx.Runner
	logger       *slog.Logger
	metrics      *identitymetrics.Metrics
	threshold    int
	lockDuration time.Duration
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *identitymetrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithOutbox records identity.account.locked in the lock's transaction.
func WithOutbox(o EventOutbox) Option {
	return func(s *Service) {
		s.outbox = o
	}
}

func WithTx(r tx.Runner) Option {
	return func(s *Service) {
		s.tx = r
	}
}

// WithPolicy overrides the failure threshold and lock duration. Non-positive
// values keep the defaults.
func WithPolicy(threshold int, lockDuration time.Duration) Option {
	return func(s *Service) {
		if threshold > 0 {
			s.threshold = threshold
		}
		if lockDuration > 0 {
			s.lockDuration = lockDuration
		}
	}
}

func New(store Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("lockout store is required")
	}
	svc := &Service{
		store:        store,
		tx:           &tx.LocalRunner{},
		logger:       slog.Default(),
		threshold:    DefaultThreshold,
		lockDuration: DefaultLockDuration,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Check returns AccountLocked while the user's lock is in force.
func (s *Service) Check(ctx context.Context, u *models.User) error {
	now := requestcontext.Now(ctx)
	if !u.IsLockedAt(now) {
		return nil
	}
	retryAfter := max(int(u.LockedUntil.Sub(now).Seconds()), 0)
	return dErrors.New(dErrors.CodeAccountLocked,
		fmt.Sprintf("account locked, retry after %d seconds", retryAfter))
}

var errLockSkipped = errors.New("lock already applied")

// RecordFailure counts one failure and locks the account when the count
// reaches the threshold. Of several concurrent failures crossing the
// threshold only one applies the lock and emits the event.
func (s *Service) RecordFailure(ctx context.Context, u *models.User) (*models.User, error) {
	now := requestcontext.Now(ctx)
	var (
		result    *models.User
		lockedNow bool
	)
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		current, err := s.store.RecordFailure(ctx, u.TenantID, u.ID, now)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record login failure")
		}
		result = current
		if !current.ShouldHardLock(s.threshold) {
			return nil
		}

		locked, err := s.store.Execute(ctx, u.TenantID, u.ID,
			func(fresh *models.User) error {
				if !fresh.ShouldHardLock(s.threshold) {
					return errLockSkipped
				}
				return nil
			},
			func(fresh *models.User) { fresh.ApplyHardLock(s.lockDuration, now) },
		)
		if errors.Is(err, errLockSkipped) {
			return nil
		}
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to lock account")
		}
		result, lockedNow = locked, true
		return s.emitLocked(ctx, locked)
	})
	if err != nil {
		return nil, err
	}
	if lockedNow {
		s.incrementLockout()
		s.logger.WarnContext(ctx, "account locked",
			"tenant_id", u.TenantID,
			"user_id", u.ID,
			"locked_until", result.LockedUntil,
			"log_type", "audit",
		)
	}
	return result, nil
}

// Clear resets the failure state after a successful login.
func (s *Service) Clear(ctx context.Context, u *models.User) error {
	if !u.HasFailureState() {
		return nil
	}
	now := requestcontext.Now(ctx)
	_, err := s.store.Execute(ctx, u.TenantID, u.ID,
		func(*models.User) error { return nil },
		func(fresh *models.User) { fresh.ClearFailures(now) },
	)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to clear login failures")
	}
	return nil
}

func (s *Service) emitLocked(ctx context.Context, u *models.User) error {
	if s.outbox == nil {
		return nil
	}
	evt, err := eventbus.NewEvent(u.TenantID, models.EventAccountLocked,
		models.AccountLocked{UserID: u.ID, LockedUntil: *u.LockedUntil},
		eventbus.WithAggregate("user:"+u.ID.String()),
		eventbus.WithCreatedAt(requestcontext.Now(ctx)),
	)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to build lock event")
	}
	if err := s.outbox.Append(ctx, evt); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record lock event")
	}
	return nil
}

func (s *Service) incrementLockout() {
	if s.metrics != nil {
		s.metrics.IncrementLockout()
	}
}
