package service

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"olympus/internal/commerce/models"
	orderstore "olympus/internal/commerce/store/order"
	"olympus/internal/policy"
	tenantmodels "olympus/internal/tenant/models"
	id "olympus/pkg/domain"
	dErrors "olympus/pkg/domain-errors"
	"olympus/pkg/requestcontext"
)

// CreateDraftRequest opens an order. Staff may open one for a customer by
// setting CustomerID; otherwise the caller is the customer.
type CreateDraftRequest struct {
	CustomerID *id.UserID
	LocationID *id.LocationID
	Items      []models.Item
	Discount   models.Money
}

// transition describes one state change. mutate returns the event type to
// emit, which lets one operation pick between events depending on state.
type transition struct {
	op       string
	perm     policy.Permission
	validate func(o *models.Order) error
	mutate   func(o *models.Order, now time.Time) string
	amount   models.Money
	reason   string
}

func (s *Service) CreateDraft(ctx context.Context, claims *id.Claims, req CreateDraftRequest) (*models.Order, error) {
	ctx, span := tracer.Start(ctx, "commerce.create_draft")
	defer span.End()

	o, err := s.createDraft(ctx, claims, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(dErrors.CodeOf(err)))
		s.incrementRejected("create_draft", err)
		return nil, err
	}
	s.incrementTransition(models.EventOrderCreated)
	return o, nil
}

func (s *Service) createDraft(ctx context.Context, claims *id.Claims, req CreateDraftRequest) (*models.Order, error) {
	if err := requireClaims(claims); err != nil {
		return nil, err
	}
	if err := s.authorizer.RequireIn(ctx, claims, policy.PermOrdersCreate, claims.TenantID); err != nil {
		return nil, err
	}
	customer := claims.Subject
	if req.CustomerID != nil && *req.CustomerID != claims.Subject {
		if !isStaff(claims) {
			return nil, dErrors.New(dErrors.CodeInsufficientRole, "customers can only open orders for themselves")
		}
		customer = *req.CustomerID
	}
	if req.Discount != 0 && !isStaff(claims) {
		return nil, dErrors.New(dErrors.CodeInsufficientRole, "customers cannot apply discounts")
	}

	var pricing models.Pricing
	if err := s.retryTransient(ctx, func(ctx context.Context) error {
		var err error
		pricing, err = s.pricing(ctx, claims.TenantID)
		return err
	}); err != nil {
		return nil, storeErr(err)
	}

	now := requestcontext.Now(ctx)
	o, err := models.NewDraft(id.NewOrderID(), claims.TenantID, customer, req.LocationID, req.Items, req.Discount, pricing, now)
	if err != nil {
		return nil, err
	}
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.orders.Create(ctx, o); err != nil {
			return err
		}
		return s.emit(ctx, o, models.EventOrderCreated, o.Changed(0, ""))
	})
	if err != nil {
		return nil, storeErr(err)
	}
	return o, nil
}

// ReplaceItems swaps the lines of a draft and recomputes its totals.
func (s *Service) ReplaceItems(ctx context.Context, claims *id.Claims, orderID id.OrderID, expectedVersion int64, items []models.Item, discount models.Money) (*models.Order, error) {
	if err := requireClaims(claims); err != nil {
		return nil, err
	}
	if discount != 0 && !isStaff(claims) {
		return nil, dErrors.New(dErrors.CodeInsufficientRole, "customers cannot apply discounts")
	}
	var pricing models.Pricing
	if err := s.retryTransient(ctx, func(ctx context.Context) error {
		var err error
		pricing, err = s.pricing(ctx, claims.TenantID)
		return err
	}); err != nil {
		return nil, storeErr(err)
	}
	lines, err := models.PriceLines(items, discount, pricing.TaxRateBasisPoints)
	if err != nil {
		return nil, err
	}
	return s.transition(ctx, claims, orderID, expectedVersion, transition{
		op:   "replace_items",
		perm: policy.PermOrdersCreate,
		validate: func(o *models.Order) error {
			return o.CanReplaceItems()
		},
		mutate: func(o *models.Order, now time.Time) string {
			o.ApplyItems(lines, now)
			return models.EventOrderItemsUpdated
		},
	})
}

// Submit moves a draft to pending. The order's location must be one of the
// tenant's configured locations.
func (s *Service) Submit(ctx context.Context, claims *id.Claims, orderID id.OrderID, expectedVersion int64) (*models.Order, error) {
	if err := requireClaims(claims); err != nil {
		return nil, err
	}
	var locs tenantmodels.LocationsSettings
	if err := s.retryTransient(ctx, func(ctx context.Context) error {
		var err error
		locs, err = s.locations(ctx, claims.TenantID)
		return err
	}); err != nil {
		return nil, storeErr(err)
	}
	return s.transition(ctx, claims, orderID, expectedVersion, transition{
		op:   "submit",
		perm: policy.PermOrdersCreate,
		validate: func(o *models.Order) error {
			if err := o.CanSubmit(); err != nil {
				return err
			}
			if !locs.Has(*o.LocationID) {
				return dErrors.New(dErrors.CodeInvariantViolation, "order location is not one of the tenant's locations")
			}
			return nil
		},
		mutate: func(o *models.Order, now time.Time) string {
			o.ApplySubmit(now)
			return models.EventOrderSubmitted
		},
	})
}

func (s *Service) Confirm(ctx context.Context, claims *id.Claims, orderID id.OrderID, expectedVersion int64) (*models.Order, error) {
	return s.transition(ctx, claims, orderID, expectedVersion, transition{
		op:       "confirm",
		perm:     policy.PermOrdersUpdate,
		validate: (*models.Order).CanConfirm,
		mutate: func(o *models.Order, now time.Time) string {
			o.ApplyConfirm(now)
			return models.EventOrderConfirmed
		},
	})
}

func (s *Service) StartPreparing(ctx context.Context, claims *id.Claims, orderID id.OrderID, expectedVersion int64) (*models.Order, error) {
	return s.transition(ctx, claims, orderID, expectedVersion, transition{
		op:       "start_preparing",
		perm:     policy.PermOrdersUpdate,
		validate: (*models.Order).CanStartPreparing,
		mutate: func(o *models.Order, now time.Time) string {
			o.ApplyStartPreparing(now)
			return models.EventOrderPreparing
		},
	})
}

func (s *Service) MarkReady(ctx context.Context, claims *id.Claims, orderID id.OrderID, expectedVersion int64) (*models.Order, error) {
	return s.transition(ctx, claims, orderID, expectedVersion, transition{
		op:       "mark_ready",
		perm:     policy.PermOrdersUpdate,
		validate: (*models.Order).CanMarkReady,
		mutate: func(o *models.Order, now time.Time) string {
			o.ApplyReady(now)
			return models.EventOrderReady
		},
	})
}

// Complete requires a captured payment.
func (s *Service) Complete(ctx context.Context, claims *id.Claims, orderID id.OrderID, expectedVersion int64) (*models.Order, error) {
	o, err := s.transition(ctx, claims, orderID, expectedVersion, transition{
		op:       "complete",
		perm:     policy.PermOrdersUpdate,
		validate: (*models.Order).CanComplete,
		mutate: func(o *models.Order, now time.Time) string {
			o.ApplyComplete(now)
			return models.EventOrderCompleted
		},
	})
	if err == nil && s.metrics != nil {
		s.metrics.ObserveCompleted(o.Currency, int64(o.Total))
	}
	return o, err
}

// Cancel is refused once the order is completed or refunded.
func (s *Service) Cancel(ctx context.Context, claims *id.Claims, orderID id.OrderID, expectedVersion int64, reason string) (*models.Order, error) {
	return s.transition(ctx, claims, orderID, expectedVersion, transition{
		op:       "cancel",
		perm:     policy.PermOrdersCancel,
		validate: (*models.Order).CanCancel,
		mutate: func(o *models.Order, now time.Time) string {
			o.ApplyCancel(reason, now)
			return models.EventOrderCancelled
		},
		reason: reason,
	})
}

func (s *Service) Get(ctx context.Context, claims *id.Claims, orderID id.OrderID) (*models.Order, error) {
	if err := requireClaims(claims); err != nil {
		return nil, err
	}
	if err := s.authorizer.RequireIn(ctx, claims, policy.PermOrdersRead, claims.TenantID); err != nil {
		return nil, err
	}
	var o *models.Order
	err := s.retryTransient(ctx, func(ctx context.Context) error {
		var err error
		o, err = s.orders.FindByID(ctx, claims.TenantID, orderID)
		return err
	})
	if err != nil {
		return nil, storeErr(err)
	}
	if err := checkOwner(claims, o); err != nil {
		return nil, err
	}
	return o, nil
}

// List returns the tenant's orders, newest first. Customers only see their
// own.
func (s *Service) List(ctx context.Context, claims *id.Claims, filter orderstore.ListFilter) ([]*models.Order, error) {
	if err := requireClaims(claims); err != nil {
		return nil, err
	}
	if err := s.authorizer.RequireIn(ctx, claims, policy.PermOrdersRead, claims.TenantID); err != nil {
		return nil, err
	}
	if filter.Status != "" && !filter.Status.IsValid() {
		return nil, dErrors.New(dErrors.CodeValidation, "unknown order status")
	}
	if !isStaff(claims) {
		self := claims.Subject
		filter.CustomerID = &self
	}
	var out []*models.Order
	err := s.retryTransient(ctx, func(ctx context.Context) error {
		var err error
		out, err = s.orders.List(ctx, claims.TenantID, filter)
		return err
	})
	if err != nil {
		return nil, storeErr(err)
	}
	return out, nil
}

// transition checks the permission, then under the store lock checks
// ownership, the expected version and the state rule, applies the change and
// appends exactly one event, all in one unit of work.
func (s *Service) transition(ctx context.Context, claims *id.Claims, orderID id.OrderID, expectedVersion int64, t transition) (*models.Order, error) {
	ctx, span := tracer.Start(ctx, "commerce."+t.op, trace.WithAttributes(
		attribute.String("order.id", orderID.String()),
		attribute.Int64("order.expected_version", expectedVersion),
	))
	defer span.End()

	o, eventType, err := s.runTransition(ctx, claims, orderID, expectedVersion, t)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(dErrors.CodeOf(err)))
		s.incrementRejected(t.op, err)
		if dErrors.HasCode(err, dErrors.CodeVersionConflict) {
			s.logger.InfoContext(ctx, "order transition on stale version",
				"order_id", orderID, "expected_version", expectedVersion, "operation", t.op)
		}
		return nil, err
	}
	span.SetAttributes(attribute.String("event.type", eventType))
	s.incrementTransition(eventType)
	return o, nil
}

func (s *Service) runTransition(ctx context.Context, claims *id.Claims, orderID id.OrderID, expectedVersion int64, t transition) (*models.Order, string, error) {
	if err := requireClaims(claims); err != nil {
		return nil, "", err
	}
	if err := s.authorizer.RequireIn(ctx, claims, t.perm, claims.TenantID); err != nil {
		return nil, "", err
	}

	var (
		result    *models.Order
		eventType string
	)
	err := s.retryTransient(ctx, func(ctx context.Context) error {
		return s.tx.RunInTx(ctx, func(ctx context.Context) error {
			now := requestcontext.Now(ctx)
			o, err := s.orders.Execute(ctx, claims.TenantID, orderID,
				func(o *models.Order) error {
					if err := checkOwner(claims, o); err != nil {
						return err
					}
					if err := o.CheckVersion(expectedVersion); err != nil {
						return err
					}
					return t.validate(o)
				},
				func(o *models.Order) {
					eventType = t.mutate(o, now)
				})
			if err != nil {
				return err
			}
			result = o
			return s.emit(ctx, o, eventType, o.Changed(t.amount, t.reason))
		})
	})
	if err != nil {
		return nil, "", storeErr(err)
	}
	return result, eventType, nil
}
