package service

import (
	"context"
	"time"

	"olympus/internal/commerce/models"
	"olympus/internal/policy"
	id "olympus/pkg/domain"
)

// AuthorizePayment records a gateway authorization for the full order total.
func (s *Service) AuthorizePayment(ctx context.Context, claims *id.Claims, orderID id.OrderID, expectedVersion int64, amount models.Money) (*models.Order, error) {
	return s.transition(ctx, claims, orderID, expectedVersion, transition{
		op:   "authorize_payment",
		perm: policy.PermPaymentsAuthorize,
		validate: func(o *models.Order) error {
			return o.CanAuthorizePayment(amount)
		},
		mutate: func(o *models.Order, now time.Time) string {
			o.ApplyAuthorization(amount, now)
			return models.EventPaymentAuthorized
		},
		amount: amount,
	})
}

// CapturePayment captures the authorized amount. Capturing again on a
// completed order reverses the duplicate: the payment is refunded in full and
// the order keeps its Completed status with a refund marker.
func (s *Service) CapturePayment(ctx context.Context, claims *id.Claims, orderID id.OrderID, expectedVersion int64) (*models.Order, error) {
	o, err := s.transition(ctx, claims, orderID, expectedVersion, transition{
		op:       "capture_payment",
		perm:     policy.PermPaymentsCapture,
		validate: (*models.Order).CanCapturePayment,
		mutate: func(o *models.Order, now time.Time) string {
			if o.ApplyCapture(now) {
				return models.EventPaymentRefunded
			}
			return models.EventPaymentCaptured
		},
	})
	if err == nil && o.Status == models.StatusCompleted && s.metrics != nil {
		s.metrics.AddRefunded(o.Currency, int64(o.Payment.Refunded))
	}
	return o, err
}

// FailPayment records a declined or voided payment. The order stays where it
// is and can still be cancelled.
func (s *Service) FailPayment(ctx context.Context, claims *id.Claims, orderID id.OrderID, expectedVersion int64, reason string) (*models.Order, error) {
	return s.transition(ctx, claims, orderID, expectedVersion, transition{
		op:       "fail_payment",
		perm:     policy.PermPaymentsAuthorize,
		validate: (*models.Order).CanFailPayment,
		mutate: func(o *models.Order, now time.Time) string {
			o.ApplyPaymentFailure(now)
			return models.EventPaymentFailed
		},
		reason: reason,
	})
}

// Refund returns amount of the captured payment. A full refund before
// completion moves the order to Refunded; after completion only the refund
// marker is set.
func (s *Service) Refund(ctx context.Context, claims *id.Claims, orderID id.OrderID, expectedVersion int64, amount models.Money, reason string) (*models.Order, error) {
	o, err := s.transition(ctx, claims, orderID, expectedVersion, transition{
		op:   "refund",
		perm: policy.PermOrdersRefund,
		validate: func(o *models.Order) error {
			return o.CanRefund(amount)
		},
		mutate: func(o *models.Order, now time.Time) string {
			o.ApplyRefund(amount, now)
			return models.EventPaymentRefunded
		},
		amount: amount,
		reason: reason,
	})
	if err == nil && s.metrics != nil {
		s.metrics.AddRefunded(o.Currency, int64(amount))
	}
	return o, err
}
