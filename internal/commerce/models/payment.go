package models

import (
	"fmt"

	dErrors "olympus/pkg/domain-errors"
)

type PaymentStatus string

const (
	PaymentPending    PaymentStatus = "pending"
	PaymentAuthorized PaymentStatus = "authorized"
	PaymentCaptured   PaymentStatus = "captured"
	PaymentFailed     PaymentStatus = "failed"
	PaymentRefunded   PaymentStatus = "refunded"
)

func (s PaymentStatus) IsValid() bool {
	switch s {
	case PaymentPending, PaymentAuthorized, PaymentCaptured, PaymentFailed, PaymentRefunded:
		return true
	}
	return false
}

// RefundKind qualifies a refunded payment.
type RefundKind string

const (
	RefundNone    RefundKind = ""
	RefundPartial RefundKind = "partial"
	RefundFull    RefundKind = "full"
)

// Payment is the order's payment sub-state. Amounts are cumulative.
type Payment struct {
	Status     PaymentStatus `json:"status"`
	Authorized Money         `json:"authorized_amount"`
	Captured   Money         `json:"captured_amount"`
	Refunded   Money         `json:"refunded_amount"`
}

// RefundKind is derived from the refunded and captured amounts.
func (p Payment) RefundKind() RefundKind {
	switch {
	case p.Status != PaymentRefunded || p.Refunded == 0:
		return RefundNone
	case p.Refunded >= p.Captured:
		return RefundFull
	default:
		return RefundPartial
	}
}

// AtLeastAuthorized reports whether the payment has been authorized, whatever
// happened to it afterwards.
func (p Payment) AtLeastAuthorized() bool {
	switch p.Status {
	case PaymentAuthorized, PaymentCaptured, PaymentRefunded:
		return true
	}
	return false
}

// Refundable is what is left of the capture.
func (p Payment) Refundable() Money {
	return p.Captured - p.Refunded
}

func (p Payment) canAuthorize(amount, total Money) error {
	if p.Status != PaymentPending {
		return dErrors.New(dErrors.CodeInvariantViolation, fmt.Sprintf("payment is already %s", p.Status))
	}
	if amount != total {
		return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("authorization of %d does not match order total %d", amount, total))
	}
	return nil
}

func (p Payment) canCapture() error {
	if p.Status != PaymentAuthorized {
		return dErrors.New(dErrors.CodeInvariantViolation, fmt.Sprintf("payment is %s, not authorized", p.Status))
	}
	return nil
}

func (p Payment) canFail() error {
	switch p.Status {
	case PaymentPending, PaymentAuthorized:
		return nil
	}
	return dErrors.New(dErrors.CodeInvariantViolation, fmt.Sprintf("a %s payment cannot fail", p.Status))
}

func (p Payment) canRefund(amount Money) error {
	if p.Status != PaymentCaptured && p.RefundKind() != RefundPartial {
		return dErrors.New(dErrors.CodeInvariantViolation, "only captured payments can be refunded")
	}
	if amount <= 0 {
		return dErrors.New(dErrors.CodeValidation, "refund amount must be positive")
	}
	if amount > p.Refundable() {
		return dErrors.New(dErrors.CodeValidation,
			fmt.Sprintf("refund of %d exceeds the refundable %d", amount, p.Refundable()))
	}
	return nil
}
