package models

import (
	"fmt"
	"strings"
	"time"

	id "olympus/pkg/domain"
	dErrors "olympus/pkg/domain-errors"
)

// Money is an amount in minor currency units (cents).
type Money int64

const (
	maxItems    = 200
	maxQuantity = 10000
	// MaxAmount caps unit prices and order subtotals so line and tax
	// arithmetic stays inside int64.
	MaxAmount Money = 1_000_000_000_000
)

type Status string

const (
	StatusDraft     Status = "draft"
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusPreparing Status = "preparing"
	StatusReady     Status = "ready"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusRefunded  Status = "refunded"
)

// transitions lists the allowed next states for each order state.
var transitions = map[Status][]Status{
	StatusDraft:     {StatusPending, StatusCancelled},
	StatusPending:   {StatusConfirmed, StatusCancelled, StatusRefunded},
	StatusConfirmed: {StatusPreparing, StatusCancelled, StatusRefunded},
	StatusPreparing: {StatusReady, StatusCancelled, StatusRefunded},
	StatusReady:     {StatusCompleted, StatusCancelled, StatusRefunded},
	StatusCompleted: {},
	StatusCancelled: {},
	StatusRefunded:  {},
}

func (s Status) IsValid() bool {
	_, ok := transitions[s]
	return ok
}

func (s Status) IsTerminal() bool {
	return s.IsValid() && len(transitions[s]) == 0
}

func (s Status) CanTransitionTo(target Status) bool {
	for _, next := range transitions[s] {
		if next == target {
			return true
		}
	}
	return false
}

// Item is one order line.
type Item struct {
	SKU       string `json:"sku"`
	Name      string `json:"name"`
	Quantity  int64  `json:"quantity"`
	UnitPrice Money  `json:"unit_price"`
}

func (i Item) LineTotal() Money {
	return Money(i.Quantity) * i.UnitPrice
}

func (i Item) validate() error {
	if strings.TrimSpace(i.SKU) == "" {
		return dErrors.New(dErrors.CodeValidation, "item sku is required")
	}
	if strings.TrimSpace(i.Name) == "" {
		return dErrors.New(dErrors.CodeValidation, "item name is required")
	}
	if i.Quantity <= 0 || i.Quantity > maxQuantity {
		return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("item quantity must be between 1 and %d", maxQuantity))
	}
	if i.UnitPrice < 0 || i.UnitPrice > MaxAmount {
		return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("item unit price must be between 0 and %d", MaxAmount))
	}
	return nil
}

// Pricing is the tenant's ordering configuration applied when totals are
// computed. Tax is in basis points of the subtotal.
type Pricing struct {
	Currency           string
	TaxRateBasisPoints int64
}

// Order is the aggregate root for a purchase at one tenant location.
//
// Invariants:
//   - Total = Subtotal + Tax - Discount and never goes negative
//   - Items only change while the order is a draft
//   - Status moves only along the transitions table
//   - Completed requires the payment to have been captured
//   - Version increases by one on every change
type Order struct {
	ID           id.OrderID     `json:"id"`
	TenantID     id.TenantID    `json:"tenant_id"`
	LocationID   *id.LocationID `json:"location_id,omitempty"`
	CustomerID   id.UserID      `json:"customer_id"`
	Status       Status         `json:"status"`
	Payment      Payment        `json:"payment"`
	Currency     string         `json:"currency"`
	Items        []Item         `json:"items"`
	Subtotal     Money          `json:"subtotal"`
	Tax          Money          `json:"tax"`
	Discount     Money          `json:"discount"`
	Total        Money          `json:"total"`
	CancelReason string         `json:"cancel_reason,omitempty"`
	Version      int64          `json:"version"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	SubmittedAt  *time.Time     `json:"submitted_at,omitempty"`
	ConfirmedAt  *time.Time     `json:"confirmed_at,omitempty"`
	PreparingAt  *time.Time     `json:"preparing_at,omitempty"`
	ReadyAt      *time.Time     `json:"ready_at,omitempty"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
	CancelledAt  *time.Time     `json:"cancelled_at,omitempty"`
	RefundedAt   *time.Time     `json:"refunded_at,omitempty"`
}

// NewDraft builds a draft order. Items may be empty; Submit requires them.
func NewDraft(orderID id.OrderID, tenantID id.TenantID, customerID id.UserID, location *id.LocationID, items []Item, discount Money, pricing Pricing, now time.Time) (*Order, error) {
	if tenantID.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "tenant ID required")
	}
	if customerID.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "customer ID required")
	}
	if pricing.Currency == "" {
		pricing.Currency = "USD"
	}
	o := &Order{
		ID:         orderID,
		TenantID:   tenantID,
		LocationID: location,
		CustomerID: customerID,
		Status:     StatusDraft,
		Payment:    Payment{Status: PaymentPending},
		Currency:   pricing.Currency,
		Version:    1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	lines, err := PriceLines(items, discount, pricing.TaxRateBasisPoints)
	if err != nil {
		return nil, err
	}
	o.setLines(lines)
	return o, nil
}

// CheckVersion reports VersionConflict when expected is not the current version.
func (o *Order) CheckVersion(expected int64) error {
	if o.Version != expected {
		return dErrors.New(dErrors.CodeVersionConflict,
			fmt.Sprintf("order is at version %d, not %d", o.Version, expected))
	}
	return nil
}

func (o *Order) canMove(target Status) error {
	if !o.Status.CanTransitionTo(target) {
		return dErrors.New(dErrors.CodeInvariantViolation,
			fmt.Sprintf("order cannot move from %s to %s", o.Status, target))
	}
	return nil
}

func (o *Order) CanReplaceItems() error {
	if o.Status != StatusDraft {
		return dErrors.New(dErrors.CodeInvariantViolation, "items can only change while the order is a draft")
	}
	return nil
}

// ApplyItems replaces the lines and totals of a draft with priced lines.
func (o *Order) ApplyItems(lines Lines, now time.Time) {
	o.setLines(lines)
	o.touch(now)
}

// CanSubmit checks the parts of Draft to Pending the order can see itself.
// The service additionally resolves the location against tenant settings.
func (o *Order) CanSubmit() error {
	if err := o.canMove(StatusPending); err != nil {
		return err
	}
	if len(o.Items) == 0 {
		return dErrors.New(dErrors.CodeInvariantViolation, "order has no items")
	}
	if o.LocationID == nil || o.LocationID.IsNil() {
		return dErrors.New(dErrors.CodeInvariantViolation, "order has no location")
	}
	return nil
}

func (o *Order) ApplySubmit(now time.Time) {
	o.Status = StatusPending
	o.SubmittedAt = &now
	o.touch(now)
}

func (o *Order) CanConfirm() error {
	if err := o.canMove(StatusConfirmed); err != nil {
		return err
	}
	if !o.Payment.AtLeastAuthorized() {
		return dErrors.New(dErrors.CodeInvariantViolation, "payment must be authorized before the order is confirmed")
	}
	return nil
}

func (o *Order) ApplyConfirm(now time.Time) {
	o.Status = StatusConfirmed
	o.ConfirmedAt = &now
	o.touch(now)
}

func (o *Order) CanStartPreparing() error {
	return o.canMove(StatusPreparing)
}

func (o *Order) ApplyStartPreparing(now time.Time) {
	o.Status = StatusPreparing
	o.PreparingAt = &now
	o.touch(now)
}

func (o *Order) CanMarkReady() error {
	return o.canMove(StatusReady)
}

func (o *Order) ApplyReady(now time.Time) {
	o.Status = StatusReady
	o.ReadyAt = &now
	o.touch(now)
}

func (o *Order) CanComplete() error {
	if err := o.canMove(StatusCompleted); err != nil {
		return err
	}
	if o.Payment.Status != PaymentCaptured {
		return dErrors.New(dErrors.CodeInvariantViolation, "payment must be captured before the order is completed")
	}
	return nil
}

func (o *Order) ApplyComplete(now time.Time) {
	o.Status = StatusCompleted
	o.CompletedAt = &now
	o.touch(now)
}

// CanCancel refuses orders that are already completed, refunded or cancelled.
func (o *Order) CanCancel() error {
	switch o.Status {
	case StatusCompleted, StatusRefunded:
		return dErrors.New(dErrors.CodeInvariantViolation, fmt.Sprintf("a %s order cannot be cancelled", o.Status))
	}
	return o.canMove(StatusCancelled)
}

func (o *Order) ApplyCancel(reason string, now time.Time) {
	o.Status = StatusCancelled
	o.CancelReason = strings.TrimSpace(reason)
	o.CancelledAt = &now
	o.touch(now)
}

func (o *Order) CanAuthorizePayment(amount Money) error {
	if o.Status != StatusPending {
		return dErrors.New(dErrors.CodeInvariantViolation, "payment can only be authorized on a pending order")
	}
	return o.Payment.canAuthorize(amount, o.Total)
}

func (o *Order) ApplyAuthorization(amount Money, now time.Time) {
	o.Payment.Status = PaymentAuthorized
	o.Payment.Authorized = amount
	o.touch(now)
}

// CanCapturePayment allows capture once the order is confirmed, and also on a
// completed order where a repeated capture is reversed by ApplyCapture.
func (o *Order) CanCapturePayment() error {
	switch o.Status {
	case StatusConfirmed, StatusPreparing, StatusReady:
		return o.Payment.canCapture()
	case StatusCompleted:
		if o.Payment.Status != PaymentCaptured {
			return dErrors.New(dErrors.CodeInvariantViolation, "completed order has no captured payment")
		}
		return nil
	default:
		return dErrors.New(dErrors.CodeInvariantViolation, fmt.Sprintf("payment cannot be captured on a %s order", o.Status))
	}
}

// ApplyCapture captures the authorized amount. On a completed order the
// capture is a duplicate: the payment becomes fully refunded and the order
// gets its refund marker while staying completed. It reports whether that
// happened.
func (o *Order) ApplyCapture(now time.Time) (refunded bool) {
	if o.Status == StatusCompleted {
		o.Payment.Status = PaymentRefunded
		o.Payment.Refunded = o.Payment.Captured
		o.RefundedAt = &now
		o.touch(now)
		return true
	}
	o.Payment.Status = PaymentCaptured
	o.Payment.Captured = o.Payment.Authorized
	o.touch(now)
	return false
}

func (o *Order) CanFailPayment() error {
	if o.Status.IsTerminal() {
		return dErrors.New(dErrors.CodeInvariantViolation, fmt.Sprintf("payment cannot fail on a %s order", o.Status))
	}
	return o.Payment.canFail()
}

func (o *Order) ApplyPaymentFailure(now time.Time) {
	o.Payment.Status = PaymentFailed
	o.touch(now)
}

// CanRefund checks amount against what is left of the capture.
func (o *Order) CanRefund(amount Money) error {
	switch o.Status {
	case StatusCancelled, StatusRefunded, StatusDraft:
		return dErrors.New(dErrors.CodeInvariantViolation, fmt.Sprintf("a %s order cannot be refunded", o.Status))
	}
	return o.Payment.canRefund(amount)
}

// ApplyRefund refunds amount. A full refund before completion moves the
// order to Refunded; after completion the order keeps its status and only
// records RefundedAt.
func (o *Order) ApplyRefund(amount Money, now time.Time) {
	o.Payment.Refunded += amount
	o.Payment.Status = PaymentRefunded
	if o.Status == StatusCompleted {
		o.RefundedAt = &now
	} else if o.Payment.RefundKind() == RefundFull {
		o.Status = StatusRefunded
		o.RefundedAt = &now
	}
	o.touch(now)
}

// Lines is a validated set of order lines with its totals.
type Lines struct {
	Items    []Item
	Subtotal Money
	Tax      Money
	Discount Money
	Total    Money
}

// PriceLines validates items and computes subtotal, tax and total.
func PriceLines(items []Item, discount Money, taxRateBasisPoints int64) (Lines, error) {
	if len(items) > maxItems {
		return Lines{}, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("an order holds at most %d items", maxItems))
	}
	var subtotal Money
	for _, item := range items {
		if err := item.validate(); err != nil {
			return Lines{}, err
		}
		subtotal += item.LineTotal()
		if subtotal > MaxAmount {
			return Lines{}, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("order subtotal cannot exceed %d", MaxAmount))
		}
	}
	if discount < 0 {
		return Lines{}, dErrors.New(dErrors.CodeValidation, "discount cannot be negative")
	}
	tax := TaxOn(subtotal, taxRateBasisPoints)
	if discount > subtotal+tax {
		return Lines{}, dErrors.New(dErrors.CodeValidation, "discount cannot exceed the order amount")
	}
	return Lines{
		Items:    append([]Item(nil), items...),
		Subtotal: subtotal,
		Tax:      tax,
		Discount: discount,
		Total:    subtotal + tax - discount,
	}, nil
}

func (o *Order) setLines(l Lines) {
	o.Items = append([]Item(nil), l.Items...)
	o.Subtotal = l.Subtotal
	o.Tax = l.Tax
	o.Discount = l.Discount
	o.Total = l.Total
}

// TaxOn applies a basis-point rate to amount, rounding half up.
func TaxOn(amount Money, basisPoints int64) Money {
	if amount <= 0 || basisPoints <= 0 {
		return 0
	}
	return Money((int64(amount)*basisPoints + 5000) / 10000)
}

func (o *Order) touch(now time.Time) {
	o.UpdatedAt = now
	o.Version++
}

// Clone returns a deep copy.
func (o *Order) Clone() *Order {
	c := *o
	c.Items = append([]Item(nil), o.Items...)
	if o.LocationID != nil {
		loc := *o.LocationID
		c.LocationID = &loc
	}
	for _, p := range []**time.Time{&c.SubmittedAt, &c.ConfirmedAt, &c.PreparingAt, &c.ReadyAt, &c.CompletedAt, &c.CancelledAt, &c.RefundedAt} {
		if *p != nil {
			t := **p
			*p = &t
		}
	}
	return &c
}
