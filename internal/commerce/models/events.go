package models

import (
	id "olympus/pkg/domain"
)

const (
	EventOrderCreated      = "commerce.order.created"
	EventOrderItemsUpdated = "commerce.order.items_updated"
	EventOrderSubmitted    = "commerce.order.submitted"
	EventOrderConfirmed    = "commerce.order.confirmed"
	EventOrderPreparing    = "commerce.order.preparing"
	EventOrderReady        = "commerce.order.ready"
	EventOrderCompleted    = "commerce.order.completed"
	EventOrderCancelled    = "commerce.order.cancelled"
	EventPaymentAuthorized = "commerce.payment.authorized"
	EventPaymentCaptured   = "commerce.payment.captured"
	EventPaymentFailed     = "commerce.payment.failed"
	EventPaymentRefunded   = "commerce.payment.refunded"
)

// OrderChanged is the payload of every order event. It carries the state
// after the transition so consumers need not read the order back.
type OrderChanged struct {
	OrderID       id.OrderID     `json:"order_id"`
	CustomerID    id.UserID      `json:"customer_id"`
	LocationID    *id.LocationID `json:"location_id,omitempty"`
	Status        Status         `json:"status"`
	PaymentStatus PaymentStatus  `json:"payment_status"`
	RefundKind    RefundKind     `json:"refund_kind,omitempty"`
	Currency      string         `json:"currency"`
	Total         Money          `json:"total"`
	Amount        Money          `json:"amount,omitempty"`
	Reason        string         `json:"reason,omitempty"`
	Version       int64          `json:"version"`
}

// Changed builds the event payload for o. amount and reason are set by the
// payment and cancellation events.
func (o *Order) Changed(amount Money, reason string) OrderChanged {
	return OrderChanged{
		OrderID:       o.ID,
		CustomerID:    o.CustomerID,
		LocationID:    o.LocationID,
		Status:        o.Status,
		PaymentStatus: o.Payment.Status,
		RefundKind:    o.Payment.RefundKind(),
		Currency:      o.Currency,
		Total:         o.Total,
		Amount:        amount,
		Reason:        reason,
		Version:       o.Version,
	}
}
