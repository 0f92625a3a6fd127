// Package eventbus carries tenant-scoped domain events between modules with
// at-least-once delivery, consumer-side deduplication, bounded retry and
// dead-lettering.
//
// A Bus is an explicit handle: construct it with New, register subscriptions,
// call Start, and drain it with Shutdown. There is no package-level state.
package eventbus

import (
	"encoding/json"
	"strings"
	"time"

	id "olympus/pkg/domain"
	dErrors "olympus/pkg/domain-errors"
)

// Envelope is the wire shape of an event. Field names and order are stable.
type Envelope struct {
	ID        id.EventID      `json:"id"`
	TenantID  id.TenantID     `json:"tenant_id"`
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

type Status string

const (
	StatusPending      Status = "pending"
	StatusDelivered    Status = "delivered"
	StatusDeadLettered Status = "dead_lettered"
)

// Event is an envelope plus the bookkeeping the bus keeps about it.
// AggregateKey names the entity whose events must stay ordered; when empty the
// event id is used, so unrelated events never block each other.
type Event struct {
	Envelope
	AggregateKey string
	Attempts     int
	Status       Status
}

// OrderingKey groups events that a subscriber must see in publish order.
func (e Event) OrderingKey() string {
	agg := e.AggregateKey
	if agg == "" {
		agg = e.ID.String()
	}
	return e.TenantID.String() + "/" + agg
}

type EventOption func(*Event)

// WithAggregate sets the aggregate whose events are ordered together.
func WithAggregate(key string) EventOption {
	return func(e *Event) { e.AggregateKey = key }
}

// WithEventID fixes the event id, for callers replaying a stored event.
func WithEventID(eventID id.EventID) EventOption {
	return func(e *Event) { e.ID = eventID }
}

// WithCreatedAt overrides the creation time.
func WithCreatedAt(t time.Time) EventOption {
	return func(e *Event) { e.CreatedAt = t }
}

// NewEvent builds a pending event. payload may be a json.RawMessage, a []byte
// holding JSON, or any value encoding/json can marshal.
func NewEvent(tenantID id.TenantID, eventType string, payload any, opts ...EventOption) (Event, error) {
	raw, err := encodePayload(payload)
	if err != nil {
		return Event{}, err
	}
	e := Event{
		Envelope: Envelope{
			ID:        id.NewEventID(),
			TenantID:  tenantID,
			EventType: eventType,
			Payload:   raw,
			CreatedAt: time.Now().UTC(),
		},
		Status: StatusPending,
	}
	for _, opt := range opts {
		opt(&e)
	}
	if err := e.Validate(); err != nil {
		return Event{}, err
	}
	return e, nil
}

// Validate checks the envelope invariants shared by publish and consume.
func (e Event) Validate() error {
	if e.ID.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "event id is required")
	}
	if e.TenantID.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "event tenant_id is required")
	}
	if err := ValidateEventType(e.EventType); err != nil {
		return err
	}
	if len(e.Payload) == 0 || !json.Valid(e.Payload) {
		return dErrors.New(dErrors.CodeValidation, "event payload must be valid JSON")
	}
	return nil
}

// ValidateEventType accepts dot-separated, non-empty lower-case segments such
// as "commerce.order.confirmed".
func ValidateEventType(eventType string) error {
	if eventType == "" {
		return dErrors.New(dErrors.CodeValidation, "event type is required")
	}
	for _, seg := range strings.Split(eventType, ".") {
		if seg == "" || seg == "*" || seg == "**" {
			return dErrors.New(dErrors.CodeValidation, "event type has an empty or wildcard segment")
		}
		for _, r := range seg {
			if !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '_' || r == '-') {
				return dErrors.New(dErrors.CodeValidation, "event type contains invalid characters")
			}
		}
	}
	return nil
}

// Marshal encodes the envelope for a transport.
func (e Event) Marshal() ([]byte, error) {
	return json.Marshal(e.Envelope)
}

// Decode parses a transport payload back into a pending event. key is the
// ordering key the event was sent with.
func Decode(data []byte, key string) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Event{}, dErrors.Wrap(err, dErrors.CodeValidation, "malformed event envelope")
	}
	agg := strings.TrimPrefix(key, env.TenantID.String()+"/")
	if agg == env.ID.String() {
		agg = ""
	}
	e := Event{Envelope: env, AggregateKey: agg, Status: StatusPending}
	if err := e.Validate(); err != nil {
		return Event{}, err
	}
	return e, nil
}

func encodePayload(payload any) (json.RawMessage, error) {
	switch p := payload.(type) {
	case nil:
		return json.RawMessage(`{}`), nil
	case json.RawMessage:
		return p, nil
	case []byte:
		return json.RawMessage(p), nil
	default:
		raw, err := json.Marshal(p)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeValidation, "event payload is not serializable")
		}
		return raw, nil
	}
}
