// Package domain holds the typed identifiers shared across modules.
//
// Each ID is a distinct named type over uuid.UUID so the compiler rejects
// passing a UserID where a TenantID is expected. Parse functions are the
// trust boundary for identifiers arriving from HTTP, tokens or the bus.
package domain

import (
	"database/sql/driver"
	"strings"

	"github.com/google/uuid"

	dErrors "olympus/pkg/domain-errors"
)

type (
	TenantID   uuid.UUID
	UserID     uuid.UUID
	SessionID  uuid.UUID
	OrderID    uuid.UUID
	EventID    uuid.UUID
	LocationID uuid.UUID
)

func (t TenantID) String() string   { return uuid.UUID(t).String() }
func (u UserID) String() string     { return uuid.UUID(u).String() }
func (s SessionID) String() string  { return uuid.UUID(s).String() }
func (o OrderID) String() string    { return uuid.UUID(o).String() }
func (e EventID) String() string    { return uuid.UUID(e).String() }
func (l LocationID) String() string { return uuid.UUID(l).String() }

func (t TenantID) IsNil() bool   { return uuid.UUID(t) == uuid.Nil }
func (u UserID) IsNil() bool     { return uuid.UUID(u) == uuid.Nil }
func (s SessionID) IsNil() bool  { return uuid.UUID(s) == uuid.Nil }
func (o OrderID) IsNil() bool    { return uuid.UUID(o) == uuid.Nil }
func (e EventID) IsNil() bool    { return uuid.UUID(e) == uuid.Nil }
func (l LocationID) IsNil() bool { return uuid.UUID(l) == uuid.Nil }

// MarshalText and UnmarshalText let typed IDs travel as plain UUID strings in
// JSON bodies and event payloads.
func (t TenantID) MarshalText() ([]byte, error) { return uuid.UUID(t).MarshalText() }
func (u UserID) MarshalText() ([]byte, error)   { return uuid.UUID(u).MarshalText() }
func (s SessionID) MarshalText() ([]byte, error) {
	return uuid.UUID(s).MarshalText()
}
func (o OrderID) MarshalText() ([]byte, error) { return uuid.UUID(o).MarshalText() }
func (e EventID) MarshalText() ([]byte, error) { return uuid.UUID(e).MarshalText() }
func (l LocationID) MarshalText() ([]byte, error) {
	return uuid.UUID(l).MarshalText()
}

func (t *TenantID) UnmarshalText(b []byte) error   { return (*uuid.UUID)(t).UnmarshalText(b) }
func (u *UserID) UnmarshalText(b []byte) error     { return (*uuid.UUID)(u).UnmarshalText(b) }
func (s *SessionID) UnmarshalText(b []byte) error  { return (*uuid.UUID)(s).UnmarshalText(b) }
func (o *OrderID) UnmarshalText(b []byte) error    { return (*uuid.UUID)(o).UnmarshalText(b) }
func (e *EventID) UnmarshalText(b []byte) error    { return (*uuid.UUID)(e).UnmarshalText(b) }
func (l *LocationID) UnmarshalText(b []byte) error { return (*uuid.UUID)(l).UnmarshalText(b) }

// Value and Scan let typed IDs bind directly as SQL arguments and scan
// destinations for both lib/pq and pgx.
func (t TenantID) Value() (driver.Value, error)   { return uuid.UUID(t).Value() }
func (u UserID) Value() (driver.Value, error)     { return uuid.UUID(u).Value() }
func (s SessionID) Value() (driver.Value, error)  { return uuid.UUID(s).Value() }
func (o OrderID) Value() (driver.Value, error)    { return uuid.UUID(o).Value() }
func (e EventID) Value() (driver.Value, error)    { return uuid.UUID(e).Value() }
func (l LocationID) Value() (driver.Value, error) { return uuid.UUID(l).Value() }

func (t *TenantID) Scan(src any) error   { return (*uuid.UUID)(t).Scan(src) }
func (u *UserID) Scan(src any) error     { return (*uuid.UUID)(u).Scan(src) }
func (s *SessionID) Scan(src any) error  { return (*uuid.UUID)(s).Scan(src) }
func (o *OrderID) Scan(src any) error    { return (*uuid.UUID)(o).Scan(src) }
func (e *EventID) Scan(src any) error    { return (*uuid.UUID)(e).Scan(src) }
func (l *LocationID) Scan(src any) error { return (*uuid.UUID)(l).Scan(src) }

func NewTenantID() TenantID     { return TenantID(uuid.New()) }
func NewUserID() UserID         { return UserID(uuid.New()) }
func NewSessionID() SessionID   { return SessionID(uuid.New()) }
func NewOrderID() OrderID       { return OrderID(uuid.New()) }
func NewEventID() EventID       { return EventID(uuid.New()) }
func NewLocationID() LocationID { return LocationID(uuid.New()) }

func ParseTenantID(s string) (TenantID, error) {
	u, err := parseUUID(s, "tenant")
	return TenantID(u), err
}

func ParseUserID(s string) (UserID, error) {
	u, err := parseUUID(s, "user")
	return UserID(u), err
}

func ParseSessionID(s string) (SessionID, error) {
	u, err := parseUUID(s, "session")
	return SessionID(u), err
}

func ParseOrderID(s string) (OrderID, error) {
	u, err := parseUUID(s, "order")
	return OrderID(u), err
}

func ParseEventID(s string) (EventID, error) {
	u, err := parseUUID(s, "event")
	return EventID(u), err
}

func ParseLocationID(s string) (LocationID, error) {
	u, err := parseUUID(s, "location")
	return LocationID(u), err
}

// parseUUID rejects empty, malformed and nil UUIDs. The nil UUID is never a
// valid identifier for a stored entity.
func parseUUID(s, kind string) (uuid.UUID, error) {
	if strings.TrimSpace(s) == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, kind+" ID required")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+kind+" ID")
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, kind+" ID cannot be nil")
	}
	return u, nil
}
