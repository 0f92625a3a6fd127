package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores return these (optionally
// wrapped) and services translate them into coded domain errors.
//
//   - ErrNotFound: entity does not exist in the store (or is soft-deleted)
//   - ErrConflict: optimistic version check failed
//   - ErrAlreadyUsed: a unique key is already taken
//   - ErrExpired: token/session has expired
//   - ErrInvalidState: entity in wrong state for the requested operation
//   - ErrUnavailable: backend temporarily unavailable
//   - ErrTenantMismatch: the row exists but belongs to another tenant
var (
	ErrNotFound       = errors.New("not found")
	ErrConflict       = errors.New("conflict")
	ErrAlreadyUsed    = errors.New("already used")
	ErrExpired        = errors.New("expired")
	ErrInvalidState   = errors.New("invalid state")
	ErrUnavailable    = errors.New("unavailable")
	ErrTenantMismatch = errors.New("tenant mismatch")
)
