// Package domainerrors defines the coded errors services return to callers.
//
// Stores return sentinel facts (pkg/platform/sentinel); services translate
// them into one of these codes so transports and callers can react to the
// specific failure instead of a generic one.
package domainerrors

import (
	"errors"
)

type Code string

// Generic codes.
const (
	CodeBadRequest         Code = "bad_request"
	CodeInvalidInput       Code = "invalid_input"
	CodeValidation         Code = "validation_error"
	CodeInvariantViolation Code = "invariant_violation"
	CodeNotFound           Code = "not_found"
	CodeConflict           Code = "conflict"
	CodeUnauthorized       Code = "unauthorized"
	CodeForbidden          Code = "forbidden"
	CodeUnavailable        Code = "unavailable"
	CodeInternal           Code = "internal_error"
)

// Identity, isolation and delivery codes.
const (
	CodeInvalidCredentials  Code = "invalid_credentials"
	CodeAccountLocked       Code = "account_locked"
	CodeTenantNotFound      Code = "tenant_not_found"
	CodeTenantSuspended     Code = "tenant_suspended"
	CodeTokenExpired        Code = "token_expired"
	CodeTokenInvalid        Code = "token_invalid"
	CodeSessionRevoked      Code = "session_revoked"
	CodeConcurrentRefresh   Code = "concurrent_refresh"
	CodeTenantMismatch      Code = "tenant_mismatch"
	CodeDuplicateIdentity   Code = "duplicate_identity"
	CodeInsufficientRole    Code = "insufficient_role"
	CodeResourceOutOfScope  Code = "resource_out_of_scope"
	CodeVersionConflict     Code = "version_conflict"
	CodeEventDeliveryFailed Code = "event_delivery_failed"
	CodeRateLimited         Code = "rate_limited"
)

// Error is a domain error carrying a stable code and a message that is safe
// to show to clients. The wrapped cause is for logs only.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

func Wrap(err error, code Code, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, Err: err}
}

// CodeOf returns the code of the outermost domain error in the chain, or
// CodeInternal when the chain carries none.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// HasCode reports whether the outermost domain error in err's chain has code.
func HasCode(err error, code Code) bool {
	if err == nil {
		return false
	}
	var de *Error
	if !errors.As(err, &de) {
		return false
	}
	return de.Code == code
}

// Is is shorthand for HasCode.
func Is(err error, code Code) bool {
	return HasCode(err, code)
}

// Retryable reports whether a caller may retry the operation that produced
// err. Integrity violations are caller errors and never retryable.
func Retryable(err error) bool {
	var de *Error
	if !errors.As(err, &de) {
		return false
	}
	switch de.Code {
	case CodeVersionConflict, CodeConcurrentRefresh, CodeUnavailable, CodeRateLimited:
		return true
	default:
		return false
	}
}

// SafeMessage returns the client-facing message. Internal errors never expose
// their cause.
func SafeMessage(err error) string {
	var de *Error
	if !errors.As(err, &de) || de.Code == CodeInternal {
		return ""
	}
	return de.Message
}
