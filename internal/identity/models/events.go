package models

import (
	"time"

	id "olympus/pkg/domain"
)

const (
	EventUserRegistered = "identity.user.registered"
	EventUserLoggedIn   = "identity.user.logged_in"
	EventAccountLocked  = "identity.account.locked"
	EventSessionRevoked = "identity.session.revoked"
	EventPasswordChange = "identity.user.password_changed"
)

type UserRegistered struct {
	UserID id.UserID `json:"user_id"`
	Roles  []string  `json:"roles"`
}

type UserLoggedIn struct {
	UserID    id.UserID    `json:"user_id"`
	SessionID id.SessionID `json:"session_id"`
	Device    string       `json:"device,omitempty"`
}

type AccountLocked struct {
	UserID      id.UserID `json:"user_id"`
	LockedUntil time.Time `json:"locked_until"`
}

type SessionRevoked struct {
	SessionID id.SessionID `json:"session_id"`
	UserID    id.UserID    `json:"user_id"`
	Reason    RevokeReason `json:"reason"`
}

type PasswordChanged struct {
	UserID          id.UserID `json:"user_id"`
	RevokedSessions int       `json:"revoked_sessions"`
}
