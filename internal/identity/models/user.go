package models

import (
	"net/mail"
	"strings"
	"time"

	"olympus/internal/policy"
	id "olympus/pkg/domain"
	dErrors "olympus/pkg/domain-errors"
)

// User is an identity inside one tenant.
//
// Invariants:
//   - Email is unique within the tenant, compared case-insensitively
//   - PasswordHash is an encoded argon2id hash, never a plaintext password
//   - Roles is non-empty and drawn from the closed policy role set
//   - Soft-deleted users are never returned by the stores
type User struct {
	ID               id.UserID
	TenantID         id.TenantID
	Email            string
	PasswordHash     string
	Roles            []policy.Role
	Permissions      []string
	FailedLoginCount int
	LastFailedAt     *time.Time
	LockedUntil      *time.Time
	Version          int64
	CreatedAt        time.Time
	UpdatedAt        time.Time
	DeletedAt        *time.Time
}

// NormalizeEmail trims and lower-cases an address for lookup and storage.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func ValidateEmail(email string) error {
	if email == "" || len(email) > 254 {
		return dErrors.New(dErrors.CodeValidation, "email is required and must be at most 254 characters")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return dErrors.New(dErrors.CodeValidation, "email address is malformed")
	}
	return nil
}

func NewUser(userID id.UserID, tenantID id.TenantID, email, passwordHash string, roles []policy.Role, now time.Time) (*User, error) {
	if tenantID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "user must belong to a tenant")
	}
	email = NormalizeEmail(email)
	if err := ValidateEmail(email); err != nil {
		return nil, err
	}
	if passwordHash == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "password hash is required")
	}
	if len(roles) == 0 {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "user needs at least one role")
	}
	for _, r := range roles {
		if !r.IsValid() {
			return nil, dErrors.New(dErrors.CodeInvariantViolation, "user role is not recognised")
		}
	}
	return &User{
		ID:           userID,
		TenantID:     tenantID,
		Email:        email,
		PasswordHash: passwordHash,
		Roles:        roles,
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

func (u *User) IsDeleted() bool {
	return u.DeletedAt != nil
}

// IsLockedAt reports whether a hard lock is still in force at now.
func (u *User) IsLockedAt(now time.Time) bool {
	return u.LockedUntil != nil && now.Before(*u.LockedUntil)
}

func (u *User) RoleNames() []string {
	return policy.RoleNames(u.Roles)
}

func (u *User) HighestRole() policy.Role {
	return policy.Highest(u.Roles)
}

// ApplyFailure counts one failed login.
func (u *User) ApplyFailure(now time.Time) {
	u.FailedLoginCount++
	u.LastFailedAt = &now
	u.touch(now)
}

func (u *User) ShouldHardLock(threshold int) bool {
	return threshold > 0 && u.FailedLoginCount >= threshold
}

// ApplyHardLock locks the account until now+d and starts a fresh count.
func (u *User) ApplyHardLock(d time.Duration, now time.Time) {
	until := now.Add(d)
	u.LockedUntil = &until
	u.FailedLoginCount = 0
	u.touch(now)
}

// HasFailureState reports whether ClearFailures would change anything.
func (u *User) HasFailureState() bool {
	return u.FailedLoginCount > 0 || u.LockedUntil != nil
}

func (u *User) ClearFailures(now time.Time) {
	u.FailedLoginCount = 0
	u.LastFailedAt = nil
	u.LockedUntil = nil
	u.touch(now)
}

func (u *User) ApplyPassword(hash string, now time.Time) {
	u.PasswordHash = hash
	u.touch(now)
}

func (u *User) CanDelete() error {
	if u.IsDeleted() {
		return dErrors.New(dErrors.CodeInvariantViolation, "user is already deleted")
	}
	return nil
}

func (u *User) ApplyDeletion(now time.Time) {
	u.DeletedAt = &now
	u.touch(now)
}

func (u *User) touch(now time.Time) {
	u.UpdatedAt = now
	u.Version++
}
