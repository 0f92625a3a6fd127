package domain

import "time"

// Claims is the verified content of an access token. Roles stay as their wire
// strings here; the policy engine parses them into its closed role set.
type Claims struct {
	Subject   UserID
	TenantID  TenantID
	Roles     []string
	SessionID SessionID
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// HasRole reports whether role is among the claim roles.
func (c *Claims) HasRole(role string) bool {
	if c == nil {
		return false
	}
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}
