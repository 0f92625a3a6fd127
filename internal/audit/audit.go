// Package audit keeps a categorized trail of domain events delivered by the
// event bus. Categories drive retention and which entries operators see first.
package audit

import (
	"strings"
	"time"

	id "olympus/pkg/domain"
)

// Category classifies an entry by its primary purpose.
type Category string

const (
	// CategoryCompliance covers tenant lifecycle and money movement.
	CategoryCompliance Category = "compliance"
	// CategorySecurity covers lockouts, revocations and credential changes.
	CategorySecurity Category = "security"
	// CategoryOperations is everything else.
	CategoryOperations Category = "operations"
)

// Entry is one audited event.
type Entry struct {
	EventID    id.EventID  `json:"event_id"`
	TenantID   id.TenantID `json:"tenant_id"`
	EventType  string      `json:"event_type"`
	Category   Category    `json:"category"`
	Aggregate  string      `json:"aggregate_key,omitempty"`
	OccurredAt time.Time   `json:"occurred_at"`
	RecordedAt time.Time   `json:"recorded_at"`
}

// Filter narrows List. Zero values match everything.
type Filter struct {
	TenantID id.TenantID
	Category Category
	Limit    int
}

func (f Filter) matches(e Entry) bool {
	if !f.TenantID.IsNil() && e.TenantID != f.TenantID {
		return false
	}
	return f.Category == "" || e.Category == f.Category
}

var rules = []struct {
	prefix   string
	category Category
}{
	{"identity.account.", CategorySecurity},
	{"identity.session.", CategorySecurity},
	{"identity.user.password_changed", CategorySecurity},
	{"platform.tenant.", CategoryCompliance},
	{"commerce.payment.", CategoryCompliance},
}

// Classify maps an event type to its category. The first matching prefix wins.
func Classify(eventType string) Category {
	for _, r := range rules {
		if strings.HasPrefix(eventType, r.prefix) {
			return r.category
		}
	}
	return CategoryOperations
}

// ParseCategory accepts the wire names; the empty string means any.
func ParseCategory(s string) (Category, bool) {
	switch c := Category(s); c {
	case "", CategoryCompliance, CategorySecurity, CategoryOperations:
		return c, true
	}
	return "", false
}
