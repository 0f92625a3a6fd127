package eventbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPatternMatches(t *testing.T) {
	tests := []struct {
		pattern string
		typ     string
		want    bool
	}{
		{"commerce.order.confirmed", "commerce.order.confirmed", true},
		{"commerce.order.confirmed", "commerce.order.cancelled", false},
		{"commerce.order.*", "commerce.order.confirmed", true},
		{"commerce.order.*", "commerce.order", false},
		{"commerce.order.*", "commerce.order.payment.captured", false},
		{"commerce.*.confirmed", "commerce.order.confirmed", true},
		{"commerce.**", "commerce.order.payment.captured", true},
		{"commerce.**", "commerce", true},
		{"commerce.**", "identity.user.registered", false},
		{"**", "platform.tenant.created", true},
		{"*", "platform", true},
		{"*", "platform.tenant", false},
	}
	for _, tt := range tests {
		t.Run(tt.pattern+" vs "+tt.typ, func(t *testing.T) {
			p, err := ParsePattern(tt.pattern)
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.Matches(tt.typ))
		})
	}
}

func TestParsePatternRejectsMalformed(t *testing.T) {
	for _, raw := range []string{"", "commerce..order", "**.order", "commerce.ord*", "a.**.b"} {
		t.Run(raw, func(t *testing.T) {
			_, err := ParsePattern(raw)
			assert.Error(t, err)
		})
	}
}
