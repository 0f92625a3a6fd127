package eventbus

import (
	"strings"

	dErrors "olympus/pkg/domain-errors"
)

// Pattern selects event types. Segments are dot separated; "*" matches exactly
// one segment and "**" matches the remainder, including nothing.
type Pattern struct {
	raw      string
	segments []string
}

// ParsePattern validates a subscription pattern. "**" may only appear last.
func ParsePattern(raw string) (Pattern, error) {
	if raw == "" {
		return Pattern{}, dErrors.New(dErrors.CodeValidation, "pattern is required")
	}
	segs := strings.Split(raw, ".")
	for i, seg := range segs {
		if seg == "" {
			return Pattern{}, dErrors.New(dErrors.CodeValidation, "pattern has an empty segment")
		}
		if seg == "**" && i != len(segs)-1 {
			return Pattern{}, dErrors.New(dErrors.CodeValidation, "'**' must be the last pattern segment")
		}
		if seg != "*" && seg != "**" && strings.ContainsAny(seg, "*") {
			return Pattern{}, dErrors.New(dErrors.CodeValidation, "wildcards must span a whole segment")
		}
	}
	return Pattern{raw: raw, segments: segs}, nil
}

// MustPattern is ParsePattern for literals known to be valid.
func MustPattern(raw string) Pattern {
	p, err := ParsePattern(raw)
	if err != nil {
		panic(err)
	}
	return p
}

func (p Pattern) String() string { return p.raw }

func (p Pattern) Matches(eventType string) bool {
	typ := strings.Split(eventType, ".")
	for i, seg := range p.segments {
		if seg == "**" {
			return true
		}
		if i >= len(typ) {
			return false
		}
		if seg != "*" && seg != typ[i] {
			return false
		}
	}
	return len(typ) == len(p.segments)
}
