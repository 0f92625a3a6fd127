package domain

import (
	"testing"
	"unicode/utf8"
)

// IDs arrive from URLs, JSON bodies and token claims; every parser must
// accept exactly the same inputs and round-trip what it accepts.
func FuzzParseIDs(f *testing.F) {
	for _, seed := range []string{
		"",
		"550e8400-e29b-41d4-a716-446655440000",
		"00000000-0000-0000-0000-000000000000",
		"550E8400-E29B-41D4-A716-446655440000",
		"{550e8400-e29b-41d4-a716-446655440000}",
		"urn:uuid:550e8400-e29b-41d4-a716-446655440000",
		"acme-pizza",
		"550e8400-e29b-41d4-a716-446655440000\x00",
		string([]byte{0xff, 0xfe}),
	} {
		f.Add(seed)
	}

	f.Fuzz(func(t *testing.T, input string) {
		tenant, errTenant := ParseTenantID(input)
		_, errUser := ParseUserID(input)
		_, errSession := ParseSessionID(input)
		_, errOrder := ParseOrderID(input)
		_, errEvent := ParseEventID(input)
		_, errLocation := ParseLocationID(input)

		accepted := errTenant == nil
		for name, err := range map[string]error{
			"user": errUser, "session": errSession, "order": errOrder,
			"event": errEvent, "location": errLocation,
		} {
			if (err == nil) != accepted {
				t.Fatalf("%s parser disagrees with tenant parser on %q", name, input)
			}
		}
		if !accepted {
			return
		}
		if !utf8.ValidString(input) {
			t.Fatalf("accepted invalid UTF-8 %q", input)
		}
		again, err := ParseTenantID(tenant.String())
		if err != nil || again != tenant {
			t.Fatalf("round trip of %q: %v", input, err)
		}
	})
}
