package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"

	id "olympus/pkg/domain"
	dErrors "olympus/pkg/domain-errors"
)

// Feature keys a tenant can configure.
const (
	FeatureLocations = "locations"
	FeatureOrdering  = "ordering"
	FeatureSecurity  = "security"
)

// Settings holds per-feature configuration as raw JSON. Values are opaque
// until Decode validates them against the feature's schema.
type Settings map[string]json.RawMessage

// LocationsSettings lists the locations orders may be placed at.
type LocationsSettings struct {
	Locations []id.LocationID `json:"locations"`
}

func (s LocationsSettings) Validate() error {
	seen := make(map[id.LocationID]bool, len(s.Locations))
	for _, loc := range s.Locations {
		if loc.IsNil() {
			return fmt.Errorf("location id cannot be nil")
		}
		if seen[loc] {
			return fmt.Errorf("duplicate location %s", loc)
		}
		seen[loc] = true
	}
	return nil
}

func (s LocationsSettings) Has(loc id.LocationID) bool {
	for _, l := range s.Locations {
		if l == loc {
			return true
		}
	}
	return false
}

var currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)

// OrderingSettings configures order totals. Tax is in basis points of the
// subtotal (825 = 8.25%).
type OrderingSettings struct {
	Currency           string `json:"currency"`
	TaxRateBasisPoints int64  `json:"tax_rate_bps"`
}

func (s OrderingSettings) Validate() error {
	if !currencyPattern.MatchString(s.Currency) {
		return fmt.Errorf("currency must be a three-letter ISO code")
	}
	if s.TaxRateBasisPoints < 0 || s.TaxRateBasisPoints > 10000 {
		return fmt.Errorf("tax rate must be between 0 and 10000 basis points")
	}
	return nil
}

// SecuritySettings tunes identity behaviour for the tenant.
type SecuritySettings struct {
	MaxSessions     int  `json:"max_sessions"`
	RevocationCheck bool `json:"revocation_check"`
}

func (s SecuritySettings) Validate() error {
	if s.MaxSessions < 0 || s.MaxSessions > 1000 {
		return fmt.Errorf("max_sessions must be between 0 and 1000")
	}
	return nil
}

type validator interface {
	Validate() error
}

// schemas maps each feature to a constructor for its typed value.
var schemas = map[string]func() validator{
	FeatureLocations: func() validator { return &LocationsSettings{} },
	FeatureOrdering:  func() validator { return &OrderingSettings{} },
	FeatureSecurity:  func() validator { return &SecuritySettings{} },
}

// Features lists the registered feature keys.
func Features() []string {
	out := make([]string, 0, len(schemas))
	for k := range schemas {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Decode validates the feature value and decodes it into v, which must be a
// pointer to the feature's settings type. A missing feature returns
// CodeNotFound so callers can fall back to defaults.
func (s Settings) Decode(feature string, v any) error {
	raw, ok := s[feature]
	if !ok {
		return dErrors.New(dErrors.CodeNotFound, fmt.Sprintf("settings feature %q is not configured", feature))
	}
	if _, err := decodeFeature(feature, raw); err != nil {
		return err
	}
	if err := strictUnmarshal(raw, v); err != nil {
		return dErrors.Wrap(err, dErrors.CodeValidation, fmt.Sprintf("settings feature %q does not match the requested type", feature))
	}
	return nil
}

// Validate checks every feature against its schema and rejects unknown keys.
func (s Settings) Validate() error {
	for feature, raw := range s {
		if _, err := decodeFeature(feature, raw); err != nil {
			return err
		}
	}
	return nil
}

// Merge returns a copy of s with the features in patch replaced. A JSON null
// removes the feature.
func (s Settings) Merge(patch Settings) Settings {
	out := make(Settings, len(s)+len(patch))
	for k, v := range s {
		out[k] = v
	}
	for k, v := range patch {
		if bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
			delete(out, k)
			continue
		}
		out[k] = v
	}
	return out
}

func decodeFeature(feature string, raw json.RawMessage) (validator, error) {
	newValue, ok := schemas[feature]
	if !ok {
		return nil, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("unknown settings feature %q", feature))
	}
	v := newValue()
	if err := strictUnmarshal(raw, v); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeValidation, fmt.Sprintf("settings feature %q is malformed", feature))
	}
	if err := v.Validate(); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeValidation, fmt.Sprintf("settings feature %q is invalid: %s", feature, err))
	}
	return v, nil
}

func strictUnmarshal(raw json.RawMessage, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
