package password

import (
	"strings"
	"unicode"
	"unicode/utf8"

	dErrors "olympus/pkg/domain-errors"
)

const (
	MinLength = 8
	MaxLength = 128
)

var commonPasswords = []string{
	"password", "12345678", "qwerty", "abc123", "password123",
	"admin", "letmein", "welcome", "monkey", "dragon",
}

// ValidateStrength requires MinLength..MaxLength characters, at least three
// of the four character classes, and no well-known password inside it.
func ValidateStrength(pw string) error {
	n := utf8.RuneCountInString(pw)
	if n < MinLength {
		return dErrors.New(dErrors.CodeValidation, "password must be at least 8 characters")
	}
	if n > MaxLength {
		return dErrors.New(dErrors.CodeValidation, "password must be at most 128 characters")
	}

	var upper, lower, digit, special bool
	for _, r := range pw {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		default:
			special = true
		}
	}
	classes := 0
	for _, ok := range []bool{upper, lower, digit, special} {
		if ok {
			classes++
		}
	}
	if classes < 3 {
		return dErrors.New(dErrors.CodeValidation,
			"password must mix at least three of upper-case, lower-case, digits and symbols")
	}

	folded := strings.ToLower(pw)
	for _, common := range commonPasswords {
		if strings.Contains(folded, common) {
			return dErrors.New(dErrors.CodeValidation, "password is too common")
		}
	}
	return nil
}
