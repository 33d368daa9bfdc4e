package reconcile

import (
	"crypto/rand"
	"encoding/base64"
	"unicode"

	apperrors "nutri-auth/pkg/errors"
)

// PasswordPolicy accepts a password that meets at least MinCriteria of: the
// minimum length, an upper-case letter, a lower-case letter, a digit, a symbol.
type PasswordPolicy struct {
	MinLength   int
	MinCriteria int
}

// DefaultPasswordPolicy is the registration rule
var DefaultPasswordPolicy = PasswordPolicy{MinLength: 8, MinCriteria: 4}

// Validate returns the names of the criteria s misses and whether it passes
func (p PasswordPolicy) Validate(s string) (ok bool, missing []string) {
	var hasU, hasL, hasD, hasS bool
	for _, r := range s {
		switch {
		case unicode.IsUpper(r):
			hasU = true
		case unicode.IsLower(r):
			hasL = true
		case unicode.IsDigit(r):
			hasD = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			hasS = true
		}
	}

	met := 0
	check := func(cond bool, name string) {
		if cond {
			met++
		} else {
			missing = append(missing, name)
		}
	}
	check(len([]rune(s)) >= p.MinLength, "too_short")
	check(hasU, "missing_upper")
	check(hasL, "missing_lower")
	check(hasD, "missing_digit")
	check(hasS, "missing_symbol")

	return met >= p.MinCriteria, missing
}

// CheckPasswordStrength applies DefaultPasswordPolicy
func CheckPasswordStrength(password string) error {
	ok, missing := DefaultPasswordPolicy.Validate(password)
	if ok {
		return nil
	}
	return apperrors.NewWeakPasswordError(
		"Password must have at least 4 of: 8 or more characters, an uppercase letter, "+
			"a lowercase letter, a number, a special character.", nil,
	).WithDetail("missing", missing)
}

// randomPassword generates the throwaway password of an identity created on
// behalf of a commerce customer. The fixed suffix satisfies provider rules.
func randomPassword() (string, error) {
	buf := make([]byte, 18)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf) + "aA1!", nil
}
