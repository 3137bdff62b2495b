package vault

import (
	"unicode"
	"unicode/utf8"

	"github.com/forest6511/securefolder/pkg/crypto"
)

// SetInitialPassword validates a first-run password and returns its digest.
func SetInitialPassword(password, confirm string) (string, error) {
	if password == "" {
		return "", &SetupError{Err: ErrPasswordEmpty}
	}
	if password != confirm {
		return "", &SetupError{Err: ErrPasswordMismatch}
	}
	return crypto.HashPassword(password), nil
}

// ChangePassword checks current against storedDigest and returns the digest
// of next. The caller persists it.
func ChangePassword(current, next, confirm, storedDigest string) (string, error) {
	if !crypto.VerifyPassword(current, storedDigest) {
		return "", &AuthError{Err: ErrWrongCurrentPassword}
	}
	return SetInitialPassword(next, confirm)
}

// Advisory password guidance. None of it blocks setup.
const (
	RecommendedPasswordLength = 12
	StrongPasswordLength      = 16
)

// PasswordStrength represents the strength level of a password
type PasswordStrength int

const (
	PasswordWeak PasswordStrength = iota
	PasswordFair
	PasswordGood
	PasswordStrong
)

// String returns a human-readable representation of password strength
func (s PasswordStrength) String() string {
	switch s {
	case PasswordWeak:
		return "weak"
	case PasswordFair:
		return "fair"
	case PasswordGood:
		return "good"
	case PasswordStrong:
		return "strong"
	default:
		return "unknown"
	}
}

// PasswordAssessment is an advisory strength estimate.
type PasswordAssessment struct {
	Strength PasswordStrength
	Warnings []string
}

// AssessPassword estimates password strength from length and character
// classes.
func AssessPassword(password string) *PasswordAssessment {
	length := utf8.RuneCountInString(password)

	var upper, lower, digit, other bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		default:
			other = true
		}
	}
	classes := 0
	for _, has := range []bool{upper, lower, digit, other} {
		if has {
			classes++
		}
	}

	a := &PasswordAssessment{}
	if classes < 2 {
		a.Warnings = append(a.Warnings, "Consider mixing uppercase, lowercase, numbers and symbols")
	}
	if length < RecommendedPasswordLength {
		a.Warnings = append(a.Warnings, "Longer passwords (12+ characters) are harder to guess")
	}

	switch {
	case classes >= 3 && length >= StrongPasswordLength:
		a.Strength = PasswordStrong
	case classes >= 2 && length >= RecommendedPasswordLength:
		a.Strength = PasswordGood
	case length >= 8 && (classes >= 2 || length >= RecommendedPasswordLength):
		a.Strength = PasswordFair
	default:
		a.Strength = PasswordWeak
	}
	return a
}
