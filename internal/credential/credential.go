package credential

import (
	"unicode/utf8"

	"github.com/congo-pay/rewards_auth/internal/apperr"
)

// MinPasswordLength is the shortest accepted plaintext password.
const MinPasswordLength = 6

var (
	// ErrTooShort rejects passwords under MinPasswordLength characters.
	ErrTooShort = apperr.Validation("password", "too_short", "password must be at least 6 characters")
	// ErrMismatch rejects a confirmation that differs from the password.
	ErrMismatch = apperr.Validation("confirm_password", "mismatch", "passwords do not match")
)

// ValidatePassword checks the length rule. Length counts characters, not bytes.
func ValidatePassword(pw string) error {
	if utf8.RuneCountInString(pw) < MinPasswordLength {
		return ErrTooShort
	}
	return nil
}

// ValidateConfirmation checks that confirm equals pw exactly.
func ValidateConfirmation(pw, confirm string) error {
	if pw != confirm {
		return ErrMismatch
	}
	return nil
}

// ValidateNew runs both checks in the order a form surfaces them.
func ValidateNew(pw, confirm string) error {
	if err := ValidatePassword(pw); err != nil {
		return err
	}
	return ValidateConfirmation(pw, confirm)
}
