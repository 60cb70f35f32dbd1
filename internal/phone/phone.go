package phone

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/width"

	"github.com/congo-pay/rewards_auth/internal/apperr"
)

const (
	// DefaultCountryCode is the Saudi prefix used when none is configured.
	DefaultCountryCode = "966"
	// subscriberDigits is the fixed national number length.
	subscriberDigits = 9
	// domesticLead is the first digit of a local mobile number.
	domesticLead = '5'
)

// ErrInvalidFormat is returned for anything that cannot become <country><9 digits>.
var ErrInvalidFormat = apperr.Validation("phone", "invalid_format", "enter a valid mobile number")

// Number is a normalized phone number: country code followed by nine digits.
type Number string

func (n Number) String() string { return string(n) }

// Masked hides all but the last four digits for logs.
func (n Number) Masked() string {
	s := string(n)
	if len(s) <= 4 {
		return s
	}
	return strings.Repeat("*", len(s)-4) + s[len(s)-4:]
}

// Validator normalizes numbers for one country code.
type Validator struct {
	country string
	full    *regexp.Regexp
}

// NewValidator builds a validator; an empty country uses DefaultCountryCode.
func NewValidator(country string) *Validator {
	if country == "" {
		country = DefaultCountryCode
	}
	return &Validator{
		country: country,
		full:    regexp.MustCompile(`^` + regexp.QuoteMeta(country) + `[0-9]{9}$`),
	}
}

var defaultValidator = NewValidator(DefaultCountryCode)

// Normalize uses the default country code.
func Normalize(input string) (Number, error) {
	return defaultValidator.Normalize(input)
}

// CountryCode returns the prefix this validator enforces.
func (v *Validator) CountryCode() string { return v.country }

// Normalize accepts a fully qualified number (optionally written with "+" or
// "00") or a local number starting with the domestic lead digit, with or
// without a trunk zero. Separators and full-width or Arabic-Indic digits are
// folded first. The result always matches ^<country>[0-9]{9}$, which makes
// Normalize idempotent.
func (v *Validator) Normalize(input string) (Number, error) {
	digits, ok := foldDigits(input)
	if !ok || digits == "" {
		return "", ErrInvalidFormat
	}

	switch {
	case v.full.MatchString(digits):
		return Number(digits), nil
	case strings.HasPrefix(digits, "00") && v.full.MatchString(digits[2:]):
		return Number(digits[2:]), nil
	case len(digits) == subscriberDigits && digits[0] == domesticLead:
		return Number(v.country + digits), nil
	case len(digits) == subscriberDigits+1 && digits[0] == '0' && digits[1] == domesticLead:
		return Number(v.country + digits[1:]), nil
	}
	return "", ErrInvalidFormat
}

// Valid reports whether input normalizes.
func (v *Validator) Valid(input string) bool {
	_, err := v.Normalize(input)
	return err == nil
}

// foldDigits strips separators and a leading '+' and maps any Unicode decimal
// digit onto ASCII. Any other rune rejects the input.
func foldDigits(input string) (string, bool) {
	s := width.Fold.String(strings.TrimSpace(input))
	var b strings.Builder
	b.Grow(len(s))
	for i, r := range s {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case unicode.IsDigit(r):
			d, ok := decimalValue(r)
			if !ok {
				return "", false
			}
			b.WriteByte(byte('0' + d))
		case r == '+' && i == 0:
		case r == ' ' || r == '-' || r == '(' || r == ')' || r == '.':
		default:
			return "", false
		}
	}
	return b.String(), true
}

// decimalValue finds the value of a Unicode Nd digit. Every Nd range starts at
// a zero and spans whole runs of ten.
func decimalValue(r rune) (int, bool) {
	c := uint32(r)
	for _, rg := range unicode.Nd.R16 {
		if c >= uint32(rg.Lo) && c <= uint32(rg.Hi) {
			return int((c - uint32(rg.Lo)) % 10), true
		}
	}
	for _, rg := range unicode.Nd.R32 {
		if c >= rg.Lo && c <= rg.Hi {
			return int((c - rg.Lo) % 10), true
		}
	}
	return 0, false
}
