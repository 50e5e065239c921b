// Package contact normalizes the contact fields returned by enrichment.
package contact

import (
	"regexp"
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// NotAvailable is printed for missing contact values.
const NotAvailable = "N/A"

// DefaultRegion is used to parse phone numbers without a country prefix.
const DefaultRegion = "US"

var emailPattern = regexp.MustCompile(`^[a-z0-9._%+\-']+@[a-z0-9.-]+\.[a-z]{2,}$`)

// Normalizer normalizes phone numbers and emails for one default region.
type Normalizer struct {
	Region string
}

// NewNormalizer builds a normalizer, falling back to DefaultRegion.
func NewNormalizer(region string) Normalizer {
	region = strings.ToUpper(strings.TrimSpace(region))
	if region == "" {
		region = DefaultRegion
	}
	return Normalizer{Region: region}
}

// Phone normalizes raw. Nil and blank values return nil.
func (n Normalizer) Phone(raw *string) *string {
	if raw == nil || strings.TrimSpace(*raw) == "" {
		return nil
	}
	v := NormalizePhone(*raw, n.Region)
	return &v
}

// Email normalizes raw. Nil and blank values return nil.
func (n Normalizer) Email(raw *string) *string {
	if raw == nil || strings.TrimSpace(*raw) == "" {
		return nil
	}
	v := NormalizeEmail(*raw)
	return &v
}

// NormalizePhone formats raw as E.164 when it parses as a valid number for
// region. Anything else is returned trimmed, unchanged.
func NormalizePhone(raw, region string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	number, err := phonenumbers.Parse(raw, region)
	if err != nil {
		return raw
	}
	if !phonenumbers.IsPossibleNumber(number) || !phonenumbers.IsValidNumber(number) {
		return raw
	}
	return phonenumbers.Format(number, phonenumbers.E164)
}

// NormalizeEmail lowercases a well-formed address. Malformed input is
// returned trimmed so it is still shown to the user.
func NormalizeEmail(raw string) string {
	raw = strings.TrimSpace(raw)
	lower := strings.ToLower(raw)
	if !emailPattern.MatchString(lower) {
		return raw
	}
	return lower
}

// ValidEmail reports whether raw looks like an email address.
func ValidEmail(raw string) bool {
	return emailPattern.MatchString(strings.ToLower(strings.TrimSpace(raw)))
}

// Display renders an optional value, NotAvailable when absent or blank.
func Display(value *string) string {
	if value == nil || strings.TrimSpace(*value) == "" {
		return NotAvailable
	}
	return *value
}
