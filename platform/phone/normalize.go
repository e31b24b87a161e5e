// Package phone provides phone number utilities.
// This is part of the platform layer and contains no business logic.
package phone

import (
	"strings"

	"github.com/nyaruka/phonenumbers"
)

const defaultRegion = "US"

// NormalizeE164 formats a phone number to E.164. If parsing fails, it returns the trimmed input.
func NormalizeE164(input string) string {
	return NormalizeE164InRegion(input, defaultRegion)
}

// NormalizeE164InRegion is NormalizeE164 with an explicit default region for national numbers.
func NormalizeE164InRegion(input, region string) string {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return trimmed
	}
	// Twilio prefixes channel addresses, e.g. "whatsapp:+1..." or "client:agent".
	if idx := strings.Index(trimmed, ":"); idx > 0 && !strings.HasPrefix(trimmed, "+") {
		trimmed = strings.TrimSpace(trimmed[idx+1:])
	}
	if region == "" {
		region = defaultRegion
	}

	number, err := phonenumbers.Parse(trimmed, strings.ToUpper(region))
	if err != nil {
		return trimmed
	}

	if !phonenumbers.IsValidNumber(number) {
		return trimmed
	}

	return phonenumbers.Format(number, phonenumbers.E164)
}

// SameNumber compares two numbers after normalization.
func SameNumber(a, b string) bool {
	na, nb := NormalizeE164(a), NormalizeE164(b)
	return na != "" && na == nb
}
