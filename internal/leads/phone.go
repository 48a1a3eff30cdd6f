package leads

import (
	"strings"
	"unicode"

	"github.com/nyaruka/phonenumbers"
)

// DefaultPhoneRegion is used when an extracted number has no country code.
const DefaultPhoneRegion = "IN"

// NormalizePhone formats a phone number to E.164. Numbers libphonenumber
// cannot validate are kept trimmed if they carry at least seven digits;
// anything shorter is rejected.
func NormalizePhone(input, region string) (string, bool) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return "", false
	}
	if region == "" {
		region = DefaultPhoneRegion
	}

	number, err := phonenumbers.Parse(trimmed, region)
	if err == nil && phonenumbers.IsValidNumber(number) {
		return phonenumbers.Format(number, phonenumbers.E164), true
	}

	digits := 0
	for _, r := range trimmed {
		if unicode.IsDigit(r) {
			digits++
		}
	}
	if digits < 7 {
		return "", false
	}
	return trimmed, true
}
