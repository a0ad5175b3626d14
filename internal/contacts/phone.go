package contacts

import "strings"

// InvalidPhone is stored in place of a normalized phone that could not be parsed.
const InvalidPhone = "Invalid phone number"

const countryCode = "91"

// NormalizePhone turns a free-form phone string into the canonical dialable
// form (country code + subscriber number, digits only).
//
// It never fails: unparseable input yields InvalidPhone. Applying it to its own
// output returns the same value.
func NormalizePhone(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()

	switch {
	case strings.HasPrefix(digits, countryCode) && (len(digits) == 12 || len(digits) == 11):
		return digits
	case strings.HasPrefix(digits, "0") && (len(digits) == 10 || len(digits) == 11):
		return countryCode + digits[1:]
	case len(digits) == 10:
		return countryCode + digits
	default:
		return InvalidPhone
	}
}
