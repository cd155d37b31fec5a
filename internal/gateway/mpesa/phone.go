package mpesa

import "strings"

// NormalizePhone converts a user supplied phone number to the international
// form without a plus sign, e.g. 0712345678 -> 254712345678.
func NormalizePhone(raw, countryCode string) string {
	if countryCode == "" {
		countryCode = defaultCountryCode
	}

	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}

		return -1
	}, raw)

	switch {
	case strings.HasPrefix(digits, "0"):
		return countryCode + digits[1:]
	case strings.HasPrefix(digits, countryCode):
		return digits
	case len(digits) == 9:
		return countryCode + digits
	default:
		return digits
	}
}
