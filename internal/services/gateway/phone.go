package gateway

import (
	"strings"

	"ticket-engine/internal/status"
)

const countryCode = "254"

// NormalizePhone converts local and international Kenyan formats
// (0712..., 712..., +254712..., 254712...) to the 2547XXXXXXXX MSISDN form.
func NormalizePhone(phone string) (string, error) {
	var b strings.Builder
	for _, r := range phone {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '(' || r == ')' || r == '+' || r == '.':
		default:
			return "", status.ErrInvalidPhone
		}
	}
	digits := b.String()

	switch {
	case len(digits) == 12 && strings.HasPrefix(digits, countryCode):
	case len(digits) == 10 && strings.HasPrefix(digits, "0"):
		digits = countryCode + digits[1:]
	case len(digits) == 9:
		digits = countryCode + digits
	default:
		return "", status.ErrInvalidPhone
	}

	if subscriber := digits[3]; subscriber != '7' && subscriber != '1' {
		return "", status.ErrInvalidPhone
	}
	return digits, nil
}
