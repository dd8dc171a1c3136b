package recipients

import (
	"fmt"
	"strings"
)

// NormalizePhone converts a local or international number into the digits
// ZNS expects: country code followed by the subscriber number, no "+".
// A leading 0 is replaced by countryCode; "+" and "00" prefixes are dropped.
func NormalizePhone(raw, countryCode string) (string, error) {
	var b strings.Builder
	for i, r := range strings.TrimSpace(raw) {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
		case r == ' ' || r == '-' || r == '.' || r == '(' || r == ')':
		default:
			return "", fmt.Errorf("%w: %q", ErrInvalidPhone, raw)
		}
	}

	digits := b.String()
	switch {
	case digits == "":
		return "", fmt.Errorf("%w: empty", ErrInvalidPhone)
	case strings.HasPrefix(digits, "00"):
		digits = digits[2:]
	case strings.HasPrefix(digits, "0"):
		digits = countryCode + digits[1:]
	}

	if len(digits) < 9 || len(digits) > 15 {
		return "", fmt.Errorf("%w: %q", ErrInvalidPhone, raw)
	}
	return digits, nil
}
