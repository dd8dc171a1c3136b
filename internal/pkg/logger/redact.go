package logger

import "strings"

// RedactEmail masks an email address for safe logging.
// "john.doe@example.com" → "jo***@example.com"
// Short local parts (≤2 chars) are fully masked: "ab@example.com" → "***@example.com"
func RedactEmail(email string) string {
	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return "***@***"
	}
	name := parts[0]
	if len(name) > 2 {
		return name[:2] + "***@" + parts[1]
	}
	return "***@" + parts[1]
}

// RedactPhone keeps the country prefix and the last three digits.
// "84987654321" → "849*****321"
// Anything shorter than 7 characters is fully masked.
func RedactPhone(phone string) string {
	if len(phone) < 7 {
		return "***"
	}
	keep := 3
	return phone[:keep] + strings.Repeat("*", len(phone)-2*keep) + phone[len(phone)-keep:]
}
