package logging

import (
	"log/slog"
	"strings"
)

// RedactedValue is the canonical placeholder used for sensitive fields.
const RedactedValue = "[REDACTED]"

// piiKeys are the request fields that carry guest or staff identity. Anything
// matching is masked before it reaches a handler log line.
var piiKeys = map[string]struct{}{
	"email":          {},
	"customer_email": {},
	"customer_name":  {},
	"contact_email":  {},
	"contact_name":   {},
	"contact_phone":  {},
	"phone":          {},
	"name":           {},
	"password":       {},
	"authorization":  {},
}

// IsSensitive reports whether a log key carries PII and must be masked.
func IsSensitive(key string) bool {
	normalized := strings.ToLower(strings.TrimSpace(key))
	_, ok := piiKeys[normalized]
	return ok
}

// MaskField returns a slog.Attr with the value replaced by the redaction
// placeholder when the key is sensitive. Empty values pass through so logs
// stay greppable for absent fields.
func MaskField(key, value string) slog.Attr {
	if strings.TrimSpace(value) == "" || !IsSensitive(key) {
		return slog.String(key, value)
	}
	return slog.String(key, RedactedValue)
}
