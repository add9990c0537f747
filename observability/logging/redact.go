package logging

import (
	"log/slog"
	"strings"
)

// RedactedValue replaces sensitive values in log output.
const RedactedValue = "[REDACTED]"

// Keys that MaskField passes through untouched.
var allowlist = map[string]struct{}{
	"service":   {},
	"env":       {},
	"error":     {},
	"reason":    {},
	"orderid":   {},
	"op":        {},
	"status":    {},
	"code":      {},
	"requestid": {},
	"caller":    {},
	"address":   {},
}

// Keys that Setup masks wherever they appear, even when logged as plain attrs.
var sensitive = map[string]struct{}{
	"authorization":  {},
	"token":          {},
	"secret":         {},
	"jwtsecret":      {},
	"passphrase":     {},
	"privatekey":     {},
	"idempotencykey": {},
}

func normaliseKey(key string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(key), "_", ""))
}

// IsAllowlisted reports whether key is exempt from MaskField.
func IsAllowlisted(key string) bool {
	_, ok := allowlist[normaliseKey(key)]
	return ok
}

func isSensitive(key string) bool {
	_, ok := sensitive[normaliseKey(key)]
	return ok
}

// MaskValue returns RedactedValue for non-empty values.
func MaskValue(value string) string {
	if strings.TrimSpace(value) == "" {
		return value
	}
	return RedactedValue
}

// MaskToken keeps a short prefix of credentials such as bearer tokens or
// idempotency keys so log lines can be correlated without exposing the value.
func MaskToken(value string) string {
	trimmed := strings.TrimSpace(value)
	if len(trimmed) <= 8 {
		return MaskValue(trimmed)
	}
	return trimmed[:4] + "..." + RedactedValue
}

// MaskField redacts value unless key is allowlisted.
func MaskField(key, value string) slog.Attr {
	if strings.TrimSpace(value) == "" || IsAllowlisted(key) {
		return slog.String(key, value)
	}
	return slog.String(key, RedactedValue)
}

// redactAttr is applied by the handler to every attribute.
func redactAttr(attr slog.Attr) slog.Attr {
	if !isSensitive(attr.Key) || attr.Value.Kind() != slog.KindString {
		return attr
	}
	value := attr.Value.String()
	if value == RedactedValue || strings.HasSuffix(value, "..."+RedactedValue) {
		return attr
	}
	return slog.String(attr.Key, MaskValue(value))
}
