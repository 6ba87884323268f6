package logging

import (
	"log/slog"
	"net/url"
	"strings"
)

// RedactedValue replaces secrets in log output.
const RedactedValue = "[REDACTED]"

// Key fragments that mark an attribute as carrying credentials. Matching is
// case-insensitive and by substring so "rpcToken" and "keystore_passphrase"
// are both caught.
var sensitiveFragments = []string{
	"authorization",
	"dsn",
	"passphrase",
	"password",
	"private",
	"secret",
	"token",
}

// Sensitive reports whether values logged under key must be masked.
func Sensitive(key string) bool {
	lower := strings.ToLower(key)
	for _, fragment := range sensitiveFragments {
		if strings.Contains(lower, fragment) {
			return true
		}
	}
	return false
}

// MaskField builds an attribute whose value is masked when key is sensitive.
// Connection strings keep their scheme, host and path so operators can still
// tell which database a node points at.
func MaskField(key, value string) slog.Attr {
	return slog.String(key, maskString(key, value))
}

func maskString(key, value string) string {
	if value == "" || !Sensitive(key) {
		return value
	}
	if u, err := url.Parse(value); err == nil && u.Scheme != "" && u.Host != "" {
		return u.Scheme + "://" + RedactedValue + "@" + u.Host + u.Path
	}
	return RedactedValue
}

// redactAttr is installed as part of the handler's ReplaceAttr so secrets
// passed as plain key/value pairs are masked too.
func redactAttr(attr slog.Attr) slog.Attr {
	if attr.Value.Kind() != slog.KindString {
		return attr
	}
	masked := maskString(attr.Key, attr.Value.String())
	if masked == attr.Value.String() {
		return attr
	}
	return slog.String(attr.Key, masked)
}
