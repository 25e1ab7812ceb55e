// Package redact removes credentials and other sensitive material from
// DSNs and statement parameters before they reach a log line.
package redact

import (
	"strings"
)

// Placeholder substituted for any redacted value.
const Placeholder = "***"

var sensitiveKeyTokens = []string{
	"password", "passwd", "pwd", "secret", "token",
	"apikey", "api_key", "access_key", "secret_key",
	"private_key", "privatekey",
	"sslkey", "ssl_key", "sslcert", "ssl_cert", "sslrootcert", "ssl_ca", "sslca",
}

var sensitiveValueTokens = []string{
	"password", "passwd", "pwd", "secret", "token",
	"apikey", "api_key", "access_key", "secret_key",
	"private_key", "privatekey", "bearer", "authorization",
}

func compact(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// SensitiveKey reports whether a configuration key looks credential-bearing.
func SensitiveKey(key string) bool {
	normalized := strings.ToLower(key)
	compacted := compact(normalized)
	for _, token := range sensitiveKeyTokens {
		if strings.Contains(normalized, token) || strings.Contains(compacted, compact(token)) {
			return true
		}
	}
	return false
}

// SensitiveValue reports whether a string value looks credential-bearing.
func SensitiveValue(value string) bool {
	normalized := strings.ToLower(value)
	for _, token := range sensitiveValueTokens {
		if strings.Contains(normalized, token) {
			return true
		}
	}
	return false
}

// QueryParams redacts the values of sensitive keys in a DSN query map.
func QueryParams(query map[string]string) map[string]string {
	out := make(map[string]string, len(query))
	for key, value := range query {
		if SensitiveKey(key) {
			out[key] = Placeholder
		} else {
			out[key] = value
		}
	}
	return out
}

// Value redacts a single value, recursing into maps and slices.
func Value(v any) any {
	return valueForKey(v, "")
}

func valueForKey(v any, key string) any {
	if key != "" && SensitiveKey(key) {
		return Placeholder
	}
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = valueForKey(item, k)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = valueForKey(item, "")
		}
		return out
	case []byte:
		if SensitiveValue(string(t)) {
			return Placeholder
		}
		return t
	case string:
		if SensitiveValue(t) {
			return Placeholder
		}
		return t
	default:
		return v
	}
}

// Params redacts a parameter list for logging.
func Params(params []any) []any {
	out := make([]any, len(params))
	for i, p := range params {
		out[i] = Value(p)
	}
	return out
}
