package observability

import (
	"fmt"
	"strings"
)

const redactedValue = "[REDACTED]"

// SensitiveFields are lowercased field names whose values never reach a log sink.
var SensitiveFields = map[string]bool{
	"aws_access_key_id":     true,
	"aws_secret_access_key": true,
	"aws_session_token":     true,
	"secret_access_key":     true,
	"session_token":         true,
	"authorization":         true,
	"password":              true,
	"secret":                true,
	"token":                 true,
}

// SanitizeLogString removes control characters that could enable log forging.
func SanitizeLogString(value string) string {
	if value == "" {
		return value
	}
	value = strings.ReplaceAll(value, "\r", "")
	value = strings.ReplaceAll(value, "\n", "")
	return value
}

// SanitizeFieldValue redacts credential-like keys and strips control
// characters from string values.
func SanitizeFieldValue(key string, value any) any {
	if SensitiveFields[strings.ToLower(strings.TrimSpace(key))] {
		return redactedValue
	}
	switch v := value.(type) {
	case string:
		return SanitizeLogString(v)
	case []string:
		out := make([]string, len(v))
		for i, s := range v {
			out[i] = SanitizeLogString(s)
		}
		return out
	case error:
		return SanitizeLogString(v.Error())
	case fmt.Stringer:
		return SanitizeLogString(v.String())
	default:
		return value
	}
}

// SanitizeFields merges base and extra, later keys winning, and sanitizes
// every value.
func SanitizeFields(base map[string]any, extra ...map[string]any) map[string]any {
	out := make(map[string]any, len(base))
	for k, v := range base {
		out[k] = SanitizeFieldValue(k, v)
	}
	for _, set := range extra {
		for k, v := range set {
			out[k] = SanitizeFieldValue(k, v)
		}
	}
	return out
}
