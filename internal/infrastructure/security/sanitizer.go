package security

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"unicode/utf8"
)

// Sensitive header names that should be redacted.
var sensitiveHeaders = map[string]bool{
	"authorization":       true,
	"cookie":              true,
	"set-cookie":          true,
	"x-api-key":           true,
	"x-auth-token":        true,
	"signature":           true,
	"proxy-authorization": true,
}

// Sensitive field names in JSON bodies and query strings.
var sensitiveFields = []string{
	"password",
	"secret",
	"token",
	"api_key",
	"apikey",
	"access_token",
	"refresh_token",
	"client_secret",
	"signature",
	"credential",
}

const redactedValue = "[REDACTED]"

// SanitizeHeaders returns a flattened copy of the headers with sensitive
// values redacted.
func SanitizeHeaders(headers http.Header) map[string]string {
	sanitized := make(map[string]string)
	for key, values := range headers {
		if sensitiveHeaders[strings.ToLower(key)] {
			sanitized[key] = redactedValue
		} else {
			sanitized[key] = strings.Join(values, ", ")
		}
	}
	return sanitized
}

// SanitizeBody prepares a request/response body for audit storage: binary
// payloads (PDF uploads, document downloads) become a base64 summary,
// oversized bodies are truncated, and JSON bodies get sensitive fields
// redacted recursively.
func SanitizeBody(body []byte, maxSize int) json.RawMessage {
	if len(body) == 0 {
		return nil
	}

	if !utf8.Valid(body) {
		return wrapBinary(body)
	}

	if maxSize > 0 && len(body) > maxSize {
		truncated := map[string]any{
			"_truncated": true,
			"_size":      len(body),
			"_preview":   string(body[:maxSize]),
		}
		result, _ := json.Marshal(truncated)
		return result
	}

	var data any
	if err := json.Unmarshal(body, &data); err != nil {
		wrapped := map[string]any{"_raw": string(body), "_format": "text"}
		result, _ := json.Marshal(wrapped)
		return result
	}

	result, err := json.Marshal(sanitizeValue(data))
	if err != nil {
		wrapped := map[string]any{"_raw": string(body), "_format": "text"}
		result, _ = json.Marshal(wrapped)
	}
	return result
}

func wrapBinary(data []byte) json.RawMessage {
	const maxInline = 256
	encoded := base64.StdEncoding.EncodeToString(data)
	if len(encoded) > maxInline {
		encoded = encoded[:maxInline]
	}
	wrapped := map[string]any{
		"_binary":  true,
		"_size":    len(data),
		"_preview": encoded,
	}
	result, _ := json.Marshal(wrapped)
	return result
}

func sanitizeValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		sanitized := make(map[string]any, len(val))
		for key, value := range val {
			if isSensitiveField(key) {
				sanitized[key] = redactedValue
			} else {
				sanitized[key] = sanitizeValue(value)
			}
		}
		return sanitized
	case []any:
		sanitized := make([]any, len(val))
		for i, value := range val {
			sanitized[i] = sanitizeValue(value)
		}
		return sanitized
	default:
		return val
	}
}

func isSensitiveField(key string) bool {
	lower := strings.ToLower(key)
	for _, field := range sensitiveFields {
		if strings.Contains(lower, field) {
			return true
		}
	}
	return false
}

// SanitizeURL redacts sensitive query parameter values (API key signatures
// travel in the query string on Seller Center requests).
func SanitizeURL(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return raw
	}

	query := parsed.Query()
	changed := false
	for key := range query {
		if isSensitiveField(key) {
			query.Set(key, redactedValue)
			changed = true
		}
	}
	if !changed {
		return raw
	}
	// Encode percent-escapes the placeholder brackets; keep the literal
	// token so audit rows stay grep-able.
	parsed.RawQuery = strings.ReplaceAll(query.Encode(), url.QueryEscape(redactedValue), redactedValue)
	return parsed.String()
}
