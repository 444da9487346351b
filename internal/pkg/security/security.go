// Package security provides security utilities for input validation,
// sanitization, and sensitive data masking.
package security

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"unicode"
)

// MaxServerURLLength is the maximum allowed platform server URL length.
const MaxServerURLLength = 2048

// URLError represents a server URL validation error.
type URLError struct {
	Reason string
}

func (e *URLError) Error() string {
	return "invalid server URL: " + e.Reason
}

// ValidateServerURL validates a platform server URL. Only absolute http(s)
// URLs without embedded credentials are accepted.
func ValidateServerURL(raw string) error {
	if raw == "" {
		return &URLError{Reason: "empty"}
	}
	if len(raw) > MaxServerURLLength {
		return &URLError{Reason: fmt.Sprintf("exceeds %d characters", MaxServerURLLength)}
	}
	if strings.ContainsAny(raw, " \t\n\r\x00") {
		return &URLError{Reason: "contains whitespace or control characters"}
	}

	u, err := url.Parse(raw)
	if err != nil {
		return &URLError{Reason: "unparseable"}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return &URLError{Reason: "scheme must be http or https"}
	}
	if u.Host == "" {
		return &URLError{Reason: "missing host"}
	}
	if u.User != nil {
		return &URLError{Reason: "credentials in URL not allowed"}
	}
	return nil
}

// MaskToken masks an API token for display or logging. Short tokens are
// fully redacted; longer ones keep a 4-character prefix.
func MaskToken(token string) string {
	if token == "" {
		return ""
	}
	if len(token) <= 8 {
		return "[REDACTED]"
	}
	return token[:4] + strings.Repeat("*", 8)
}

// SanitizeForLog sanitizes a string for safe logging.
// It prevents log injection by:
// - Replacing newlines with escaped versions
// - Replacing carriage returns
// - Removing other control characters
// - Truncating to a maximum length
func SanitizeForLog(s string) string {
	return SanitizeForLogWithLength(s, 200)
}

// SanitizeForLogWithLength sanitizes a string for logging with a custom max length.
func SanitizeForLogWithLength(s string, maxLen int) string {
	if s == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(min(len(s), maxLen+10))

	count := 0
	for _, r := range s {
		if count >= maxLen {
			b.WriteString("...")
			break
		}

		switch r {
		case '\n':
			b.WriteString("\\n")
			count += 2
		case '\r':
			b.WriteString("\\r")
			count += 2
		case '\t':
			b.WriteString("\\t")
			count += 2
		default:
			// Remove other control characters, keep printable
			if !unicode.IsControl(r) || r == ' ' {
				b.WriteRune(r)
				count++
			}
		}
	}

	return b.String()
}

// sensitiveHeaders are HTTP header names that contain sensitive data.
// These should be masked in logs.
var sensitiveHeaders = map[string]bool{
	"authorization":       true,
	"x-api-key":           true,
	"api-key":             true,
	"x-auth-token":        true,
	"cookie":              true,
	"set-cookie":          true,
	"x-csrf-token":        true,
	"x-xsrf-token":        true,
	"proxy-authorization": true,
}

// sensitiveFieldPatterns are patterns in key names that indicate sensitive data.
var sensitiveFieldPatterns = []string{
	"password",
	"secret",
	"token",
	"key",
	"credential",
	"auth",
}

// MaskSensitiveHeaders creates a copy of headers with sensitive values masked.
// This is safe to use for logging.
func MaskSensitiveHeaders(headers http.Header) http.Header {
	if headers == nil {
		return nil
	}

	masked := make(http.Header, len(headers))
	for key, values := range headers {
		if isSensitiveHeader(key) {
			masked[key] = []string{"[REDACTED]"}
		} else {
			masked[key] = append([]string(nil), values...)
		}
	}
	return masked
}

// MaskSensitiveMap masks sensitive values in a string map.
// Useful for logging request parameters or config values.
func MaskSensitiveMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}

	masked := make(map[string]string, len(m))
	for key, value := range m {
		if isSensitiveKey(key) {
			masked[key] = "[REDACTED]"
		} else {
			masked[key] = value
		}
	}
	return masked
}

func isSensitiveHeader(name string) bool {
	lower := strings.ToLower(name)
	if sensitiveHeaders[lower] {
		return true
	}
	return isSensitiveKey(lower)
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, pattern := range sensitiveFieldPatterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}
