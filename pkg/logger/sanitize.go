package logger

import (
	"log/slog"
	"strings"
)

// RedactedToken masks a credential or face token for logging, keeping only a short prefix
// so related log lines can still be correlated (e.g., "24.a1b2****")
func RedactedToken(value string) string {
	if value == "" {
		return ""
	}
	if len(value) <= 8 {
		return strings.Repeat("*", len(value))
	}
	return value[:6] + strings.Repeat("*", 4)
}

// RedactedAttr returns a redacted slog attribute for sensitive values
func RedactedAttr(key, value string) slog.Attr {
	return slog.String(key, RedactedToken(value))
}

// SanitizeQueryString checks if query string contains sensitive parameters
// and returns true if the entire query string should be redacted
func SanitizeQueryString(rawQuery string) bool {
	sensitiveParams := map[string]bool{
		"token":        true,
		"access_token": true,
		"secret":       true,
		"api_key":      true,
		"apikey":       true,
		"auth":         true,
		"image":        true,
		"face_token":   true,
	}

	query := strings.ToLower(rawQuery)
	for param := range sensitiveParams {
		if strings.Contains(query, param) {
			return true
		}
	}
	return false
}
