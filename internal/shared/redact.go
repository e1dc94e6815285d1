package shared

import (
	"regexp"
	"strings"
)

const redactedPlaceholder = "[REDACTED]"

// secretRule pairs a pattern with its replacement; replacements may keep a
// capture group so the log line stays attributable.
type secretRule struct {
	pattern *regexp.Regexp
	replace string
}

var secretRules = []secretRule{
	// Key-like prefixes followed by long opaque values.
	{regexp.MustCompile(`(?i)(api[_-]?key|apikey|secret[_-]?key|auth[_-]?token|bearer)\s*[:=]\s*"?[A-Za-z0-9_\-./+=]{16,}"?`), "${1}" + redactedPlaceholder},
	// Bearer tokens in Authorization headers.
	{regexp.MustCompile(`(?i)(Bearer\s+)[A-Za-z0-9_\-./+=]{16,}`), "${1}" + redactedPlaceholder},
	// Google API keys.
	{regexp.MustCompile(`AIza[A-Za-z0-9_\-]{30,}`), redactedPlaceholder},
	// Telegram bot tokens (numeric id, colon, 35-char secret).
	{regexp.MustCompile(`\b\d{8,10}:[A-Za-z0-9_\-]{35}\b`), redactedPlaceholder},
}

// Redact replaces secret-bearing substrings with [REDACTED]. Strings with
// no secrets pass through unchanged.
func Redact(input string) string {
	if input == "" {
		return input
	}
	out := input
	for _, rule := range secretRules {
		if rule.pattern.MatchString(out) {
			out = rule.pattern.ReplaceAllString(out, rule.replace)
		}
	}
	return out
}

var sensitiveEnvTokens = []string{"api_key", "apikey", "secret", "token", "password", "credential"}

// RedactEnvValue returns [REDACTED] when the key name looks secret.
func RedactEnvValue(key, value string) string {
	lower := strings.ToLower(key)
	for _, tok := range sensitiveEnvTokens {
		if strings.Contains(lower, tok) {
			return redactedPlaceholder
		}
	}
	return value
}
