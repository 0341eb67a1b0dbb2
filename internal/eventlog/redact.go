// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package eventlog

import (
	"regexp"
	"strings"
)

// redactRule replaces every match of re with repl. repl may reference
// capture groups with ${n}.
type redactRule struct {
	re   *regexp.Regexp
	repl string
}

// redactRules are applied in order to every string value in an event payload.
var redactRules = []redactRule{
	{regexp.MustCompile(`-----BEGIN\s+(?:RSA\s+)?PRIVATE\s+KEY-----[\s\S]+?-----END\s+(?:RSA\s+)?PRIVATE\s+KEY-----`), "[REDACTED_PRIVATE_KEY]"},
	{regexp.MustCompile(`\bsk-[a-zA-Z0-9_-]{15,}`), "[REDACTED_API_KEY]"},
	{regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`), "[REDACTED_AWS_KEY]"},
	{regexp.MustCompile(`\bAIza[0-9A-Za-z_-]{35}`), "[REDACTED_GOOGLE_KEY]"},
	{regexp.MustCompile(`\bBearer\s+[a-zA-Z0-9_-]+\.[a-zA-Z0-9_-]+\.[a-zA-Z0-9_-]+`), "Bearer [REDACTED_JWT]"},
	{regexp.MustCompile(`(?i)\b(session_token|sessionid|auth_token)["':\s=]+[a-zA-Z0-9_-]{20,}`), "${1}=[REDACTED_TOKEN]"},
	{regexp.MustCompile(`(?i)\b(cookie)["':\s=]+[^;\s]{20,}`), "${1}=[REDACTED_TOKEN]"},
	{regexp.MustCompile(`\b[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}\b`), "[REDACTED_EMAIL]"},
}

// sensitiveKeys marks payload fields whose value is dropped wholesale.
var sensitiveKeys = []string{
	"password", "passwd", "pwd", "secret", "api_key", "apikey", "access_token",
	"auth_token", "session_token", "token", "private_key", "encryption_key", "cookie",
}

const redactedValue = "[REDACTED]"

// RedactString applies the pattern rules to s.
func RedactString(s string) string {
	if s == "" {
		return s
	}
	for _, r := range redactRules {
		s = r.re.ReplaceAllString(s, r.repl)
	}
	return s
}

func isSensitiveKey(key string) bool {
	k := strings.ToLower(key)
	for _, s := range sensitiveKeys {
		if strings.Contains(k, s) {
			return true
		}
	}
	return false
}

// Redact returns a copy of v with sensitive values replaced. Maps, slices
// and strings are walked; other values pass through unchanged.
func Redact(v any) any {
	switch x := v.(type) {
	case string:
		return RedactString(x)
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			if isSensitiveKey(k) {
				out[k] = redactedValue
				continue
			}
			out[k] = Redact(val)
		}
		return out
	case map[string]string:
		out := make(map[string]string, len(x))
		for k, val := range x {
			if isSensitiveKey(k) {
				out[k] = redactedValue
				continue
			}
			out[k] = RedactString(val)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, val := range x {
			out[i] = Redact(val)
		}
		return out
	case []string:
		out := make([]string, len(x))
		for i, val := range x {
			out[i] = RedactString(val)
		}
		return out
	default:
		return v
	}
}
