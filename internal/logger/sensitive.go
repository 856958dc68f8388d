package logger

import (
	"regexp"
	"strings"
)

const redacted = "[REDACTED]"

// SensitiveDataPatterns are applied to formatted lines of handlers with
// redact enabled. The first group is kept, the rest is replaced.
var SensitiveDataPatterns = []*regexp.Regexp{
	// Bearer and JWT tokens
	regexp.MustCompile(`(?i)(bearer\s+)([A-Za-z0-9-._~+/]+=*)`),
	regexp.MustCompile(`(?i)(eyJ[a-zA-Z0-9_-]{5,}\.eyJ[a-zA-Z0-9_-]{5,})\.[a-zA-Z0-9_-]{5,}`),

	// BR/EDR link keys and LE long term keys: 128-bit values after a key label
	regexp.MustCompile(`(?i)((?:link[_ -]?key|ltk|irk|csrk)\s*[:=]\s*)((?:0x)?[0-9a-f]{32}|(?:[0-9a-f]{2}[: ]){15}[0-9a-f]{2})`),

	// legacy pairing PINs and passkeys
	regexp.MustCompile(`(?i)((?:pin(?:[_ -]?code)?|passkey)\s*[:=]\s*)(\d{4,16})`),

	// API keys, tokens and secrets
	regexp.MustCompile(`(?i)((api|access|auth|token|secret|key|passw(or)?d)[0-9a-z\-_\.]*[\s:=]+)([^;,\s]{5,})`),

	// Cookies and CSRF tokens
	regexp.MustCompile(`(?i)((?:session|auth|token|csrf|sid)=)([^;,\s]{5,})`),
	regexp.MustCompile(`(?i)(csrf[-_]?token[\s:=]+)([^;,\s"]{5,})`),
}

// SensitiveKeywords mark field keys whose string values are redacted.
var SensitiveKeywords = []string{
	"password", "passwd", "secret", "credential", "token", "auth", "api_key",
	"apikey", "link_key", "linkkey", "ltk", "irk", "csrk", "pin", "passkey",
}

// RedactSensitiveData replaces sensitive values in input with "[REDACTED]".
func RedactSensitiveData(input string) string {
	if input == "" {
		return input
	}
	for _, pattern := range SensitiveDataPatterns {
		input = pattern.ReplaceAllString(input, "${1}"+redacted)
	}
	return input
}

// RedactSensitiveFields returns a copy of fields with the values of
// sensitive keys replaced. The input slice is never modified.
func RedactSensitiveFields(fields []Field) []Field {
	var out []Field
	for i, f := range fields {
		if f.Value == nil || !sensitiveKey(f.Key) {
			continue
		}
		if out == nil {
			out = make([]Field, len(fields))
			copy(out, fields)
		}
		out[i] = Field{Key: f.Key, Value: redacted}
	}
	if out == nil {
		return fields
	}
	return out
}

func sensitiveKey(key string) bool {
	k := strings.ToLower(key)
	for _, s := range SensitiveKeywords {
		if strings.Contains(k, s) {
			return true
		}
	}
	return false
}
