package logutil

import "strings"

// SanitizeForLog strips newlines and other control characters from
// client-supplied strings so they cannot forge extra log lines.
func SanitizeForLog(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == '\n' || r == '\r' || r == '\t':
			b.WriteByte(' ')
		case r < 32 || r == 0x7f:
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// tokenPrefixLen is how much of a secret token is kept in logs.
const tokenPrefixLen = 8

// RedactToken keeps only a short prefix of a bearer token for correlation.
func RedactToken(token string) string {
	if len(token) <= tokenPrefixLen {
		return "***"
	}
	return token[:tokenPrefixLen] + "…"
}
