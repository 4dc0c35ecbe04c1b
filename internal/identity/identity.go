// Package identity maps external OAuth identities onto local OS account names.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"
)

// localNamePrefix keeps derived names from starting with a digit, which
// useradd rejects.
const localNamePrefix = "u"

// localNameHashLen is the number of hex characters of the digest kept.
const localNameHashLen = 12

// External holds the verified claims returned by the identity provider.
type External struct {
	Subject string `json:"sub"`
	Name    string `json:"name,omitempty"`
	Email   string `json:"email,omitempty"`
}

// LocalName derives the OS account name for an external subject. The result
// is stable across restarts: "u" followed by the first 12 hex characters of
// SHA-256(subject).
func LocalName(subject string) string {
	sum := sha256.Sum256([]byte(subject))
	return localNamePrefix + hex.EncodeToString(sum[:])[:localNameHashLen]
}

// DisplayName picks the name used for version-control identity. It prefers
// the name claim, then a name derived from the email local part, then the
// local username.
func DisplayName(ext External, username string) string {
	if name := strings.TrimSpace(ext.Name); name != "" {
		return name
	}
	if name := nameFromEmail(ext.Email); name != "" {
		return name
	}
	return username
}

// nameFromEmail turns "john.doe@example.com" into "John Doe".
func nameFromEmail(email string) string {
	local, _, _ := strings.Cut(email, "@")
	if local == "" {
		return ""
	}
	local = strings.NewReplacer(".", " ", "_", " ", "-", " ").Replace(local)

	words := strings.Fields(local)
	for i, w := range words {
		r := []rune(w)
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}
