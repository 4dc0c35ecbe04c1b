package identity

import (
	"regexp"
	"testing"
)

var localNamePattern = regexp.MustCompile(`^u[0-9a-f]{12}$`)

func TestLocalName_Deterministic(t *testing.T) {
	a := LocalName("abc123")
	b := LocalName("abc123")
	if a != b {
		t.Fatalf("expected stable name, got %q and %q", a, b)
	}
	// sha256("abc123") = 6ca13d52ca70c883e0f0bb101e425a89e8624de51db2d2392593af6a84118090
	if a != "u6ca13d52ca70" {
		t.Errorf("expected u6ca13d52ca70, got %q", a)
	}
	if !localNamePattern.MatchString(a) {
		t.Errorf("name %q does not match %s", a, localNamePattern)
	}
}

func TestLocalName_DistinctSubjects(t *testing.T) {
	seen := make(map[string]string)
	subjects := []string{"", "a", "b", "abc123", "abc124", "google-oauth2|1234567890", "local-user"}
	for _, s := range subjects {
		name := LocalName(s)
		if !localNamePattern.MatchString(name) {
			t.Errorf("LocalName(%q) = %q does not match %s", s, name, localNamePattern)
		}
		if prev, ok := seen[name]; ok {
			t.Errorf("collision: %q and %q both map to %q", prev, s, name)
		}
		seen[name] = s
	}
}

func TestDisplayName(t *testing.T) {
	tests := []struct {
		name string
		ext  External
		want string
	}{
		{"name claim wins", External{Name: "Jane Roe", Email: "john.doe@example.com"}, "Jane Roe"},
		{"dotted email", External{Email: "john.doe@example.com"}, "John Doe"},
		{"underscore and dash", External{Email: "mary_ann-smith@example.com"}, "Mary Ann Smith"},
		{"blank name falls through", External{Name: "  ", Email: "bob@example.com"}, "Bob"},
		{"no claims", External{}, "u0123456789ab"},
		{"empty local part", External{Email: "@example.com"}, "u0123456789ab"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DisplayName(tt.ext, "u0123456789ab"); got != tt.want {
				t.Errorf("DisplayName() = %q, want %q", got, tt.want)
			}
		})
	}
}
