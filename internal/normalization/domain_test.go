package normalization

import (
	"errors"
	"testing"

	"github.com/siteinsight/siteinsight-backend/internal/apierr"
)

func TestNormalizeDomain(t *testing.T) {
	cases := []struct {
		name  string
		in    string
		want  string
		valid bool
	}{
		{"bare domain", "example.com", "example.com", true},
		{"uppercase", "EXAMPLE.COM", "example.com", true},
		{"scheme stripped", "https://example.com", "example.com", true},
		{"http scheme", "http://example.com", "example.com", true},
		{"www stripped", "www.example.com", "example.com", true},
		{"scheme and www", "https://www.Example.com", "example.com", true},
		{"path stripped", "https://example.com/pricing?utm=1", "example.com", true},
		{"port stripped", "example.com:8080", "example.com", true},
		{"subdomain kept", "app.example.com", "app.example.com", true},
		{"trailing dot", "example.com.", "example.com", true},
		{"surrounding space", "  example.com  ", "example.com", true},
		{"empty", "", "", false},
		{"whitespace only", "   ", "", false},
		{"no dot", "localhost", "", false},
		{"empty label", "example..com", "", false},
		{"invalid char", "exa mple.com", "", false},
		{"scheme only", "https://", "", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := NormalizeDomain(tc.in)
			if tc.valid {
				if err != nil {
					t.Fatalf("NormalizeDomain(%q) error: %v", tc.in, err)
				}
				if got != tc.want {
					t.Fatalf("NormalizeDomain(%q) = %q, want %q", tc.in, got, tc.want)
				}
				return
			}
			if err == nil {
				t.Fatalf("NormalizeDomain(%q) = %q, want error", tc.in, got)
			}
			if !errors.Is(err, apierr.ErrMalformedInput) {
				t.Fatalf("NormalizeDomain(%q) error = %v, want ErrMalformedInput", tc.in, err)
			}
		})
	}
}

func TestNormalizeDomainIdempotent(t *testing.T) {
	once, err := NormalizeDomain("HTTPS://WWW.Example.com/path")
	if err != nil {
		t.Fatalf("first pass: %v", err)
	}
	twice, err := NormalizeDomain(once)
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if once != twice {
		t.Fatalf("normalization not idempotent: %q vs %q", once, twice)
	}
}

func TestNormalizeEmail(t *testing.T) {
	if got := NormalizeEmail("  User@Example.COM "); got != "user@example.com" {
		t.Fatalf("NormalizeEmail = %q", got)
	}
}
