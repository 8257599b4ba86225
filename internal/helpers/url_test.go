package helpers

import "testing"

func TestCanonicalURL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want string
	}{
		{"lowercases host", "https://Example.COM/Path", "https://example.com/Path"},
		{"default https port stripped", "https://example.com:443/a", "https://example.com/a"},
		{"default http port stripped", "http://example.com:80/a", "http://example.com/a"},
		{"fragment removed", "https://example.com/a#section", "https://example.com/a"},
		{"tracking params dropped", "https://example.com/a?utm_source=x&q=1", "https://example.com/a?q=1"},
		{"query sorted", "https://example.com/a?b=2&a=1", "https://example.com/a?a=1&b=2"},
		{"schemeless defaults to https", "example.com/a", "https://example.com/a"},
		{"path cleaned", "https://example.com/a/../b", "https://example.com/b"},
		{"root path added", "https://example.com", "https://example.com/"},
		{"trailing slash preserved", "https://example.com/a/", "https://example.com/a/"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := CanonicalURL(tc.in)
			if err != nil {
				t.Fatalf("CanonicalURL(%q) error: %v", tc.in, err)
			}
			if got != tc.want {
				t.Fatalf("CanonicalURL(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestCanonicalURLErrors(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"", "   ", "https://"} {
		if _, err := CanonicalURL(in); err == nil {
			t.Fatalf("CanonicalURL(%q) expected error", in)
		}
	}
}

func TestURLFingerprintStable(t *testing.T) {
	t.Parallel()

	a, err := URLFingerprint("https://Example.com/a?utm_source=x")
	if err != nil {
		t.Fatalf("fingerprint: %v", err)
	}
	b, err := URLFingerprint("https://example.com/a")
	if err != nil {
		t.Fatalf("fingerprint: %v", err)
	}
	if a != b {
		t.Fatalf("fingerprints differ for equivalent urls: %s vs %s", a, b)
	}
	if len(a) != 64 {
		t.Fatalf("unexpected digest length %d", len(a))
	}
}

func TestDomain(t *testing.T) {
	t.Parallel()

	if got := Domain("https://News.Example.com:443/x"); got != "news.example.com" {
		t.Fatalf("Domain = %q", got)
	}
	if got := Domain(""); got != "" {
		t.Fatalf("Domain(empty) = %q", got)
	}
}
