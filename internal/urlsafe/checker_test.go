package urlsafe

import "testing"

func TestCheckerIsSafe(t *testing.T) {
	t.Parallel()
	c := NewChecker(nil)

	cases := []struct {
		url  string
		safe bool
	}{
		{"https://example.com", true},
		{"http://example.com/path?q=1", true},
		{"mailto:team@example.com", true},
		{"http://localhost/admin", false},
		{"http://sub.localhost:8080/", false},
		{"http://127.0.0.1/x", false},
		{"http://127.0.0.2/", false},
		{"http://[::1]/", false},
		{"http://0.0.0.0/", false},
		{"http://10.1.2.3/", false},
		{"http://172.16.0.1/", false},
		{"http://172.31.255.255/", false},
		{"http://172.32.0.1/", true},
		{"http://192.168.1.1/", false},
		{"http://169.254.169.254/latest/meta-data/", false},
		{"http://metadata.google.internal/computeMetadata/v1/", false},
		{"http://metadata.azure.com/", false},
		{"http://instance-data.ec2.internal/", false},
		{"http://[fe80::1]/", false},
		{"http://[fd00::1]/", false},
		{"https://", false},
	}
	for _, tc := range cases {
		if got := c.IsSafe(tc.url); got != tc.safe {
			t.Fatalf("IsSafe(%q) = %v, want %v", tc.url, got, tc.safe)
		}
	}
}

func TestCheckerBlocklist(t *testing.T) {
	t.Parallel()
	c := NewChecker([]string{"evil.example.com", "*.internal.example.com"})

	if c.IsSafe("https://evil.example.com/") {
		t.Fatalf("expected exact blocklist entry to be unsafe")
	}
	if c.IsSafe("https://db.internal.example.com/") {
		t.Fatalf("expected wildcard blocklist entry to be unsafe")
	}
	if !c.IsSafe("https://example.com/") {
		t.Fatalf("expected unlisted host to be safe")
	}
}

func TestValidateThenIsSafeIdempotent(t *testing.T) {
	t.Parallel()
	c := NewChecker(nil)

	normalized, err := Validate("Example.COM/a")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	again, err := Validate(normalized)
	if err != nil {
		t.Fatalf("re-validate: %v", err)
	}
	if normalized != again {
		t.Fatalf("normalization not stable: %q vs %q", normalized, again)
	}
	if c.IsSafe(normalized) != c.IsSafe(again) {
		t.Fatalf("safety verdict changed across re-validation")
	}
}
