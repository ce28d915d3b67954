// Package urlsafe validates and normalizes user-supplied URLs and blocks
// SSRF targets before any outbound fetch.
package urlsafe

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/rradofina/alonchat-ingest/internal/ingest"
)

// MaxURLLength is the ceiling on a normalized URL string.
const MaxURLLength = 2048

var allowedSchemes = map[string]struct{}{
	"http":   {},
	"https":  {},
	"mailto": {},
}

// Validate normalizes a raw URL. It prepends https:// when no scheme is
// present, lowercases scheme and host, strips default ports and fragments,
// and sorts query parameters. It rejects schemes outside {http, https,
// mailto} and results longer than MaxURLLength. Validating an already
// normalized URL yields the same string.
func Validate(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: empty url", ingest.ErrValidationRejected)
	}
	if !strings.Contains(raw, "://") && !strings.HasPrefix(strings.ToLower(raw), "mailto:") {
		raw = "https://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: parse url: %v", ingest.ErrValidationRejected, err)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	if _, ok := allowedSchemes[u.Scheme]; !ok {
		return "", fmt.Errorf("%w: scheme %q not allowed", ingest.ErrValidationRejected, u.Scheme)
	}

	if u.Scheme != "mailto" && u.Host == "" {
		return "", fmt.Errorf("%w: missing host", ingest.ErrValidationRejected)
	}

	u.Host = strings.ToLower(u.Host)
	if u.Scheme == "http" {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}
	u.Fragment = ""
	if u.RawQuery != "" {
		u.RawQuery = u.Query().Encode()
	}

	normalized := u.String()
	if len(normalized) > MaxURLLength {
		return "", fmt.Errorf("%w: url exceeds %d characters", ingest.ErrValidationRejected, MaxURLLength)
	}
	return normalized, nil
}
