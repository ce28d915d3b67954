package urlsafe

import (
	"net"
	"net/url"
	"strings"
)

// Cloud metadata hostnames that must never be fetched on behalf of a tenant.
var metadataHosts = map[string]struct{}{
	"metadata.google.internal": {},
	"metadata.azure.com":       {},
	"instance-data.ec2.internal": {},
}

// Checker decides whether a validated URL is safe to fetch. The zero value
// blocks loopback, private and link-local ranges, and cloud metadata hosts;
// NewChecker adds a configurable domain blocklist on top.
type Checker struct {
	blocklist *domainPatternBlocklist
}

// NewChecker builds a Checker with extra blocked domain patterns. Patterns
// may be exact hosts or suffix wildcards ("*.internal.example.com").
func NewChecker(blockedDomains []string) *Checker {
	return &Checker{blocklist: newDomainPatternBlocklist(blockedDomains)}
}

// IsSafe reports whether the URL targets a host the pipeline may fetch.
// Private ranges are rejected by numeric octet comparison rather than string
// matching so non-canonical forms cannot bypass the check.
func (c *Checker) IsSafe(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	if u.Scheme == "mailto" {
		// No fetch ever happens for mailto; nothing to protect.
		return true
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return false
	}
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return false
	}
	if _, blocked := metadataHosts[host]; blocked {
		return false
	}
	if c != nil && c.blocklist.IsBlocked(host) {
		return false
	}
	if ip := net.ParseIP(host); ip != nil {
		return !isForbiddenIP(ip)
	}
	return true
}

func isForbiddenIP(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsUnspecified() {
		return true
	}
	v4 := ip.To4()
	if v4 == nil {
		// Non-loopback IPv6 literals: reject link-local and unique-local.
		return ip.IsLinkLocalUnicast() || ip.IsPrivate()
	}
	switch {
	case v4[0] == 10:
		return true
	case v4[0] == 172 && v4[1] >= 16 && v4[1] <= 31:
		return true
	case v4[0] == 192 && v4[1] == 168:
		return true
	case v4[0] == 169 && v4[1] == 254:
		return true
	}
	return false
}
