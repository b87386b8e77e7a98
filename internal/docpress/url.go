package docpress

import (
	"fmt"
	"net/url"
	"strings"
)

// NormalizeURL standardizes a URL so the frontier can deduplicate.
// It lowercases the scheme and host, removes default ports and the
// fragment, and sorts query parameters.
func NormalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("url %q missing scheme or host", rawURL)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)

	if u.Scheme == "http" && strings.HasSuffix(u.Host, ":80") {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" && strings.HasSuffix(u.Host, ":443") {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	u.Fragment = ""

	q := u.Query()
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// BlockKey reduces a URL to the form used for blocking decisions:
// the normalized URL with the query string removed. Defect counters and
// sentinel block entries key on this form so that cache-busted variants
// of the same resource aggregate together.
func BlockKey(rawURL string) string {
	normalized, err := NormalizeURL(rawURL)
	if err != nil {
		return rawURL
	}
	u, err := url.Parse(normalized)
	if err != nil {
		return normalized
	}
	u.RawQuery = ""
	return u.String()
}

// Host extracts the lowercased host from a URL, or "" if unparseable.
func Host(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
