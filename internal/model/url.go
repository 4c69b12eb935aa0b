package model

import (
	"fmt"
	"net/url"
	"strings"

	whatwgUrl "github.com/nlnwa/whatwg-url/url"
)

// urlParser follows the WHATWG URL standard, which is what browsers do when
// they resolve links. Using it for both seeds and extracted links keeps the
// identity of a URL stable no matter where it was discovered.
var urlParser = whatwgUrl.NewParser(whatwgUrl.WithPercentEncodeSinglePercentSign())

// NormalizeURL returns the canonical identity of rawURL.
//
// Scheme and host are lowercased, default ports are removed, the fragment
// is stripped and an empty path becomes "/". Only http and https URLs are
// accepted.
func NormalizeURL(rawURL string) (string, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return "", ErrEmptyURL
	}

	parsed, err := urlParser.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse url %q: %w", rawURL, err)
	}
	return canonical(parsed.Href(true))
}

// ResolveReference resolves ref against base and normalizes the result.
func ResolveReference(base, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", ErrEmptyURL
	}

	parsed, err := urlParser.ParseRef(base, ref)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %q against %q: %w", ref, base, err)
	}
	return canonical(parsed.Href(true))
}

func canonical(href string) (string, error) {
	u, err := url.Parse(href)
	if err != nil {
		return "", fmt.Errorf("failed to parse url %q: %w", href, err)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
	if u.Hostname() == "" {
		return "", ErrMissingHost
	}

	u.Host = strings.ToLower(u.Host)
	switch {
	case u.Scheme == "http" && u.Port() == "80":
		u.Host = u.Hostname()
	case u.Scheme == "https" && u.Port() == "443":
		u.Host = u.Hostname()
	}

	u.Fragment = ""
	u.RawFragment = ""
	if u.Path == "" {
		u.Path = "/"
	}
	return u.String(), nil
}

// Host returns the lowercased hostname of a URL, or "" if it cannot be parsed.
func Host(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// IsOnionHost reports whether host is a Tor hidden service name.
func IsOnionHost(host string) bool {
	return strings.HasSuffix(strings.ToLower(host), ".onion")
}
