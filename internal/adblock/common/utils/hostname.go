package utils

import (
	"net"
	"net/url"
	"strings"
)

// CanonicalHost returns a host name in canonical form:
// - Lowercased
// - Trimmed of surrounding whitespace
// - No trailing dot, so "example.com." and "example.com" compare equal
// - IPv6 brackets removed
func CanonicalHost(host string) string {
	host = strings.TrimSpace(host)
	host = strings.ToLower(host)
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	for strings.HasSuffix(host, ".") {
		host = strings.TrimSuffix(host, ".")
	}
	return host
}

// HostFromURL extracts the canonical host of a URL. It accepts URLs with or
// without a scheme and never fails: unparseable input yields "".
func HostFromURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if u, err := url.Parse(raw); err == nil && u.Host != "" {
		return CanonicalHost(u.Hostname())
	}
	return CanonicalHost(scanHost(raw))
}

// scanHost is the fallback for strings net/url rejects or reads as a bare
// path, e.g. "example.com/ad.js" or URLs with stray spaces.
func scanHost(raw string) string {
	if i := strings.Index(raw, "://"); i >= 0 {
		raw = raw[i+3:]
	} else if strings.HasPrefix(raw, "//") {
		raw = raw[2:]
	}
	if i := strings.IndexAny(raw, "/?#"); i >= 0 {
		raw = raw[:i]
	}
	if i := strings.LastIndexByte(raw, '@'); i >= 0 {
		raw = raw[i+1:]
	}
	if h, _, err := net.SplitHostPort(raw); err == nil {
		return h
	}
	if strings.ContainsAny(raw, " \t") {
		return ""
	}
	return raw
}

// IsSubdomainOrEqual reports whether host equals parent or is a subdomain of
// it. Both arguments are expected in canonical form.
func IsSubdomainOrEqual(host, parent string) bool {
	if parent == "" || len(host) < len(parent) {
		return false
	}
	if len(host) == len(parent) {
		return host == parent
	}
	return strings.HasSuffix(host, parent) && host[len(host)-len(parent)-1] == '.'
}

// ParentDomains returns host followed by each of its parent domains, longest
// first, down to the top-level label. "a.example.com" yields
// "a.example.com", "example.com", "com".
func ParentDomains(host string) []string {
	if host == "" {
		return nil
	}
	out := []string{host}
	for {
		i := strings.IndexByte(host, '.')
		if i < 0 || i == len(host)-1 {
			return out
		}
		host = host[i+1:]
		out = append(out, host)
	}
}
