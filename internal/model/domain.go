package model

import (
	"errors"
	"net"
	"net/url"
	"strings"
)

// ErrInvalidDomain is returned when a target cannot be reduced to a DNS name.
var ErrInvalidDomain = errors.New("invalid target domain")

// maxDomainLength is the maximum length of a DNS name in presentation format.
const maxDomainLength = 253

// NormalizeDomain reduces user input such as "https://Example.COM:8443/path"
// to the bare lowercase host "example.com".
//
// The result is the identity key of a session: two inputs that normalize
// to the same string share one durable store.
func NormalizeDomain(input string) (string, error) {
	s := strings.TrimSpace(input)
	if s == "" {
		return "", ErrInvalidDomain
	}

	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return "", ErrInvalidDomain
		}
		s = u.Host
	}

	if i := strings.IndexAny(s, "/?#"); i >= 0 {
		s = s[:i]
	}
	if i := strings.LastIndex(s, "@"); i >= 0 {
		s = s[i+1:]
	}
	if host, _, err := net.SplitHostPort(s); err == nil {
		s = host
	}

	s = strings.TrimSuffix(strings.ToLower(s), ".")
	if s == "" || len(s) > maxDomainLength || net.ParseIP(s) != nil {
		return "", ErrInvalidDomain
	}

	for _, label := range strings.Split(s, ".") {
		if !validLabel(label) {
			return "", ErrInvalidDomain
		}
	}
	return s, nil
}

func validLabel(label string) bool {
	if label == "" || len(label) > 63 {
		return false
	}
	if label[0] == '-' || label[len(label)-1] == '-' {
		return false
	}
	for _, r := range label {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return false
		}
	}
	return true
}

// SanitizeKey maps a domain to a file-system-safe key.
// Every rune outside [a-z0-9-] becomes '_', so "example.com" maps to "example_com".
func SanitizeKey(domain string) string {
	var b strings.Builder
	b.Grow(len(domain))
	for _, r := range strings.ToLower(domain) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// Keyword returns the registrable label of a domain, used to guess
// bucket and repository names: "shop.example.co" yields "example".
func Keyword(domain string) string {
	labels := strings.Split(domain, ".")
	if len(labels) < 2 {
		return domain
	}
	return labels[len(labels)-2]
}

// Prefix returns the first label of a domain: "api.example.com" yields "api".
func Prefix(domain string) string {
	label, _, _ := strings.Cut(domain, ".")
	return label
}

// InScope reports whether host is the domain itself or one of its subdomains.
func InScope(host, domain string) bool {
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	return host == domain || strings.HasSuffix(host, "."+domain)
}

// HostOf returns the lowercase host part of a URL, without the port.
// It returns an empty string for unparsable input.
func HostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
