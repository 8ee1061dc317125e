package job

import (
	"net/url"
	"strings"

	"golang.org/x/net/idna"
)

// URI is an immutable-after-parse absolute URI. Equality is defined over
// the normalized absolute form (scheme and host lower-cased, fragment
// dropped).
type URI struct {
	raw        string
	normalized string
	parsed     *url.URL
}

// ParseURI parses an absolute URI, normalizing scheme/host case.
func ParseURI(s string) (URI, error) {
	u, err := url.Parse(s)
	if err != nil {
		return URI{}, err
	}
	return fromURL(s, u)
}

// ResolveURI resolves ref against base, producing an absolute URI.
func ResolveURI(base URI, ref string) (URI, error) {
	r, err := url.Parse(ref)
	if err != nil {
		return URI{}, err
	}
	resolved := base.parsed.ResolveReference(r)
	return fromURL(resolved.String(), resolved)
}

func fromURL(raw string, u *url.URL) (URI, error) {
	norm := *u
	norm.Scheme = strings.ToLower(norm.Scheme)
	if host, err := idna.Lookup.ToASCII(strings.ToLower(norm.Hostname())); err == nil {
		if port := norm.Port(); port != "" {
			norm.Host = host + ":" + port
		} else {
			norm.Host = host
		}
	} else {
		norm.Host = strings.ToLower(norm.Host)
	}
	norm.Fragment = ""
	norm.RawFragment = ""
	return URI{raw: raw, normalized: norm.String(), parsed: u}, nil
}

// String returns the original (non-normalized) form used to build the URI.
func (u URI) String() string { return u.raw }

// Normalized returns the normalized absolute form used for equality and
// blacklist admission.
func (u URI) Normalized() string { return u.normalized }

// Equal compares two URIs by normalized form.
func (u URI) Equal(o URI) bool { return u.normalized == o.normalized }

// IsZero reports whether u was never assigned.
func (u URI) IsZero() bool { return u.parsed == nil }

// Scheme returns the lower-cased scheme.
func (u URI) Scheme() string { return strings.ToLower(u.parsed.Scheme) }

// Host returns host:port as it appeared in the original URI (unescaped
// case). The Path Mapper's host directory uses Hostname instead.
func (u URI) Host() string { return u.parsed.Host }

// Hostname returns the host without port.
func (u URI) Hostname() string { return u.parsed.Hostname() }

// Path returns the URI path component.
func (u URI) Path() string { return u.parsed.Path }

// RawQuery returns the URI query component without the leading '?'.
func (u URI) RawQuery() string { return u.parsed.RawQuery }

// URL exposes the underlying parsed URL for callers that need net/http.
func (u URI) URL() *url.URL {
	cp := *u.parsed
	return &cp
}
