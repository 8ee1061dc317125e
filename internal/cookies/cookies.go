// Package cookies builds the shared cookie store used by every worker's
// HTTP session: a cookiejar.Jar with golang.org/x/net/publicsuffix for
// domain-rejection rules; rejected cookies are dropped silently by the
// jar per RFC 6265.
package cookies

import (
	"net/http"
	"net/http/cookiejar"

	"golang.org/x/net/publicsuffix"
)

// NewJar creates a cookie jar that serializes access internally, safe for
// concurrent use by every worker's HTTP session — the cookie store is
// shared by all workers, and net/http/cookiejar.Jar already guards its
// map with a mutex.
func NewJar() (http.CookieJar, error) {
	return cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
}
