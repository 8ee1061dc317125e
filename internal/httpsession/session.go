// Package httpsession implements the per-worker HTTP session: connection
// reuse, request building, and the redirect/range/conditional fetch logic.
//
// Generalizes backend/http/http.go's httpConnection/addHeaders/statusError
// (a read-only directory-listing client) into a full fetch state machine
// with single-hop redirect surfacing, Range/If-Modified-Since, and
// Metalink/HTTP detection. A Fetch call makes exactly one HTTP request; the
// redirect chain itself is driven by the controller, which re-dispatches
// each hop Fetch reports via OnRedirect as its own job, bounding the chain
// by the job's RedirectionLevel rather than by this package.
package httpsession

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	downerrors "github.com/mgetgo/mwget/internal/errors"
	"github.com/mgetgo/mwget/internal/job"
	"github.com/mgetgo/mwget/internal/log"
)

// Options configures a Session, one field per relevant CLI option.
type Options struct {
	KeepAlive      bool
	UserAgent      string
	ServerResponse bool
	Retries        int // default 3, no backoff on persistent failure
}

// DefaultOptions returns the documented defaults.
func DefaultOptions() Options {
	return Options{KeepAlive: true, Retries: 3}
}

// Session is a per-worker HTTP session: at most one live connection tuple,
// reused across requests to the same (scheme, host, port) — implemented by
// retaining a single *http.Client whose Transport already pools
// connections per host, the natural Go analogue of httpConnection's
// cache-or-reopen logic.
type Session struct {
	opt    Options
	client *http.Client
	jar    http.CookieJar
}

// New creates a Session using jar as the shared cookie store.
func New(opt Options, jar http.CookieJar) *Session {
	transport := &http.Transport{
		DisableKeepAlives: !opt.KeepAlive,
	}
	return &Session{
		opt: opt,
		client: &http.Client{
			Transport: transport,
			Jar:       jar,
			// We drive the redirect/Location logic ourselves, so stop
			// net/http from following redirects itself.
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// Close releases the session's idle connections.
func (s *Session) Close() {
	if t, ok := s.client.Transport.(*http.Transport); ok {
		t.CloseIdleConnections()
	}
}

// Request describes the shape of a single fetch.
type Request struct {
	URI              job.URI
	Part             *job.Part // nil for a whole-file GET
	ContinueDownload bool
	LocalSize        int64 // current local file size, used with ContinueDownload
	Timestamping     bool
	LocalModTime     time.Time // used with Timestamping
	// OnRedirect is invoked once, with the resolved Location, when the
	// single response Fetch receives is a plain redirect; Fetch does not
	// follow it. The caller (the worker) turns it into a "redirect"
	// message so the controller can admit the target as a new job.
	OnRedirect func(job.URI)
}

// Response is a fetched result; Body must be closed by the caller.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
	FinalURI   job.URI
}

// Fetch makes exactly one HTTP request and returns its response — terminal
// (2xx, 4xx/5xx, 304, or a 302 carrying RFC 6249 Metalink/HTTP metadata) or
// a plain redirect, reported via OnRedirect and returned as-is for the
// caller to discard rather than followed here. A NetworkFailure is retried
// with no backoff, for at most Retries attempts in all (at least one);
// persistent failure returns
// (nil, nil) — "no response" for the task.
func (s *Session) Fetch(ctx context.Context, req Request) (*Response, error) {
	for attempt := 0; attempt < max(1, s.opt.Retries); attempt++ {
		resp, err := s.fetchOnce(ctx, req)
		if err == nil {
			return resp, nil
		}
		log.Debugf("fetch attempt %d/%d for %s failed: %v", attempt+1, s.opt.Retries, req.URI, err)
		if ctx.Err() != nil {
			// Canceled/expired context: retrying only repeats the same
			// failure instantly until the loop bound is hit.
			break
		}
		var downErr *downerrors.DownloadError
		if !errors.As(err, &downErr) || downErr.Kind != downerrors.NetworkFailure {
			// Not a transient network condition: a malformed redirect, an
			// undecodable body, or similar is a property of this response
			// and will recur identically on every retry.
			break
		}
	}
	return nil, nil
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func (s *Session) fetchOnce(ctx context.Context, req Request) (*Response, error) {
	current := req.URI
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, current.String(), nil)
	if err != nil {
		return nil, downerrors.New(downerrors.ProtocolError, "build-request", err)
	}
	applyHeaders(httpReq, req, current, s.opt)

	res, err := s.client.Do(httpReq)
	if err != nil {
		return nil, downerrors.New(downerrors.NetworkFailure, "do-request", err)
	}

	if isTerminal(res) {
		body, err := decodeBody(res)
		if err != nil {
			_ = res.Body.Close()
			return nil, downerrors.New(downerrors.ProtocolError, "decode-body", err)
		}
		if s.opt.ServerResponse {
			log.Notef("%s %s", current, res.Status)
		}
		return &Response{
			StatusCode: res.StatusCode,
			Header:     res.Header,
			Body:       body,
			FinalURI:   current,
		}, nil
	}

	// A plain 3xx: resolve Location and notify the caller of the hop, but
	// do not chase it here — the controller re-dispatches the target as
	// its own job, bounding the chain via the job's RedirectionLevel. The
	// caller gets the 3xx response back (empty body) to discard.
	_ = res.Body.Close()
	loc := res.Header.Get("Location")
	if loc == "" {
		return nil, downerrors.New(downerrors.ProtocolError, "redirect-no-location", fmt.Errorf("status %d with no Location", res.StatusCode))
	}
	next, err := job.ResolveURI(current, loc)
	if err != nil {
		return nil, downerrors.New(downerrors.ProtocolError, "redirect-location", err)
	}
	if req.OnRedirect != nil {
		req.OnRedirect(next)
	}
	if s.opt.ServerResponse {
		log.Notef("%s %s", current, res.Status)
	}
	return &Response{
		StatusCode: res.StatusCode,
		Header:     res.Header,
		Body:       http.NoBody,
		FinalURI:   current,
	}, nil
}

func isTerminal(res *http.Response) bool {
	code := res.StatusCode
	switch {
	case code >= 200 && code < 300:
		return true
	case code >= 400 && code < 600:
		return true
	case code == http.StatusNotModified:
		return true
	case code == http.StatusFound && isMetalinkHTTP(res):
		return true
	default:
		return false
	}
}

// isMetalinkHTTP reports whether res carries both RFC 6249 Link entries
// and a Digest header, to be interpreted by the worker as Metalink/HTTP.
func isMetalinkHTTP(res *http.Response) bool {
	return res.Header.Get("Link") != "" && res.Header.Get("Digest") != ""
}

func applyHeaders(httpReq *http.Request, req Request, current job.URI, opt Options) {
	if req.Part != nil {
		httpReq.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", req.Part.Position, req.Part.Position+req.Part.Length-1))
	} else if req.ContinueDownload {
		httpReq.Header.Set("Range", fmt.Sprintf("bytes=%d-", req.LocalSize))
	}
	if req.Timestamping && !req.LocalModTime.IsZero() {
		httpReq.Header.Set("If-Modified-Since", req.LocalModTime.Add(time.Second).UTC().Format(http.TimeFormat))
	}
	httpReq.Header.Set("Accept-Encoding", "gzip")
	httpReq.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	if opt.KeepAlive {
		httpReq.Header.Set("Connection", "keep-alive")
	}
	if opt.UserAgent != "" {
		httpReq.Header.Set("User-Agent", opt.UserAgent)
	}
}

// decodeBody transparently ungzips the body when Content-Encoding: gzip is
// present, since we set Accept-Encoding ourselves (stdlib net/http only
// auto-decodes gzip when the caller doesn't set that header).
func decodeBody(res *http.Response) (io.ReadCloser, error) {
	if res.Header.Get("Content-Encoding") != "gzip" {
		return res.Body, nil
	}
	gz, err := gzip.NewReader(res.Body)
	if err != nil {
		return nil, err
	}
	return &gzipBody{gz: gz, underlying: res.Body}, nil
}

type gzipBody struct {
	gz         *gzip.Reader
	underlying io.ReadCloser
}

func (g *gzipBody) Read(p []byte) (int, error) { return g.gz.Read(p) }
func (g *gzipBody) Close() error {
	_ = g.gz.Close()
	return g.underlying.Close()
}
