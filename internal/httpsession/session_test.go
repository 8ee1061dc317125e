package httpsession

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/mgetgo/mwget/internal/job"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustURI(t *testing.T, s string) job.URI {
	u, err := job.ParseURI(s)
	require.NoError(t, err)
	return u
}

func TestFetchSimpleGet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("hello"))
	}))
	defer srv.Close()

	sess := New(DefaultOptions(), nil)
	defer sess.Close()

	resp, err := sess.Fetch(context.Background(), Request{URI: mustURI(t, srv.URL)})
	require.NoError(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "hello", string(body))
}

func TestFetchReportsRedirectAndDoesNotFollowIt(t *testing.T) {
	var followedB bool
	mux := http.NewServeMux()
	mux.HandleFunc("/a", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/b", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/b", func(w http.ResponseWriter, r *http.Request) {
		followedB = true
		_, _ = w.Write([]byte("x"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	sess := New(DefaultOptions(), nil)
	defer sess.Close()

	var notified []string
	resp, err := sess.Fetch(context.Background(), Request{
		URI: mustURI(t, srv.URL+"/a"),
		OnRedirect: func(u job.URI) {
			notified = append(notified, u.Normalized())
		},
	})
	require.NoError(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMovedPermanently, resp.StatusCode)
	require.Len(t, notified, 1, "the single hop should notify exactly once")
	assert.False(t, followedB, "Fetch must not chase the redirect itself")
}

func TestFetchRedirectLoopReturnsImmediatelyWithoutHanging(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/loop", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/loop", http.StatusFound)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	sess := New(DefaultOptions(), nil)
	defer sess.Close()

	var notified []string
	resp, err := sess.Fetch(context.Background(), Request{
		URI: mustURI(t, srv.URL+"/loop"),
		OnRedirect: func(u job.URI) {
			notified = append(notified, u.Normalized())
		},
	})
	require.NoError(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	require.Len(t, notified, 1, "a single fetch only ever reports one hop; the controller bounds the chain")
}

func TestFetchRangeHeaderForPart(t *testing.T) {
	var gotRange string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRange = r.Header.Get("Range")
		w.WriteHeader(http.StatusPartialContent)
	}))
	defer srv.Close()

	sess := New(DefaultOptions(), nil)
	defer sess.Close()

	part := &job.Part{Position: 100, Length: 50}
	resp, err := sess.Fetch(context.Background(), Request{URI: mustURI(t, srv.URL), Part: part})
	require.NoError(t, err)
	require.NotNil(t, resp)
	resp.Body.Close()
	assert.Equal(t, "bytes=100-149", gotRange)
}

func TestFetchDoesNotRetryProtocolErrors(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusMovedPermanently) // no Location: a ProtocolError, not transient
	}))
	defer srv.Close()

	opt := DefaultOptions()
	opt.Retries = 3
	sess := New(opt, nil)
	defer sess.Close()

	resp, err := sess.Fetch(context.Background(), Request{URI: mustURI(t, srv.URL)})
	require.NoError(t, err)
	assert.Nil(t, resp)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits), "a malformed-redirect ProtocolError must not be retried")
}

func TestFetch304NotModified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotModified)
	}))
	defer srv.Close()

	sess := New(DefaultOptions(), nil)
	defer sess.Close()

	resp, err := sess.Fetch(context.Background(), Request{URI: mustURI(t, srv.URL)})
	require.NoError(t, err)
	require.NotNil(t, resp)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotModified, resp.StatusCode)
}
