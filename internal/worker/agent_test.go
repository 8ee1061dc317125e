package worker

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/mgetgo/mwget/internal/httpsession"
	"github.com/mgetgo/mwget/internal/job"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustURI(t *testing.T, s string) job.URI {
	u, err := job.ParseURI(s)
	require.NoError(t, err)
	return u
}

func TestHandleFetchWritesBodyAndExtractsLinks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><body><a href="/b">x</a></body></html>`))
	}))
	defer srv.Close()

	dir := t.TempDir()
	filename := filepath.Join(dir, "index.html")

	sess := httpsession.New(httpsession.DefaultOptions(), nil)
	defer sess.Close()

	in := make(chan Assignment, 1)
	out := make(chan Event, 16)
	a := New(1, sess, true, false, false, nil, in, out)

	j := job.NewJob(mustURI(t, srv.URL+"/"), filename)
	go a.Run(context.Background())
	in <- Assignment{Kind: Go, Job: j}

	var msgs []Message
	for i := 0; i < 3; i++ {
		msgs = append(msgs, (<-out).Msg)
	}
	var sawLink, sawStatus, sawReady bool
	for _, m := range msgs {
		switch v := m.(type) {
		case AddURI:
			assert.Equal(t, srv.URL+"/b", v.URI.Normalized())
			sawLink = true
		case Status:
			assert.Equal(t, http.StatusOK, v.Code)
			sawStatus = true
		case Ready:
			sawReady = true
		}
	}
	assert.True(t, sawLink)
	assert.True(t, sawStatus)
	assert.True(t, sawReady)

	body, err := os.ReadFile(filename)
	require.NoError(t, err)
	assert.Contains(t, string(body), "<a href=\"/b\">x</a>")
}

func TestHandleFetchReportsRedirectWithoutFollowingIt(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/a", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/b", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/b", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("x"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	sess := httpsession.New(httpsession.DefaultOptions(), nil)
	defer sess.Close()

	in := make(chan Assignment, 1)
	out := make(chan Event, 16)
	a := New(1, sess, false, false, false, nil, in, out)

	j := job.NewJob(mustURI(t, srv.URL+"/a"), "")
	go a.Run(context.Background())
	in <- Assignment{Kind: Go, Job: j}

	var redirects int
	for i := 0; i < 3; i++ {
		if _, ok := (<-out).Msg.(Redirect); ok {
			redirects++
		}
	}
	assert.Equal(t, 1, redirects)
	assert.Equal(t, 1, j.RedirectionLevel)
}

func TestHandlePartWritesAtOffset(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPartialContent)
		_, _ = w.Write([]byte("bb"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	filename := filepath.Join(dir, "out.bin")
	require.NoError(t, os.WriteFile(filename, []byte("aabb"), 0o644))

	sess := httpsession.New(httpsession.DefaultOptions(), nil)
	defer sess.Close()

	in := make(chan Assignment, 1)
	out := make(chan Event, 16)
	a := New(1, sess, false, false, false, nil, in, out)

	j := job.NewJob(mustURI(t, srv.URL), filename)
	j.AddMirror(job.Mirror{URI: mustURI(t, srv.URL)})
	part := &job.Part{Position: 2, Length: 2}

	go a.Run(context.Background())
	in <- Assignment{Kind: Go, Job: j, Part: part}

	for i := 0; i < 2; i++ {
		<-out
	}
	assert.True(t, part.Done)

	got, err := os.ReadFile(filename)
	require.NoError(t, err)
	assert.Equal(t, "aabb", string(got))
}
