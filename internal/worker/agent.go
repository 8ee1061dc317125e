// Package worker implements the worker agent: the per-goroutine state
// machine that turns a controller assignment into an HTTP fetch, response
// classification, link/Metalink extraction, and part writes.
//
// A goroutine-per-agent pair of channels stands in for a per-thread
// socketpair-plus-select loop, and handleFetch/handlePart follow the same
// branch structure as a downloader thread's "go" handling and part
// download routine respectively.
package worker

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"

	downerrors "github.com/mgetgo/mwget/internal/errors"
	"github.com/mgetgo/mwget/internal/extract"
	"github.com/mgetgo/mwget/internal/httpsession"
	"github.com/mgetgo/mwget/internal/job"
	"github.com/mgetgo/mwget/internal/log"
	"github.com/mgetgo/mwget/internal/metalink"
	"github.com/mgetgo/mwget/internal/stats"
)

// Agent is one pooled worker: IDLE between assignments, BUSY while
// handling one. Its two states are implicit in Run's blocking receive
// rather than modeled as an explicit field, since nothing outside the
// goroutine ever needs to observe them — the controller infers idleness
// from a pending Ready on Out.
//
// An Agent never calls the path mapper itself: a URI is mapped to a local
// path exactly once, at job admission, and the controller stores the
// result on Job.Filename. An empty Filename means spider/delete-after/
// output-document suppressed persistence for this job, and the agent
// writes nothing.
type Agent struct {
	ID           int
	Token        uuid.UUID
	Session      *httpsession.Session
	Recursive    bool
	Continue     bool
	Timestamping bool
	Stats        *stats.Stats

	In  <-chan Assignment
	Out chan<- Event
}

// New creates an Agent. in/out are owned by the controller; Run drains in
// until it closes or ctx is done. A fresh uuid identifies the agent in log
// lines independent of its pool-slot index, so identity survives a pool
// resize across a run without colliding with a position. st may be nil.
func New(id int, session *httpsession.Session, recursive, cont, timestamping bool, st *stats.Stats, in <-chan Assignment, out chan<- Event) *Agent {
	return &Agent{
		ID: id, Token: uuid.New(), Session: session,
		Recursive: recursive, Continue: cont, Timestamping: timestamping,
		Stats: st, In: in, Out: out,
	}
}

// emit wraps m as an Event tagged with this agent's ID and sends it.
func (a *Agent) emit(m Message) { a.Out <- Event{AgentID: a.ID, Msg: m} }

// Run is the agent's main loop: block for an assignment, handle it fully
// (emitting every intermediate Message on Out), then loop. It returns
// when ctx is done or In is closed, mirroring a `while (!terminate)` loop
// plus its inner `select` on the control socket.
func (a *Agent) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case asn, ok := <-a.In:
			if !ok {
				return
			}
			log.Workerf("[%d/%s] %s", a.ID, a.Token.String()[:8], asn.String())
			switch {
			case asn.Kind == CheckHash:
				a.handleCheckHash(asn.Job)
			case asn.Kind == Go && asn.Part != nil:
				a.handlePart(ctx, asn.Job, asn.Part)
			default:
				a.handleFetch(ctx, asn.Job)
			}
		}
	}
}

// String renders an Assignment the way it would appear as a received
// line, for --debug logging.
func (a Assignment) String() string {
	if a.Kind == CheckHash {
		return "check"
	}
	return "go"
}

// handleCheckHash implements the "check" directive: re-run the integrity
// validator against the local file with no network fetch, the step the
// controller drives after every piece of a Metalink job reports done.
func (a *Agent) handleCheckHash(j *job.Job) {
	j.Lock()
	filename := j.Filename
	j.Unlock()
	if err := job.Validate(j, filename); err != nil {
		log.Errorf("validate failed for %s: %v", filename, err)
	}
	a.emit(Status{Reason: "checked " + filename})
	a.emit(Ready{})
}

// handleFetch implements the whole-file fetch-and-classify path: fetch,
// then branch on Metalink/HTTP, Metalink/XML, or a plain body (possibly
// followed by link extraction) — the "go" branch with a nil part.
func (a *Agent) handleFetch(ctx context.Context, j *job.Job) {
	j.Lock()
	uri := j.URI
	redirLevel := j.RedirectionLevel
	filename := j.Filename
	j.Unlock()

	if a.Stats != nil {
		a.Stats.Transferring(filename)
		defer a.Stats.DoneTransferring(filename)
	}

	req := httpsession.Request{
		URI: uri,
		OnRedirect: func(next job.URI) {
			redirLevel++
			a.emit(Redirect{URI: next})
		},
	}
	if filename != "" {
		if fi, statErr := os.Stat(filename); statErr == nil {
			if a.Continue {
				req.ContinueDownload = true
				req.LocalSize = fi.Size()
			}
			if a.Timestamping {
				req.Timestamping = true
				req.LocalModTime = fi.ModTime()
			}
		}
	}
	resp, err := a.Session.Fetch(ctx, req)
	j.Lock()
	j.RedirectionLevel = redirLevel
	j.Unlock()
	if err != nil {
		if a.Stats != nil {
			a.Stats.Error()
		}
		a.emit(Status{Reason: err.Error()})
		a.emit(Ready{})
		return
	}
	if resp == nil {
		if a.Stats != nil {
			a.Stats.Error()
		}
		a.emit(Status{Reason: "no response"})
		a.emit(Ready{})
		return
	}
	defer resp.Body.Close()

	contentType := resp.Header.Get("Content-Type")

	switch {
	case resp.StatusCode == 302 && resp.Header.Get("Link") != "" && resp.Header.Get("Digest") != "":
		a.classifyMetalinkHTTP(resp)
	case strings.Contains(contentType, "application/metalink4+xml"):
		a.classifyMetalinkXML(resp)
	case resp.StatusCode == 304:
		a.classifyNotModified(filename)
	case resp.StatusCode >= 300 && resp.StatusCode < 400:
		// Plain redirect: already reported via OnRedirect above and
		// followed up as its own job by the controller. Nothing to write
		// or extract from this response.
	default:
		a.classifyBody(resp, uri, filename)
	}

	a.emit(Status{Code: resp.StatusCode, Reason: httpStatusText(resp.StatusCode)})
	a.emit(Ready{})
}

// classifyMetalinkHTTP handles a response carrying RFC 6249 Link headers:
// prefer a describedby .meta4 link, else the lowest-pri duplicate, and
// emit exactly one AddURI for it.
func (a *Agent) classifyMetalinkHTTP(resp *httpsession.Response) {
	entries := parseLinkHeader(resp.Header.Get("Link"))
	target, ok := describedByMetalink(entries)
	if !ok {
		target, ok = lowestPriorityDuplicate(entries)
	}
	if !ok {
		return
	}
	u, err := job.ResolveURI(resp.FinalURI, target)
	if err != nil {
		log.Debugf("metalink/http link unparseable: %v", err)
		return
	}
	a.emit(AddURI{URI: u})
}

// classifyMetalinkXML handles the Metalink/XML branch: parse the body and
// emit one chunk message per mirror/hash/piece/name/size entry, in that
// order.
func (a *Agent) classifyMetalinkXML(resp *httpsession.Response) {
	md, err := metalink.Parse(resp.Body)
	if err != nil {
		log.Debugf("metalink/xml parse failed: %v", err)
		return
	}
	if md.Name != "" {
		a.emit(ChunkName{Name: md.Name})
	}
	if md.Size > 0 {
		a.emit(ChunkSize{Size: md.Size})
	}
	for _, h := range md.Hashes {
		a.emit(ChunkHash{Hash: h})
	}
	lengths := metalink.PieceLengths(md)
	for i, h := range md.Pieces {
		a.emit(ChunkPiece{Length: lengths[i], Hash: h})
	}
	for _, m := range md.Mirrors {
		a.emit(ChunkMirror{Mirror: m})
	}
}

// classifyNotModified handles a 304 response under timestamping and
// recursive: no write; re-extract links from the existing local file by
// extension, since nothing new came over the wire.
func (a *Agent) classifyNotModified(filename string) {
	if !a.Recursive || !a.Timestamping || filename == "" {
		return
	}
	lower := strings.ToLower(filename)
	isHTML := strings.HasSuffix(lower, ".html") || strings.HasSuffix(lower, ".htm")
	isCSS := strings.HasSuffix(lower, ".css")
	if !isHTML && !isCSS {
		return
	}
	f, err := os.Open(filename)
	if err != nil {
		return
	}
	defer f.Close()
	base, err := job.ParseURI("file://" + filename)
	if err != nil {
		return
	}
	emit := func(u job.URI) { a.emit(AddURI{URI: u}) }
	if isHTML {
		_ = extract.HTML(f, base, emit)
	} else {
		_ = extract.CSS(f, base, emit)
	}
}

// classifyBody handles the plain-response path: write the body to its
// local path (unless --spider/--delete-after/--output-document suppress
// that), then, if recursive, extract links from an HTML or CSS body.
func (a *Agent) classifyBody(resp *httpsession.Response, uri job.URI, filename string) {
	body, err := io.ReadAll(stats.NewAccount(a.Stats, resp.Body))
	if err != nil {
		log.Debugf("body read failed for %s: %v", uri, err)
		return
	}
	contentType := resp.Header.Get("Content-Type")

	if filename != "" {
		if writeErr := writeWhole(filename, body, resp.StatusCode == 206); writeErr != nil {
			log.Errorf("write failed for %s: %v", filename, writeErr)
		}
	}

	if !a.Recursive {
		return
	}
	switch {
	case strings.Contains(contentType, "html"):
		_ = extract.HTML(strings.NewReader(string(body)), uri, func(u job.URI) { a.emit(AddURI{URI: u}) })
	case strings.Contains(contentType, "css"):
		_ = extract.CSS(strings.NewReader(string(body)), uri, func(u job.URI) { a.emit(AddURI{URI: u}) })
	}
}

// writeWhole persists body to path, appending when append is true
// (continuation of a partial download) and truncating otherwise.
func writeWhole(path string, body []byte, appendMode bool) error {
	flags := os.O_WRONLY | os.O_CREATE
	if appendMode {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return downerrors.New(downerrors.FilesystemError, "open", err)
	}
	defer f.Close()
	if _, err := f.Write(body); err != nil {
		return downerrors.New(downerrors.FilesystemError, "write", err)
	}
	return nil
}

// maxPartAttempts bounds how many ranged-GET attempts handlePart makes
// before giving up on a piece: one pass over every mirror. Exhausting it
// lets the controller observe a not-done part on Ready and drop the job
// per the documented exhausted-mirrors resolution, instead of retrying
// that piece forever.
const maxPartAttempts = 1

// handlePart selects a mirror by `agent_id mod mirrors.size`, advancing
// round-robin on every attempt, ranged-GETs it, and writes the returned
// bytes at the part's exact offset. It loops until one mirror attempt
// succeeds, every mirror has been tried maxPartAttempts times, or ctx is
// canceled, matching a `do { ... } while (!part->done)` retry loop with a
// bounded attempt count.
func (a *Agent) handlePart(ctx context.Context, j *job.Job, part *job.Part) {
	j.Lock()
	mirrors := append([]job.Mirror(nil), j.Mirrors...)
	filename := j.Filename
	j.Unlock()

	if len(mirrors) == 0 {
		a.emit(Status{Reason: "no mirrors"})
		a.emit(Ready{})
		return
	}

	if a.Stats != nil {
		a.Stats.Transferring(filename)
		defer a.Stats.DoneTransferring(filename)
	}

	a.emit(Status{Reason: "downloading part"})
	idx := a.ID % len(mirrors)
	attempts := len(mirrors) * maxPartAttempts
	for attempt := 0; attempt < attempts; attempt++ {
		select {
		case <-ctx.Done():
			a.emit(Ready{})
			return
		default:
		}

		mirror := mirrors[idx]
		idx = (idx + 1) % len(mirrors)

		resp, err := a.Session.Fetch(ctx, httpsession.Request{URI: mirror.URI, Part: part})
		if err != nil || resp == nil {
			continue
		}
		body, err := io.ReadAll(stats.NewAccount(a.Stats, resp.Body))
		resp.Body.Close()
		if err != nil || int64(len(body)) != part.Length {
			log.Notef("body=%d/%d bytes", len(body), part.Length)
			continue
		}
		if writeErr := writeAt(filename, part.Position, body); writeErr != nil {
			log.Errorf("failed to write part at %d: %v", part.Position, writeErr)
			continue
		}
		part.Done = true
		break
	}
	if !part.Done {
		if a.Stats != nil {
			a.Stats.Error()
		}
		a.emit(Status{Reason: "mirrors exhausted"})
	}
	a.emit(Ready{})
}

// writeAt writes data to path at the given offset, creating the file if
// absent, matching an open(O_WRONLY|O_CREAT) + lseek + write sequence.
func writeAt(path string, offset int64, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE, 0o644)
	if err != nil {
		return downerrors.New(downerrors.FilesystemError, "open", err)
	}
	defer f.Close()
	if _, err := f.WriteAt(data, offset); err != nil {
		return downerrors.New(downerrors.FilesystemError, "write-at", err)
	}
	return nil
}

// httpStatusText returns a short reason phrase for code, used only for
// the informational "sts" line.
func httpStatusText(code int) string {
	switch code {
	case 200:
		return "OK"
	case 204:
		return "No Content"
	case 206:
		return "Partial Content"
	case 304:
		return "Not Modified"
	case 404:
		return "Not Found"
	case 500:
		return "Internal Server Error"
	default:
		return ""
	}
}
