// Package controller implements the controller: the fixed worker pool,
// the job queue scheduler, and the dispatch loop that turns agent Events
// into queue/job mutations.
//
// Grounded on a main loop shaped around an initial dispatch-to-every-agent
// pass, a select()-driven receive loop, and "sts"/"ready"/"chunk ..."/
// "add uri"/"redirect" branches: the fan-in worker.Event channel this
// package selects on is the Go-idiomatic substitute for FD_SET/select()
// over per-agent socket pairs.
package controller

import (
	"context"
	"sync"

	"github.com/mgetgo/mwget/internal/config"
	downerrors "github.com/mgetgo/mwget/internal/errors"
	"github.com/mgetgo/mwget/internal/httpsession"
	"github.com/mgetgo/mwget/internal/job"
	"github.com/mgetgo/mwget/internal/lifecycle"
	"github.com/mgetgo/mwget/internal/log"
	"github.com/mgetgo/mwget/internal/pathmap"
	"github.com/mgetgo/mwget/internal/queue"
	"github.com/mgetgo/mwget/internal/stats"
	"github.com/mgetgo/mwget/internal/worker"
)

// Controller owns the queue, blacklist, host-allow set and worker pool for
// one run, and holds the HTTP session (which carries the cookie jar).
type Controller struct {
	opts      *config.Options
	pathOpts  pathmap.Options
	blacklist *job.Blacklist
	hostAllow *job.HostAllow
	queue     *queue.Queue
	lifecycle *lifecycle.Controller
	session   *httpsession.Session
	stats     *stats.Stats

	agents []*agentHandle
	events chan worker.Event

	mu         sync.Mutex
	completed  int
	discovered int
}

type agentHandle struct {
	id   int
	in   chan worker.Assignment
	job  *job.Job
	part *job.Part
}

// New creates a Controller. Cookie handling lives in the given session.
func New(opts *config.Options, pathOpts pathmap.Options, lc *lifecycle.Controller, session *httpsession.Session) *Controller {
	return &Controller{
		opts:      opts,
		pathOpts:  pathOpts,
		blacklist: job.NewBlacklist(),
		queue:     queue.New(),
		lifecycle: lc,
		session:   session,
		stats:     stats.New(),
		events:    make(chan worker.Event, 64),
	}
}

// StatsSummary renders the run's accounting for CLI summary printing.
func (c *Controller) StatsSummary() string {
	return c.stats.String()
}

// Seed admits the initial command-line URIs: each is blacklisted, has its
// local filename computed (unless --output-document routes everything to
// one sink), is pushed onto the queue, and — when recursive without
// span-hosts — contributes its host to the HostAllow set, per mget.c's
// main() argv loop.
func (c *Controller) Seed(rawURIs []string) error {
	var hosts []string
	for _, raw := range rawURIs {
		u, err := job.ParseURI(raw)
		if err != nil {
			return downerrors.New(downerrors.ConfigError, "parse-uri", err)
		}
		admitted, ok := c.blacklist.Admit(u)
		if !ok {
			continue
		}
		filename := c.localFilename(admitted)
		j := job.NewJob(admitted, filename)
		c.queue.Push(j)
		if c.opts.Recursive && !c.opts.SpanHosts {
			hosts = append(hosts, admitted.Hostname())
		}
	}
	if c.opts.Recursive && !c.opts.SpanHosts {
		c.hostAllow = job.NewHostAllow(hosts...)
	}
	return nil
}

// localFilename computes the local path for u via the path mapper,
// returning "" when --output-document/--spider/--delete-after mean
// nothing should be written.
func (c *Controller) localFilename(u job.URI) string {
	if c.opts.OutputDocument != "" {
		return ""
	}
	path, ok, err := pathmap.Map(u, c.pathOpts)
	if err != nil {
		log.Errorf("path mapping failed for %s: %v", u, err)
		return ""
	}
	if !ok {
		return ""
	}
	return path
}

// Run spawns the worker pool, performs the initial dispatch pass, then
// drains agent Events until the queue empties or the lifecycle controller
// signals termination, per mget.c's `while (queue_not_empty())` loop.
func (c *Controller) Run(ctx context.Context) {
	n := c.opts.NumThreads
	if n <= 0 {
		n = 1
	}
	c.agents = make([]*agentHandle, n)
	for i := 0; i < n; i++ {
		h := &agentHandle{id: i, in: make(chan worker.Assignment, 1)}
		c.agents[i] = h
		a := worker.New(i, c.session, c.opts.Recursive, c.opts.Continue, c.opts.Timestamping, c.stats, h.in, c.events)
		go a.Run(ctx)
	}

	for _, h := range c.agents {
		if j, part := c.queue.Pop(); j != nil {
			c.dispatch(h, j, part)
		}
	}

	for c.queue.Any() && !c.lifecycle.Terminated() {
		select {
		case <-ctx.Done():
			c.teardown()
			return
		case ev := <-c.events:
			c.handleEvent(ev)
		}
	}
	c.teardown()
}

// teardown closes every agent's input channel, which causes Agent.Run to
// return once it finishes any in-flight assignment; mget.c instead
// signals SIGTERM to each downloader thread and joins it.
func (c *Controller) teardown() {
	for _, h := range c.agents {
		close(h.in)
	}
}

// dispatch marks j (and part, if any) in-use and sends the matching
// Assignment to agent h, per mget.c's `schedule_download`.
func (c *Controller) dispatch(h *agentHandle, j *job.Job, part *job.Part) {
	j.Lock()
	j.InUse = true
	j.Pending++
	if part != nil {
		part.InUse = true
	}
	j.Unlock()
	h.job = j
	h.part = part
	log.Controllerf("[%d] dispatch %s", h.id, j.URI)
	h.in <- worker.Assignment{Kind: worker.Go, Job: j, Part: part}
}

// schedule assigns part (or, if nil, the whole job j) to the first agent
// without other in-flight work — mget.c's schedule_download loops over
// every downloader and stops at the first idle one; here "idle" means no
// job currently dispatched (the pool size is small and fixed, so a linear
// scan mirrors the original directly).
func (c *Controller) schedule(j *job.Job, part *job.Part) bool {
	for _, h := range c.agents {
		if h.job == nil {
			c.dispatch(h, j, part)
			return true
		}
	}
	return false
}

// handleEvent is the controller's per-message dispatch, mirroring
// mget.c's buf-prefix switch in its main receive loop.
func (c *Controller) handleEvent(ev worker.Event) {
	h := c.agents[ev.AgentID]
	log.Controllerf("[%d] %s", ev.AgentID, ev.Msg)

	switch m := ev.Msg.(type) {
	case worker.Status:
		// informational only.
	case worker.Ready:
		c.handleReady(h)
	case worker.ChunkMirror:
		if h.job != nil {
			h.job.Lock()
			h.job.AddMirror(m.Mirror)
			h.job.Unlock()
		}
	case worker.ChunkHash:
		if h.job != nil {
			h.job.Lock()
			h.job.AddHash(m.Hash)
			h.job.Unlock()
		}
	case worker.ChunkPiece:
		if h.job != nil {
			h.job.Lock()
			h.job.AddPiece(m.Length, m.Hash)
			h.job.Unlock()
		}
	case worker.ChunkName:
		if h.job != nil {
			h.job.Lock()
			h.job.Filename = m.Name
			h.job.Unlock()
		}
	case worker.ChunkSize:
		if h.job != nil {
			h.job.Lock()
			h.job.SetSize(m.Size)
			h.job.Unlock()
		}
	case worker.AddURI:
		c.admitDiscovery(m.URI, h.job, false)
	case worker.Redirect:
		c.admitDiscovery(m.URI, h.job, true)
	}
}

// admitDiscovery handles the "add uri"/"redirect" messages: a redirect is
// dropped once the source job's RedirectionLevel already
// reached max_redirect (the session itself does not follow redirects, so
// this is the only redirect check); the host-allow filter applies to both; surviving URIs
// are admitted to the blacklist, turned into a new Job with its local
// filename computed, and scheduled.
func (c *Controller) admitDiscovery(u job.URI, source *job.Job, isRedirect bool) {
	if isRedirect && source != nil {
		source.Lock()
		level := source.RedirectionLevel
		source.Unlock()
		if level >= c.opts.MaxRedirect {
			return
		}
	}
	if c.hostAllow != nil && !c.hostAllow.Allows(u.Hostname()) {
		return
	}
	admitted, ok := c.blacklist.Admit(u)
	if !ok {
		return
	}
	c.mu.Lock()
	c.discovered++
	c.mu.Unlock()
	filename := c.localFilename(admitted)
	j := job.NewJob(admitted, filename)
	c.queue.Push(j)
	c.schedule(j, nil)
}

// handleReady handles the "ready" message: decide what the
// just-finished job/part means and either finish the job, request a hash
// check, reschedule a failed part, expand a freshly-parsed Metalink job
// into scheduled parts, or hand the agent its next piece of work.
func (c *Controller) handleReady(h *agentHandle) {
	j := h.job
	part := h.part
	h.job = nil
	h.part = nil
	if j == nil {
		c.pump(h)
		return
	}

	j.Lock()
	j.Pending--
	if part != nil && !part.Done {
		j.Failed = true
	}
	failed := j.Failed
	pending := j.Pending
	j.Unlock()

	if failed {
		// Every mirror attempt failed for some part: per the documented
		// exhausted-mirrors resolution, drop the job silently rather than
		// reschedule it forever — but only once every agent still
		// dispatched against it (siblings mid-transfer on other parts)
		// has also reported back, so the job is never torn down while
		// another agent is still writing bytes to the same file.
		if pending == 0 {
			j.Lock()
			j.InUse = false
			j.Unlock()
			c.queue.Remove(j)
		}
		c.pump(h)
		return
	}

	j.Lock()
	hasPieces := len(j.Pieces) > 0
	hashOK := j.HashOK
	j.Unlock()

	switch {
	case !hasPieces || hashOK:
		j.Lock()
		j.InUse = false
		j.Unlock()
		c.queue.Remove(j)
		c.mu.Lock()
		c.completed++
		c.mu.Unlock()
	case j.AllPartsDone():
		if len(j.Hashes) > 0 {
			j.Lock()
			j.Pending++
			j.Unlock()
			h.job = j
			h.in <- worker.Assignment{Kind: worker.CheckHash, Job: j}
			return
		}
		j.Lock()
		j.InUse = false
		j.Unlock()
		c.queue.Remove(j)
	default:
		j.Lock()
		j.InUse = false
		if j.Size <= 0 || len(j.Mirrors) == 0 {
			j.Unlock()
			c.queue.Remove(j)
			break
		}
		j.SortMirrors()
		valid := j.ValidatePieces()
		j.Unlock()
		if !valid {
			log.Errorf("metalink piece lengths do not sum to the reported size for %s", j.URI)
			c.queue.Remove(j)
			break
		}
		c.fanOutParts(j)
	}

	c.pump(h)
}

// fanOutParts schedules every still-schedulable part of a Metalink job
// across the pool, matching mget.c's `for (it...) if (schedule_download
// (...)==0) break`.
func (c *Controller) fanOutParts(j *job.Job) {
	for {
		part := j.NextSchedulablePart()
		if part == nil {
			return
		}
		if !c.schedule(j, part) {
			return
		}
	}
}

// pump assigns h its next piece of work from the queue, if any.
func (c *Controller) pump(h *agentHandle) {
	if j, part := c.queue.Pop(); j != nil {
		c.dispatch(h, j, part)
	}
}

// Stats returns (completed, discovered) job counts, for CLI diagnostics.
func (c *Controller) Stats() (completed, discovered int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.completed, c.discovered
}
