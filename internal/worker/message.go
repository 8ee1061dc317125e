package worker

import (
	"fmt"

	"github.com/mgetgo/mwget/internal/job"
)

// AssignmentKind distinguishes the two directives a controller can hand
// an idle agent, spelled "check" and "go" on the wire.
type AssignmentKind int

// Assignment kinds. Go with a nil Part is a whole-file fetch-and-classify;
// Go with a Part is a single-piece ranged download; CheckHash re-validates
// an already-downloaded file's hash without any network fetch (sent after
// every piece of a Metalink job reports done).
const (
	Go AssignmentKind = iota
	CheckHash
)

// Assignment is the controller-to-agent half of the per-agent channel
// pair.
type Assignment struct {
	Kind AssignmentKind
	Job  *job.Job
	Part *job.Part
}

// Event pairs a Message with the ID of the agent that emitted it. All
// agents in a pool share one Out channel of Events, the fan-in the
// controller selects on — the Go analogue of a select() loop over every
// downloader's socket pair. Per agent, messages are totally ordered FIFO;
// across agents no ordering is guaranteed.
type Event struct {
	AgentID int
	Msg     Message
}

// Message is the agent-to-controller half of the channel pair. Every
// implementation's String method renders the message as an ASCII line in
// the style of a wire protocol, kept even though no literal socket carries
// it, so that --verbose / --debug logging matches the grammar exactly.
type Message interface {
	String() string
}

// Status is "sts <code> <reason>" — informational only.
type Status struct {
	Code   int
	Reason string
}

func (s Status) String() string { return fmt.Sprintf("sts %d %s", s.Code, s.Reason) }

// Ready is "ready": the agent is idle and awaiting its next assignment.
type Ready struct{}

func (Ready) String() string { return "ready" }

// AddURI is "add uri <u>": a newly discovered link, unrelated to a
// redirect chain, admitted via the same blacklist/host-allow pipeline as
// a Redirect.
type AddURI struct{ URI job.URI }

func (a AddURI) String() string { return "add uri " + a.URI.Normalized() }

// Redirect is "redirect <u>": the Location target of a plain 3xx response,
// which the session reports but does not follow. Unlike AddURI it is
// checked against the source job's RedirectionLevel before admission.
type Redirect struct{ URI job.URI }

func (r Redirect) String() string { return "redirect " + r.URI.Normalized() }

// ChunkMirror is "chunk mirror <LL> <pri> <uri>".
type ChunkMirror struct{ Mirror job.Mirror }

func (c ChunkMirror) String() string {
	return fmt.Sprintf("chunk mirror %s %d %s", c.Mirror.Location, c.Mirror.Priority, c.Mirror.URI.Normalized())
}

// ChunkHash is "chunk hash <algo> <hexdigest>" — a whole-file hash.
type ChunkHash struct{ Hash job.Hash }

func (c ChunkHash) String() string { return fmt.Sprintf("chunk hash %s %s", c.Hash.Algo, c.Hash.Digest) }

// ChunkPiece is "chunk piece <len> <algo> <hexdigest>".
type ChunkPiece struct {
	Length int64
	Hash   job.Hash
}

func (c ChunkPiece) String() string {
	return fmt.Sprintf("chunk piece %d %s %s", c.Length, c.Hash.Algo, c.Hash.Digest)
}

// ChunkName is "chunk name <filename>".
type ChunkName struct{ Name string }

func (c ChunkName) String() string { return "chunk name " + c.Name }

// ChunkSize is "chunk size <bytes>".
type ChunkSize struct{ Size int64 }

func (c ChunkSize) String() string { return fmt.Sprintf("chunk size %d", c.Size) }
