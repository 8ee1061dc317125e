// Package job implements the job/piece/mirror data model and the
// blacklist of already-seen URIs.
package job

import (
	"sort"
	"sync"
)

// Hash is an algorithm name plus hex digest. A Piece contains exactly one.
type Hash struct {
	Algo   string // e.g. "sha-256"
	Digest string // hex
}

// Mirror is an alternate URI from which the same file content can be
// retrieved.
type Mirror struct {
	URI      URI
	Location string // two-letter location code
	Priority int    // lower = higher priority
}

// Piece is a contiguous byte range of a file with an associated hash; the
// unit of parallel retrieval.
type Piece struct {
	Position int64
	Length   int64
	Hash     Hash
}

// Part is an in-flight Piece plus download bookkeeping.
type Part struct {
	Position int64
	Length   int64
	Done     bool
	InUse    bool
}

// Job owns one URI, local filename, redirection state, and — for a
// Metalink resource — parts, pieces, hashes and mirrors.
type Job struct {
	mu sync.Mutex

	URI              URI
	Filename         string
	RedirectionLevel int
	Size             int64 // -1 if unknown
	HasSize          bool

	Parts   []*Part
	Pieces  []Piece
	Hashes  []Hash
	Mirrors []Mirror

	InUse  bool
	HashOK bool

	// Pending counts assignments currently dispatched to an agent for this
	// job (a whole-file fetch, a check-hash, or one part) — more than one
	// at a time for a Metalink job fanned out across the pool. Failed
	// marks a job whose mirrors were exhausted on some part; the
	// controller defers removing it from the queue until Pending reaches
	// zero, so it never tears down while a sibling part is still being
	// written by another agent.
	Pending int
	Failed  bool
}

// NewJob creates a Job for a plain (non-Metalink) URI.
func NewJob(u URI, filename string) *Job {
	return &Job{URI: u, Filename: filename, Size: -1}
}

// Lock/Unlock expose the job's mutex. Both the controller and the worker
// holding the job write to it (a worker sets RedirectionLevel, part Done
// flags and hash results), so shared fields are read and written under it.
func (j *Job) Lock()   { j.mu.Lock() }
func (j *Job) Unlock() { j.mu.Unlock() }

// IsMetalink reports whether this job carries Metalink piece metadata.
func (j *Job) IsMetalink() bool {
	return len(j.Pieces) > 0
}

// AddMirror appends a mirror to the job.
func (j *Job) AddMirror(m Mirror) {
	j.Mirrors = append(j.Mirrors, m)
}

// AddHash appends a whole-file hash.
func (j *Job) AddHash(h Hash) {
	j.Hashes = append(j.Hashes, h)
}

// AddPiece appends a piece, computing its position as the previous piece's
// position+length (first piece at 0), and creates the matching Part.
func (j *Job) AddPiece(length int64, h Hash) {
	var pos int64
	if n := len(j.Pieces); n > 0 {
		prev := j.Pieces[n-1]
		pos = prev.Position + prev.Length
	}
	j.Pieces = append(j.Pieces, Piece{Position: pos, Length: length, Hash: h})
	j.Parts = append(j.Parts, &Part{Position: pos, Length: length})
}

// SetSize records the whole-file size reported by Metalink metadata.
func (j *Job) SetSize(size int64) {
	j.Size = size
	j.HasSize = true
}

// SortMirrors orders mirrors ascending by Priority; ties keep insertion
// order (stable sort).
func (j *Job) SortMirrors() {
	sort.SliceStable(j.Mirrors, func(a, b int) bool {
		return j.Mirrors[a].Priority < j.Mirrors[b].Priority
	})
}

// ValidatePieces checks the invariant that piece positions are contiguous
// starting at 0 and, if a size is known, that pieces sum to it.
func (j *Job) ValidatePieces() bool {
	if len(j.Pieces) == 0 {
		return true
	}
	var total int64
	for _, p := range j.Pieces {
		if p.Position != total {
			return false
		}
		total += p.Length
	}
	if j.HasSize && total != j.Size {
		return false
	}
	return true
}

// AllPartsDone reports whether every part has been written successfully.
func (j *Job) AllPartsDone() bool {
	if len(j.Parts) == 0 {
		return false
	}
	for _, p := range j.Parts {
		if !p.Done {
			return false
		}
	}
	return true
}

// NextSchedulablePart returns the first part that is neither done nor
// in use, or nil if none is available.
func (j *Job) NextSchedulablePart() *Part {
	for _, p := range j.Parts {
		if !p.Done && !p.InUse {
			return p
		}
	}
	return nil
}

// ResetPiece clears done/inuse for the part at the given position so that
// it is scheduled again.
func (j *Job) ResetPiece(position int64) {
	for _, p := range j.Parts {
		if p.Position == position {
			p.Done = false
			p.InUse = false
			return
		}
	}
}

// ResetAllParts clears done/inuse on every part, used when the whole-file
// hash fails after all pieces reported done: reset every piece and retry
// once more.
func (j *Job) ResetAllParts() {
	for _, p := range j.Parts {
		p.Done = false
		p.InUse = false
	}
}
