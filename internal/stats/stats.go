// Package stats implements run-wide accounting: bytes transferred, errors,
// and which jobs are currently transferring or being checked, for the
// end-of-run summary and --verbose progress lines.
//
// Adapted from a per-remote-file transfer accounting scheme to this
// program's per-job notion of "transferring"/"checking".
package stats

import (
	"bytes"
	"fmt"
	"strings"
	"sync"
	"time"
)

// StringSet holds a set of names, used to list in-flight jobs in the
// summary.
type StringSet map[string]bool

// Strings returns the set's members in no particular order.
func (ss StringSet) Strings() []string {
	out := make([]string, 0, len(ss))
	for k := range ss {
		out = append(out, k)
	}
	return out
}

// String joins the set's members with ", ".
func (ss StringSet) String() string {
	return strings.Join(ss.Strings(), ", ")
}

// Stats accumulates byte/error/check/transfer counters for one run, guarded
// by a single RWMutex.
type Stats struct {
	mu           sync.RWMutex
	bytesDone    int64
	errors       int64
	checks       int64
	checking     StringSet
	transfers    int64
	transferring StringSet
	start        time.Time
}

// New creates an empty Stats with its clock started.
func New() *Stats {
	return &Stats{
		checking:     make(StringSet),
		transferring: make(StringSet),
		start:        time.Now(),
	}
}

// Bytes adds n to the running byte total.
func (s *Stats) Bytes(n int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bytesDone += n
}

// Error records one failed job/part.
func (s *Stats) Error() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors++
}

// Transferring marks name as actively downloading.
func (s *Stats) Transferring(name string) {
	if name == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transferring[name] = true
}

// DoneTransferring retires name from the in-flight set and counts it.
func (s *Stats) DoneTransferring(name string) {
	if name == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.transferring, name)
	s.transfers++
}

// Checking marks name as undergoing hash validation.
func (s *Stats) Checking(name string) {
	if name == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checking[name] = true
}

// DoneChecking retires name from the in-flight check set and counts it.
func (s *Stats) DoneChecking(name string) {
	if name == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.checking, name)
	s.checks++
}

// String renders the end-of-run summary, narrowed to this program's fields
// (no upload-speed counters: every transfer here is a fetch, never a push).
func (s *Stats) String() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	dt := time.Since(s.start)
	speed := 0.0
	if secs := dt.Seconds(); secs > 0 {
		speed = float64(s.bytesDone) / 1024 / secs
	}
	buf := &bytes.Buffer{}
	fmt.Fprintf(buf, `
Transferred:   %10d Bytes (%7.2f kByte/s)
Errors:        %10d
Checks:        %10d
Transfers:     %10d
Elapsed time:  %v
`,
		s.bytesDone, speed, s.errors, s.checks, s.transfers, dt)
	if len(s.checking) > 0 {
		fmt.Fprintf(buf, "Checking:      %s\n", s.checking)
	}
	if len(s.transferring) > 0 {
		fmt.Fprintf(buf, "Transferring:  %s\n", s.transferring)
	}
	return buf.String()
}
