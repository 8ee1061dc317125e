// Package log is a small level-gated global logger with the
// Debugf(format, args...)-shaped call convention used across this
// codebase, e.g. the call sites in backend/http/http.go.
package log

import (
	"fmt"
	"io"
	"os"
	"sync"
)

// Level controls verbosity.
type Level int

// Levels, least to most verbose.
const (
	Quiet Level = iota
	Normal
	Verbose
	Debug
)

var (
	mu     sync.Mutex
	level  = Normal
	output io.Writer = os.Stderr
)

// SetLevel sets the global verbosity level.
func SetLevel(l Level) {
	mu.Lock()
	defer mu.Unlock()
	level = l
}

// SetOutput redirects log output, primarily for tests.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	output = w
}

func printf(prefix, format string, a ...interface{}) {
	mu.Lock()
	w := output
	mu.Unlock()
	fmt.Fprintf(w, "%s %s\n", prefix, fmt.Sprintf(format, a...))
}

// Debugf logs at Debug level only.
func Debugf(format string, a ...interface{}) {
	mu.Lock()
	l := level
	mu.Unlock()
	if l >= Debug {
		printf("#", format, a...)
	}
}

// Logf logs at Normal level and above.
func Logf(format string, a ...interface{}) {
	mu.Lock()
	l := level
	mu.Unlock()
	if l >= Normal {
		printf("#", format, a...)
	}
}

// Errorf always logs, regardless of level.
func Errorf(format string, a ...interface{}) {
	printf("#", format, a...)
}

// Controllerf logs a controller-side receipt, prefixed "-" per the error
// handling design's per-iteration log line convention.
func Controllerf(format string, a ...interface{}) {
	mu.Lock()
	l := level
	mu.Unlock()
	if l >= Verbose {
		printf("-", format, a...)
	}
}

// Workerf logs a worker-side receipt, prefixed "+".
func Workerf(format string, a ...interface{}) {
	mu.Lock()
	l := level
	mu.Unlock()
	if l >= Verbose {
		printf("+", format, a...)
	}
}

// Notef logs an internal progress note, prefixed "#".
func Notef(format string, a ...interface{}) {
	mu.Lock()
	l := level
	mu.Unlock()
	if l >= Normal {
		printf("#", format, a...)
	}
}
