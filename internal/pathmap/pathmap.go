// Package pathmap implements the path mapper: deriving a local
// filesystem path from a URI under a configurable set of rules,
// supplemented by restrict-file-names modes in the style of
// get_local_filename.
package pathmap

import (
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/mgetgo/mwget/internal/job"
)

// RestrictMode names one of mget.c's --restrict-file-names variants.
type RestrictMode int

// Restrict modes, default Unix.
const (
	Unix RestrictMode = iota
	Windows
	NoControl
	ASCII
)

// CaseMode optionally case-folds the escaped path (host, directories,
// file name and query alike).
type CaseMode int

// Case modes.
const (
	CaseDefault CaseMode = iota
	Lowercase
	Uppercase
)

// ParseRestrict parses a --restrict-file-names value of the form
// "unix|windows|nocontrol|ascii" optionally suffixed ",lowercase" or
// ",uppercase", mirroring mget.c's config.restrict_file_names comma-split
// parsing. An empty string yields the Unix/CaseDefault zero values.
func ParseRestrict(s string) (RestrictMode, CaseMode, error) {
	if s == "" {
		return Unix, CaseDefault, nil
	}
	parts := strings.Split(s, ",")
	mode, caseMode := Unix, CaseDefault
	switch parts[0] {
	case "unix", "":
		mode = Unix
	case "windows":
		mode = Windows
	case "nocontrol":
		mode = NoControl
	case "ascii":
		mode = ASCII
	default:
		return Unix, CaseDefault, fmt.Errorf("pathmap: unknown restrict-file-names mode %q", parts[0])
	}
	if len(parts) > 1 {
		switch parts[1] {
		case "lowercase":
			caseMode = Lowercase
		case "uppercase":
			caseMode = Uppercase
		default:
			return Unix, CaseDefault, fmt.Errorf("pathmap: unknown restrict-file-names case suffix %q", parts[1])
		}
	}
	return mode, caseMode, nil
}

// Options mirrors the recognized path-mapping option set.
type Options struct {
	Spider              bool
	OutputDocument       string
	Recursive            bool
	Directories          bool // explicit -nd/-x toggle; see directoriesEnabled
	ForceDirectories     bool
	DirectoryPrefix      string
	ProtocolDirectories  bool
	HostDirectories      bool
	CutDirectories       int
	DeleteAfter          bool
	Restrict             RestrictMode
	Case                 CaseMode
}

// directoriesEnabled decides whether a directory hierarchy should be
// created for this URI, given the recursive/directories/force-directories
// toggles.
func directoriesEnabled(o Options) bool {
	d := o.Recursive
	if !o.Directories {
		d = false
	}
	if o.ForceDirectories {
		d = true
	}
	return d
}

// Map derives the local path for u under o. It returns ("", false) when
// spider/output-document/delete-after mean the caller should use an
// alternate sink or write nothing.
func Map(u job.URI, o Options) (localPath string, ok bool, err error) {
	if o.Spider || o.OutputDocument != "" {
		return "", false, nil
	}

	var b strings.Builder
	if o.DirectoryPrefix != "" {
		b.WriteString(o.DirectoryPrefix)
		b.WriteString("/")
	}

	var fname string
	if directoriesEnabled(o) {
		if o.ProtocolDirectories && u.Scheme() != "" {
			b.WriteString(u.Scheme())
			b.WriteString("/")
		}
		if o.HostDirectories && u.Hostname() != "" {
			b.WriteString(escapeComponent(u.Hostname(), o))
		}
		escapedPath := cutDirectories(escapePath(u.Path(), o), o.CutDirectories)
		if escapedPath == "" || strings.HasSuffix(escapedPath, "/") {
			escapedPath += "index.html"
		}
		if !strings.HasPrefix(escapedPath, "/") && b.Len() > 0 && !strings.HasSuffix(b.String(), "/") {
			b.WriteString("/")
		}
		b.WriteString(escapedPath)
		if u.RawQuery() != "" {
			b.WriteString("?")
			b.WriteString(escapeComponent(u.RawQuery(), o))
		}
		fname = b.String()
	} else {
		base := path.Base(u.Path())
		if base == "." || base == "/" || base == "" {
			base = "index.html"
		}
		b.WriteString(escapeComponent(base, o))
		if u.RawQuery() != "" {
			b.WriteString("?")
			b.WriteString(escapeComponent(u.RawQuery(), o))
		}
		fname = b.String()
	}

	fname = normalizeSlashes(fname)

	if err := assertNoTraversal(fname); err != nil {
		return "", false, err
	}

	if dir := path.Dir(fname); dir != "." && dir != "/" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", false, fmt.Errorf("mkdir -p %q: %w", dir, err)
		}
	}

	if o.DeleteAfter {
		return "", false, nil
	}
	return fname, true, nil
}

// cutDirectories strips n leading slash-separated path components from an
// already-escaped path; if fewer components exist, only the basename is
// kept, in the style of get_local_filename's loop.
func cutDirectories(escapedPath string, n int) string {
	if n <= 0 {
		return escapedPath
	}
	p := strings.TrimPrefix(escapedPath, "/")
	parts := strings.Split(p, "/")
	if n >= len(parts) {
		return parts[len(parts)-1]
	}
	return strings.Join(parts[n:], "/")
}

func normalizeSlashes(p string) string {
	for strings.Contains(p, "//") {
		p = strings.ReplaceAll(p, "//", "/")
	}
	return strings.TrimPrefix(p, "/")
}

// assertNoTraversal is a fatal invariant check: any ".." segment reaching
// the path mapper is a programming error, since it must have been
// normalized away earlier (by URI resolution).
func assertNoTraversal(p string) error {
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return fmt.Errorf("pathmap: internal error: unexpected parent-directory segment in %q", p)
		}
	}
	return nil
}
