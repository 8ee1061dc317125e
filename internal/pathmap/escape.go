package pathmap

import (
	"fmt"
	"strings"
)

// escapePath escapes every '/'-separated component of p independently,
// preserving the separators, then applies case folding once over the
// whole result.
func escapePath(p string, o Options) string {
	if p == "" {
		return ""
	}
	parts := strings.Split(p, "/")
	for i, part := range parts {
		parts[i] = escapeRaw(part, o.Restrict)
	}
	joined := strings.Join(parts, "/")
	return applyCase(joined, o.Case)
}

// escapeComponent escapes a single path/query component and applies case
// folding, per mget.c's restrict-file-names handling.
func escapeComponent(s string, o Options) string {
	return applyCase(escapeRaw(s, o.Restrict), o.Case)
}

func applyCase(s string, c CaseMode) string {
	switch c {
	case Lowercase:
		return strings.ToLower(s)
	case Uppercase:
		return strings.ToUpper(s)
	default:
		return s
	}
}

// escapeRaw percent-escapes characters disallowed by the given restrict
// mode. Unix escapes NUL and '/'; Windows additionally escapes
// \ < > : " | ? * and control characters; NoControl escapes characters
// below 0x20; ASCII escapes anything above 0x7E. Per mget.c's
// --restrict-file-names modes.
func escapeRaw(s string, mode RestrictMode) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if mustEscape(c, mode) {
			fmt.Fprintf(&b, "%%%02X", c)
		} else {
			b.WriteByte(c)
		}
	}
	return b.String()
}

func mustEscape(c byte, mode RestrictMode) bool {
	if c == 0 || c == '/' {
		return true
	}
	switch mode {
	case Windows:
		if c < 0x20 {
			return true
		}
		switch c {
		case '\\', '<', '>', ':', '"', '|', '?', '*':
			return true
		}
		return false
	case NoControl:
		return c < 0x20
	case ASCII:
		return c < 0x20 || c > 0x7E
	default: // Unix
		return false
	}
}
