package extract

import (
	"io"
	"strings"

	"github.com/gorilla/css/scanner"
	"github.com/mgetgo/mwget/internal/job"
)

// CSS walks the url(...) tokens of a CSS document (via
// github.com/gorilla/css/scanner, the CSS token scanner surfaced as an
// indirect dependency of the example pack's gobypass403 repo and promoted
// here to a direct import), applying the same trim/skip rule as the HTML
// extractor and emitting each resolved absolute URI.
func CSS(r io.Reader, base job.URI, emit func(job.URI)) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s := scanner.New(string(data))
	for {
		tok := s.Next()
		if tok.Type == scanner.TokenEOF || tok.Type == scanner.TokenError {
			return nil
		}
		if tok.Type != scanner.TokenURI {
			continue
		}
		ref := unwrapCSSURL(tok.Value)
		if u, ok := resolve(base, ref); ok {
			emit(u)
		}
	}
}

// unwrapCSSURL strips the "url(" / ")" wrapper and any surrounding quotes
// from a scanned CSS URI token's raw value.
func unwrapCSSURL(raw string) string {
	v := strings.TrimSpace(raw)
	v = strings.TrimPrefix(v, "url(")
	v = strings.TrimSuffix(v, ")")
	v = strings.TrimSpace(v)
	if len(v) >= 2 {
		if (v[0] == '"' && v[len(v)-1] == '"') || (v[0] == '\'' && v[len(v)-1] == '\'') {
			v = v[1 : len(v)-1]
		}
	}
	return v
}
