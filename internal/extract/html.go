// Package extract implements the link extractor: surfacing outbound
// URIs from HTML and CSS bodies (or local files).
//
// Generalizes an html.Parse + recursive node walk over <a href> to a much
// wider link-bearing attribute set and to <base href> rebasing.
package extract

import (
	"io"
	"strings"

	"github.com/mgetgo/mwget/internal/job"
	"golang.org/x/net/html"
)

// linkAttrs is the set of HTML attributes treated as carrying a URI.
var linkAttrs = map[string]bool{
	"action": true, "archive": true, "background": true, "code": true,
	"codebase": true, "cite": true, "classid": true, "data": true,
	"formaction": true, "href": true, "icon": true, "lowsrc": true,
	"longdesc": true, "manifest": true, "profile": true, "poster": true,
	"src": true, "usemap": true,
}

// HTML walks the tokens of an HTML document, emitting an absolute URI via
// emit for every non-empty, non-"#" attribute value in the link-bearing
// attribute set, resolved against the current base: it starts as base and
// is replaced when a <base href> element is encountered (that href is also
// emitted as a new URI). The caller's base is not modified.
func HTML(r io.Reader, base job.URI, emit func(job.URI)) error {
	doc, err := html.Parse(r)
	if err != nil {
		return err
	}
	current := base
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if n.Data == "base" {
				for _, a := range n.Attr {
					if a.Key == "href" {
						if u, ok := resolve(current, a.Val); ok {
							current = u
							emit(u)
						}
						break
					}
				}
			} else {
				for _, a := range n.Attr {
					if linkAttrs[strings.ToLower(a.Key)] {
						if u, ok := resolve(current, a.Val); ok {
							emit(u)
						}
					}
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return nil
}

// resolve trims, skips empty/"#" values, and resolves ref against base.
func resolve(base job.URI, ref string) (job.URI, bool) {
	ref = strings.TrimSpace(ref)
	if ref == "" || ref == "#" {
		return job.URI{}, false
	}
	u, err := job.ResolveURI(base, ref)
	if err != nil {
		return job.URI{}, false
	}
	return u, true
}
