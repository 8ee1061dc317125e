// Package metalink decodes RFC 5854 Metalink/XML documents into the
// mirror/piece/hash/name/size vectors the controller appends to a Job's
// "chunk ..." stream.
//
// Built on stdlib encoding/xml since no available library ships an RFC
// 5854 decoder to adopt (see DESIGN.md).
package metalink

import (
	"encoding/xml"
	"io"

	downerrors "github.com/mgetgo/mwget/internal/errors"
	"github.com/mgetgo/mwget/internal/job"
)

type metalinkXML struct {
	XMLName xml.Name   `xml:"metalink"`
	Files   []fileXML  `xml:"file"`
}

type fileXML struct {
	Name    string    `xml:"name,attr"`
	Size    int64     `xml:"size"`
	Hashes  []hashXML `xml:"hash"`
	Pieces  piecesXML `xml:"pieces"`
	Mirrors []urlXML  `xml:"url"`
}

type hashXML struct {
	Type  string `xml:"type,attr"`
	Value string `xml:",chardata"`
}

type piecesXML struct {
	Type   string    `xml:"type,attr"`
	Length int64     `xml:"length,attr"`
	Hashes []hashXML `xml:"hash"`
}

type urlXML struct {
	Location string `xml:"location,attr"`
	Priority int    `xml:"priority,attr"`
	Value    string `xml:",chardata"`
}

// Metadata is the decoded result for a single file entry, ready to be
// turned into "chunk ..." messages by the worker.
type Metadata struct {
	Name    string
	Size    int64
	Hashes  []job.Hash
	Pieces  []job.Hash // one Hash per piece, in order; piece length is Length
	Length  int64      // per-piece length (last piece may be shorter, derived from Size)
	Mirrors []job.Mirror
}

// Parse decodes a Metalink/XML document, returning metadata for its first
// file entry (this program, like mget.c, downloads a single target per
// job and does not fan out across multiple <file> entries in one
// document).
func Parse(r io.Reader) (*Metadata, error) {
	var doc metalinkXML
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, downerrors.New(downerrors.ProtocolError, "metalink-decode", err)
	}
	if len(doc.Files) == 0 {
		return nil, downerrors.New(downerrors.ProtocolError, "metalink-decode", io.ErrUnexpectedEOF)
	}
	f := doc.Files[0]

	md := &Metadata{Name: f.Name, Size: f.Size, Length: f.Pieces.Length}
	for _, h := range f.Hashes {
		md.Hashes = append(md.Hashes, job.Hash{Algo: h.Type, Digest: h.Value})
	}
	for _, h := range f.Pieces.Hashes {
		md.Pieces = append(md.Pieces, job.Hash{Algo: h.Type, Digest: h.Value})
	}
	for _, u := range f.Mirrors {
		parsed, err := job.ParseURI(u.Value)
		if err != nil {
			continue // malformed mirror URL: skip, don't fail the whole document
		}
		md.Mirrors = append(md.Mirrors, job.Mirror{URI: parsed, Location: u.Location, Priority: u.Priority})
	}
	return md, nil
}

// PieceLengths returns the per-piece length for md.Pieces, in order: md.Length
// for every piece except the last, which is clamped to whatever remains of
// md.Size. This is the single source of truth for keeping the sum of piece
// lengths equal to the reported size when Size is not an exact multiple of
// Length; both ApplyTo and the live chunk-streaming path
// (worker.classifyMetalinkXML) call it instead of each computing the
// remainder independently.
func PieceLengths(md *Metadata) []int64 {
	lengths := make([]int64, len(md.Pieces))
	remaining := md.Size
	for i := range md.Pieces {
		length := md.Length
		if length > remaining {
			length = remaining
		}
		if length < 0 {
			length = 0
		}
		lengths[i] = length
		remaining -= length
	}
	return lengths
}

// ApplyTo installs the decoded metadata onto j, computing contiguous piece
// positions and per-piece length (the last piece may be shorter than
// Length, sized from the remainder of Size).
func ApplyTo(j *job.Job, md *Metadata) {
	j.Lock()
	defer j.Unlock()
	if md.Name != "" {
		j.Filename = md.Name
	}
	if md.Size > 0 {
		j.SetSize(md.Size)
	}
	for _, h := range md.Hashes {
		j.AddHash(h)
	}
	for i, length := range PieceLengths(md) {
		j.AddPiece(length, md.Pieces[i])
	}
	for _, m := range md.Mirrors {
		j.AddMirror(m)
	}
}
