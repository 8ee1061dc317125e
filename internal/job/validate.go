package job

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"strings"

	downerrors "github.com/mgetgo/mwget/internal/errors"
)

func newHasher(algo string) (hash.Hash, error) {
	switch strings.ToLower(algo) {
	case "sha-256", "sha256":
		return sha256.New(), nil
	case "sha-512", "sha512":
		return sha512.New(), nil
	case "sha-1", "sha1":
		return sha1.New(), nil
	case "md5":
		return md5.New(), nil
	default:
		return nil, fmt.Errorf("unsupported hash algorithm %q", algo)
	}
}

func digestFile(path string, algo string, offset, length int64) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h, err := newHasher(algo)
	if err != nil {
		return "", err
	}
	if offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			return "", err
		}
	}
	var r io.Reader = f
	if length >= 0 {
		r = io.LimitReader(f, length)
	}
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Validate recomputes the whole-file hash(es) (if any) by reading the
// local file at path and comparing against job.Hashes. If all piece
// hashes are present and some pieces are done, it additionally validates
// each completed piece independently; pieces failing verification are
// reset so the controller will reschedule them. HashOK becomes true only
// when every whole-file hash matches.
func Validate(j *Job, path string) error {
	j.Lock()
	defer j.Unlock()

	if len(j.Pieces) > 0 {
		allPiecesHashed := true
		for _, p := range j.Pieces {
			if p.Hash.Algo == "" {
				allPiecesHashed = false
				break
			}
		}
		anyDone := false
		for _, p := range j.Parts {
			if p.Done {
				anyDone = true
				break
			}
		}
		if allPiecesHashed && anyDone {
			for i, piece := range j.Pieces {
				part := j.Parts[i]
				if !part.Done {
					continue
				}
				got, err := digestFile(path, piece.Hash.Algo, piece.Position, piece.Length)
				if err != nil {
					return downerrors.New(downerrors.FilesystemError, "validate-piece", err)
				}
				if !strings.EqualFold(got, piece.Hash.Digest) {
					part.Done = false
					part.InUse = false
				}
			}
		}
	}

	if len(j.Hashes) == 0 {
		// No whole-file hash to check against: treat as trivially OK once
		// every part (if any) is done.
		j.HashOK = len(j.Pieces) == 0 || j.AllPartsDone()
		return nil
	}

	ok := true
	for _, h := range j.Hashes {
		got, err := digestFile(path, h.Algo, 0, -1)
		if err != nil {
			return downerrors.New(downerrors.FilesystemError, "validate", err)
		}
		if !strings.EqualFold(got, h.Digest) {
			ok = false
			break
		}
	}
	j.HashOK = ok
	return nil
}
