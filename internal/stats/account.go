package stats

import "io"

// Account wraps a response body so every byte read feeds a Stats counter,
// narrowed to counting only — this program has no bwlimit pacer to drive.
type Account struct {
	in    io.ReadCloser
	stats *Stats
}

// NewAccount wraps in so reads through the result are counted against s.
// s may be nil, in which case Account is a transparent pass-through.
func NewAccount(s *Stats, in io.ReadCloser) *Account {
	return &Account{in: in, stats: s}
}

// Read implements io.Reader, counting bytes read into p against stats.
func (a *Account) Read(p []byte) (n int, err error) {
	n, err = a.in.Read(p)
	if n > 0 && a.stats != nil {
		a.stats.Bytes(int64(n))
	}
	return
}

// Close implements io.Closer.
func (a *Account) Close() error {
	return a.in.Close()
}

var _ io.ReadCloser = &Account{}
