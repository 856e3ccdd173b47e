package recursiveremote

import (
	"bytes"
	"fmt"
	"io"

	"github.com/restic/chunker"
)

// DefaultMaxObjectSize is the segment bound NewSplitter uses when it
// is given 0; config.Resolve supplies its own default when a branch
// has not configured recursive-max-object-size. It matches the order of magnitude the
// upstream DVCS itself uses for loose-object packing before it
// bothers to delta-compress.
const DefaultMaxObjectSize = 8 * 1024 * 1024

// Splitter divides a frame's bytes into a sequence of segments, none
// larger than MaxSize, using restic's content-defined (Rabin
// fingerprint) chunker. This keeps
// any single upstream blob within a predictable size regardless of
// how large the logical object it is part of becomes.
type Splitter struct {
	Poly    chunker.Pol
	MinSize uint
	MaxSize uint
}

// NewSplitter returns a Splitter whose boundaries are bounded by
// maxObjectSize. If maxObjectSize is 0, DefaultMaxObjectSize is used.
// MinSize is set to a quarter of MaxSize.
func NewSplitter(maxObjectSize uint) (*Splitter, error) {
	if maxObjectSize == 0 {
		maxObjectSize = DefaultMaxObjectSize
	}
	poly, err := chunker.RandomPolynomial()
	if err != nil {
		return nil, fmt.Errorf("new splitter: %w", err)
	}
	return &Splitter{
		Poly:    poly,
		MinSize: maxObjectSize / 4,
		MaxSize: maxObjectSize,
	}, nil
}

// Split breaks framed into one or more segments. A frame smaller than
// MaxSize always produces exactly one segment, so small objects pay
// no chunking overhead.
func (s *Splitter) Split(framed []byte) ([][]byte, error) {
	if uint(len(framed)) <= s.MaxSize {
		return [][]byte{framed}, nil
	}
	c := chunker.NewWithBoundaries(bytes.NewReader(framed), s.Poly, s.MinSize, s.MaxSize)
	var segments [][]byte
	buf := make([]byte, s.MaxSize)
	for {
		chunk, err := c.Next(buf)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("split: %w", err)
		}
		segment := make([]byte, len(chunk.Data))
		copy(segment, chunk.Data)
		segments = append(segments, segment)
	}
	return segments, nil
}

// Join reassembles the bytes produced by Split, in order.
func Join(segments [][]byte) []byte {
	var total int
	for _, seg := range segments {
		total += len(seg)
	}
	out := make([]byte, 0, total)
	for _, seg := range segments {
		out = append(out, seg...)
	}
	return out
}
