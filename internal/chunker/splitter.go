// Package chunker splits extracted document text into overlapping windows for indexing.
package chunker

import (
	"fmt"
	"strings"
	"unicode"
)

// Separators in preference order: paragraph, line, sentence, word.
// When none fits inside the window the cut falls on a rune boundary.
var defaultSeparators = []string{"\n\n", "\n", ". ", " "}

// window is a half-open rune range [start, end) of the source text.
type window struct {
	start, end int
}

// Splitter produces deterministic overlapping chunks of at most size runes.
type Splitter struct {
	size       int
	overlap    int
	separators [][]rune
}

// New creates a Splitter. overlap must be in [0, size).
func New(size, overlap int) (*Splitter, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("chunk overlap must be in [0, %d), got %d", size, overlap)
	}
	seps := make([][]rune, len(defaultSeparators))
	for i, s := range defaultSeparators {
		seps[i] = []rune(s)
	}
	return &Splitter{size: size, overlap: overlap, separators: seps}, nil
}

// Split is a convenience wrapper around New(size, overlap).Split(text).
// Invalid parameters yield no chunks.
func Split(text string, size, overlap int) []string {
	s, err := New(size, overlap)
	if err != nil {
		return nil
	}
	return s.Split(text)
}

// Split returns the chunk texts. Empty or whitespace-only input returns nil.
// Whitespace-only windows are dropped.
func (s *Splitter) Split(text string) []string {
	runes := []rune(text)
	spans := s.spans(runes)
	if len(spans) == 0 {
		return nil
	}
	out := make([]string, 0, len(spans))
	for _, w := range spans {
		chunk := string(runes[w.start:w.end])
		if strings.TrimSpace(chunk) == "" {
			continue
		}
		out = append(out, chunk)
	}
	return out
}

// spans returns the windows Split cuts, including whitespace-only ones.
func (s *Splitter) spans(runes []rune) []window {
	if isBlank(runes) {
		return nil
	}

	n := len(runes)
	var spans []window
	start := 0
	for {
		end := min(start+s.size, n)
		if end < n {
			end = s.breakPoint(runes, start, end)
		}
		spans = append(spans, window{start: start, end: end})
		if end >= n {
			return spans
		}
		start = s.nextStart(runes, start, end)
	}
}

// breakPoint picks the cut for a full window [start, hi). Only cuts past the
// midpoint between the overlap and the window end are considered so every step
// advances by at least half the stride.
func (s *Splitter) breakPoint(runes []rune, start, hi int) int {
	lo := start + s.overlap + (s.size-s.overlap)/2
	for _, sep := range s.separators {
		if p := lastCut(runes, lo, hi, sep); p > 0 {
			return p
		}
	}
	return hi
}

// nextStart begins the next window overlap runes before end, moved back to the
// start of a word when one is within reach. The result stays strictly after start.
func (s *Splitter) nextStart(runes []rune, start, end int) int {
	next := end - s.overlap
	if next <= start {
		return start + 1
	}
	floor := max(start+1, next-s.overlap)
	for p := next; p > floor; p-- {
		if unicode.IsSpace(runes[p-1]) {
			return p
		}
	}
	return next
}

// lastCut returns the largest position p in (lo, hi] such that runes[p-len(sep):p]
// equals sep, or 0 when there is none.
func lastCut(runes []rune, lo, hi int, sep []rune) int {
	for p := hi; p > lo && p >= len(sep); p-- {
		if matchAt(runes, p-len(sep), sep) {
			return p
		}
	}
	return 0
}

func matchAt(runes []rune, i int, sep []rune) bool {
	for j, r := range sep {
		if runes[i+j] != r {
			return false
		}
	}
	return true
}

func isBlank(runes []rune) bool {
	for _, r := range runes {
		if !unicode.IsSpace(r) {
			return false
		}
	}
	return true
}
