// Package ingest turns documents into embedded chunks and commits them to a
// vector store. The pipeline is atomic per document: either every chunk is
// embedded and stored, or the store keeps whatever it held before.
package ingest

import (
	"fmt"
	"strings"
)

// Chunker splits document text into overlapping windows measured in runes.
// Split points prefer natural boundaries near the window end: a paragraph
// break first, then a sentence end, then any whitespace, falling back to a
// hard cut when the window contains none.
type Chunker struct {
	size    int // window size in runes
	overlap int // runes shared between consecutive chunks
}

// NewChunker validates the parameters. Overlap must be smaller than size or
// the window could never advance.
func NewChunker(size, overlap int) (*Chunker, error) {
	if size < 1 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("chunk overlap must be in [0, size), got %d with size %d", overlap, size)
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

// span is a half-open rune range with its text.
type span struct {
	text       string
	start, end int
}

// Split returns the chunk spans of text in document order. Empty or
// whitespace-only text yields no spans.
func (c *Chunker) Split(text string) []span {
	runes := []rune(text)
	if len(strings.TrimSpace(text)) == 0 {
		return nil
	}

	var spans []span
	start := 0
	for start < len(runes) {
		end := start + c.size
		if end >= len(runes) {
			end = len(runes)
		} else {
			end = c.cutPoint(runes, start, end)
		}

		if s := strings.TrimSpace(string(runes[start:end])); s != "" {
			spans = append(spans, span{
				text:  string(runes[start:end]),
				start: start,
				end:   end,
			})
		}

		if end == len(runes) {
			break
		}
		next := end - c.overlap
		// The window must always advance, overlap or not.
		if next <= start {
			next = start + 1
		}
		start = next
	}
	return spans
}

// cutPoint searches backwards from the window end for the best boundary. The
// search stays in the back half of the window so boundary-seeking never
// produces tiny chunks.
func (c *Chunker) cutPoint(runes []rune, start, end int) int {
	floor := start + c.size/2

	if p := lastBoundary(runes, floor, end, isParagraphBreak); p > 0 {
		return p
	}
	if p := lastBoundary(runes, floor, end, isSentenceEnd); p > 0 {
		return p
	}
	if p := lastBoundary(runes, floor, end, isSpace); p > 0 {
		return p
	}
	return end
}

// lastBoundary returns one past the rightmost boundary position in
// [floor, end), or 0 when none exists.
func lastBoundary(runes []rune, floor, end int, match func([]rune, int) bool) int {
	for i := end - 1; i >= floor; i-- {
		if match(runes, i) {
			return i + 1
		}
	}
	return 0
}

func isParagraphBreak(runes []rune, i int) bool {
	return runes[i] == '\n' && i > 0 && runes[i-1] == '\n'
}

func isSentenceEnd(runes []rune, i int) bool {
	switch runes[i] {
	case '.', '!', '?':
	default:
		return false
	}
	// A sentence end is followed by whitespace or nothing; "3.14" is not a
	// boundary.
	return i+1 >= len(runes) || isSpace(runes, i+1)
}

func isSpace(runes []rune, i int) bool {
	switch runes[i] {
	case ' ', '\t', '\n', '\r':
		return true
	}
	return false
}
