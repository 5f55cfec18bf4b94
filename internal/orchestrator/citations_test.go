package orchestrator

import (
	"testing"

	"github.com/koopa0/grounded/internal/core"
)

func TestExtractCitations_Markers(t *testing.T) {
	t.Parallel()

	context := []core.RetrievalResult{
		contextResult("doc:0000", "chunk one"),
		contextResult("doc:0001", "chunk two"),
	}
	answer := "Koalas eat eucalyptus [1]. They sleep most of the day [2]."

	citations := extractCitations(answer, context)
	if len(citations) != 2 {
		t.Fatalf("got %d citations, want 2", len(citations))
	}

	if citations[0].ChunkID != "doc:0000" || citations[1].ChunkID != "doc:0001" {
		t.Errorf("chunk IDs = %s, %s", citations[0].ChunkID, citations[1].ChunkID)
	}

	// First citation spans the first sentence.
	runes := []rune(answer)
	span := string(runes[citations[0].Start:citations[0].End])
	if span != "Koalas eat eucalyptus [1]." {
		t.Errorf("first span = %q", span)
	}
	span = string(runes[citations[1].Start:citations[1].End])
	if span != "They sleep most of the day [2]." {
		t.Errorf("second span = %q", span)
	}
}

func TestExtractCitations_OutOfRangeMarkersDropped(t *testing.T) {
	t.Parallel()

	context := []core.RetrievalResult{contextResult("doc:0000", "only chunk")}
	answer := "Claim [1]. Hallucinated claim [7]. Zero claim [0]."

	citations := extractCitations(answer, context)
	if len(citations) != 1 {
		t.Fatalf("got %d citations, want 1 (out-of-range markers dropped)", len(citations))
	}
	if citations[0].ChunkID != "doc:0000" {
		t.Errorf("chunk ID = %s", citations[0].ChunkID)
	}
}

func TestExtractCitations_EmptyContext(t *testing.T) {
	t.Parallel()

	if c := extractCitations("answer with [1] marker", nil); c != nil {
		t.Errorf("no context should yield no citations, got %d", len(c))
	}
}

func TestExtractCitations_DuplicateMarkersInOneSentence(t *testing.T) {
	t.Parallel()

	context := []core.RetrievalResult{contextResult("doc:0000", "chunk")}
	answer := "Both claims [1] come from the same place [1]."

	citations := extractCitations(answer, context)
	if len(citations) != 1 {
		t.Errorf("got %d citations, want 1 (same chunk, same sentence)", len(citations))
	}
}

func TestExtractCitations_OverlapFallback(t *testing.T) {
	t.Parallel()

	context := []core.RetrievalResult{
		contextResult("doc:0000", "eucalyptus leaves provide koalas hydration"),
		contextResult("doc:0001", "completely unrelated database migration guide"),
	}
	// No markers, but the answer restates the first chunk almost verbatim.
	answer := "Koalas get their hydration from eucalyptus leaves, which provide most of their water."

	citations := extractCitations(answer, context)
	if len(citations) != 1 {
		t.Fatalf("got %d citations, want 1 from overlap", len(citations))
	}
	if citations[0].ChunkID != "doc:0000" {
		t.Errorf("overlap cited %s, want doc:0000", citations[0].ChunkID)
	}
	if citations[0].Start != 0 || citations[0].End != len([]rune(answer)) {
		t.Errorf("overlap citation should span the whole answer, got [%d,%d)",
			citations[0].Start, citations[0].End)
	}
}

func TestExtractCitations_NoMarkersNoOverlap(t *testing.T) {
	t.Parallel()

	context := []core.RetrievalResult{contextResult("doc:0000", "quantum chromodynamics lattice simulations")}
	answer := "I do not know."

	if c := extractCitations(answer, context); len(c) != 0 {
		t.Errorf("unrelated answer should carry no citations, got %d", len(c))
	}
}
