package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/koopa0/grounded/internal/core"
)

func chunk(doc string, ordinal int, text string, embedding []float32) core.Chunk {
	return core.Chunk{
		ID:         fmt.Sprintf("%s:%04d", doc, ordinal),
		DocumentID: doc,
		Ordinal:    ordinal,
		Text:       text,
		Metadata:   map[string]string{"source": doc},
		Embedding:  embedding,
	}
}

func TestMemory_QueryOrdering(t *testing.T) {
	t.Parallel()

	m := NewMemory()
	ctx := context.Background()

	err := m.Upsert(ctx, []core.Chunk{
		chunk("doc", 0, "exact match", []float32{1, 0, 0}),
		chunk("doc", 1, "orthogonal", []float32{0, 1, 0}),
		chunk("doc", 2, "close", []float32{0.9, 0.1, 0}),
	})
	if err != nil {
		t.Fatalf("Upsert() = %v", err)
	}

	results, err := m.Query(ctx, []float32{1, 0, 0}, 3, nil)
	if err != nil {
		t.Fatalf("Query() = %v", err)
	}

	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	if results[0].Chunk.ID != "doc:0000" || results[1].Chunk.ID != "doc:0002" {
		t.Errorf("order = [%s %s %s], want exact then close then orthogonal",
			results[0].Chunk.ID, results[1].Chunk.ID, results[2].Chunk.ID)
	}
	for i := 1; i < len(results); i++ {
		if results[i].Score > results[i-1].Score {
			t.Errorf("scores not descending at %d: %g > %g",
				i, results[i].Score, results[i-1].Score)
		}
	}
}

func TestMemory_QueryEmptyIndex(t *testing.T) {
	t.Parallel()

	m := NewMemory()
	_, err := m.Query(context.Background(), []float32{1, 0, 0}, 5, nil)
	if !errors.Is(err, ErrEmptyIndex) {
		t.Errorf("Query() = %v, want ErrEmptyIndex", err)
	}
}

func TestMemory_QueryTieBreaksByID(t *testing.T) {
	t.Parallel()

	m := NewMemory()
	ctx := context.Background()

	// Identical embeddings yield identical scores.
	err := m.Upsert(ctx, []core.Chunk{
		chunk("b", 0, "same", []float32{1, 0, 0}),
		chunk("a", 0, "same", []float32{1, 0, 0}),
	})
	if err != nil {
		t.Fatalf("Upsert() = %v", err)
	}

	results, err := m.Query(ctx, []float32{1, 0, 0}, 2, nil)
	if err != nil {
		t.Fatalf("Query() = %v", err)
	}
	if results[0].Chunk.ID != "a:0000" {
		t.Errorf("tie should break by chunk ID, got %s first", results[0].Chunk.ID)
	}
}

func TestMemory_QueryFilter(t *testing.T) {
	t.Parallel()

	m := NewMemory()
	ctx := context.Background()

	err := m.Upsert(ctx, []core.Chunk{
		chunk("wanted", 0, "a", []float32{1, 0, 0}),
		chunk("other", 0, "b", []float32{1, 0, 0}),
	})
	if err != nil {
		t.Fatalf("Upsert() = %v", err)
	}

	results, err := m.Query(ctx, []float32{1, 0, 0}, 10, Filter{"source": "wanted"})
	if err != nil {
		t.Fatalf("Query() = %v", err)
	}
	if len(results) != 1 || results[0].Chunk.DocumentID != "wanted" {
		t.Errorf("filter not applied: %+v", results)
	}
}

func TestMemory_UpsertRequiresEmbedding(t *testing.T) {
	t.Parallel()

	m := NewMemory()
	c := chunk("doc", 0, "text", nil)

	if err := m.Upsert(context.Background(), []core.Chunk{c}); err == nil {
		t.Error("Upsert of chunk without embedding should fail")
	}
}

func TestMemory_ReplaceSwapsAtomically(t *testing.T) {
	t.Parallel()

	m := NewMemory()
	ctx := context.Background()

	err := m.Upsert(ctx, []core.Chunk{
		chunk("doc", 0, "old a", []float32{1, 0, 0}),
		chunk("doc", 1, "old b", []float32{0, 1, 0}),
		chunk("doc", 2, "old c", []float32{0, 0, 1}),
	})
	if err != nil {
		t.Fatalf("Upsert() = %v", err)
	}

	// Fewer chunks than before; the extra old one must disappear.
	err = m.Replace(ctx, "doc", []core.Chunk{
		chunk("doc", 0, "new a", []float32{1, 0, 0}),
	})
	if err != nil {
		t.Fatalf("Replace() = %v", err)
	}

	count, err := m.Count(ctx)
	if err != nil {
		t.Fatalf("Count() = %v", err)
	}
	if count != 1 {
		t.Errorf("count = %d after replace, want 1", count)
	}

	results, err := m.Query(ctx, []float32{1, 0, 0}, 5, nil)
	if err != nil {
		t.Fatalf("Query() = %v", err)
	}
	if results[0].Chunk.Text != "new a" {
		t.Errorf("stale chunk survived replace: %q", results[0].Chunk.Text)
	}
}

func TestMemory_ReplaceRejectsForeignChunks(t *testing.T) {
	t.Parallel()

	m := NewMemory()
	err := m.Replace(context.Background(), "doc",
		[]core.Chunk{chunk("otherdoc", 0, "x", []float32{1})})
	if err == nil {
		t.Error("Replace should reject chunks of another document")
	}
}

func TestMemory_DeleteDocument(t *testing.T) {
	t.Parallel()

	m := NewMemory()
	ctx := context.Background()

	err := m.Upsert(ctx, []core.Chunk{
		chunk("keep", 0, "a", []float32{1, 0, 0}),
		chunk("drop", 0, "b", []float32{0, 1, 0}),
		chunk("drop", 1, "c", []float32{0, 0, 1}),
	})
	if err != nil {
		t.Fatalf("Upsert() = %v", err)
	}

	if err := m.Delete(ctx, "drop"); err != nil {
		t.Fatalf("Delete() = %v", err)
	}
	// Deleting again is a no-op.
	if err := m.Delete(ctx, "drop"); err != nil {
		t.Fatalf("second Delete() = %v", err)
	}

	count, _ := m.Count(ctx)
	if count != 1 {
		t.Errorf("count = %d after delete, want 1", count)
	}
}

func TestMemory_LexicalQuery(t *testing.T) {
	t.Parallel()

	m := NewMemory()
	ctx := context.Background()

	err := m.Upsert(ctx, []core.Chunk{
		chunk("doc", 0, "the quick brown fox", []float32{1}),
		chunk("doc", 1, "quick thinking", []float32{1}),
		chunk("doc", 2, "unrelated text", []float32{1}),
	})
	if err != nil {
		t.Fatalf("Upsert() = %v", err)
	}

	results, err := m.LexicalQuery(ctx, "quick fox", 10, nil)
	if err != nil {
		t.Fatalf("LexicalQuery() = %v", err)
	}

	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].Chunk.Ordinal != 0 {
		t.Errorf("chunk matching both terms should rank first, got ordinal %d",
			results[0].Chunk.Ordinal)
	}
	if results[0].Score != 1.0 {
		t.Errorf("full match score = %g, want 1.0", results[0].Score)
	}
	if results[1].Score != 0.5 {
		t.Errorf("half match score = %g, want 0.5", results[1].Score)
	}
}
