package vectorstore

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/koopa0/grounded/internal/core"
)

// Memory is an in-memory store guarded by a RWMutex. Queries scan every
// chunk; it is meant for tests and corpora small enough that a linear scan
// beats operating a database.
type Memory struct {
	mu     sync.RWMutex
	chunks map[string]core.Chunk // keyed by chunk ID
	byDoc  map[string][]string   // document ID -> chunk IDs
}

var (
	_ Store           = (*Memory)(nil)
	_ LexicalSearcher = (*Memory)(nil)
	_ Replacer        = (*Memory)(nil)
	_ Counter         = (*Memory)(nil)
	_ Pinger          = (*Memory)(nil)
)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		chunks: make(map[string]core.Chunk),
		byDoc:  make(map[string][]string),
	}
}

// Upsert inserts or replaces chunks by ID.
func (m *Memory) Upsert(ctx context.Context, chunks []core.Chunk) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, c := range chunks {
		if len(c.Embedding) == 0 {
			return fmt.Errorf("chunk %s has no embedding", c.ID)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range chunks {
		m.insertLocked(c)
	}
	return nil
}

func (m *Memory) insertLocked(c core.Chunk) {
	if old, ok := m.chunks[c.ID]; ok {
		m.removeFromDocLocked(old)
	}
	m.chunks[c.ID] = c
	m.byDoc[c.DocumentID] = append(m.byDoc[c.DocumentID], c.ID)
}

func (m *Memory) removeFromDocLocked(c core.Chunk) {
	ids := m.byDoc[c.DocumentID]
	for i, id := range ids {
		if id == c.ID {
			m.byDoc[c.DocumentID] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
}

// Query scans all chunks and returns the k nearest by cosine similarity.
func (m *Memory) Query(ctx context.Context, vector []float32, k int, filter Filter) ([]core.RetrievalResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.chunks) == 0 {
		return nil, ErrEmptyIndex
	}

	results := make([]core.RetrievalResult, 0, len(m.chunks))
	for _, c := range m.chunks {
		if !MatchesFilter(c, filter) {
			continue
		}
		results = append(results, core.RetrievalResult{
			Chunk: c,
			Score: core.Cosine(vector, c.Embedding),
		})
	}

	SortResults(results)
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// LexicalQuery scores chunks by the fraction of query terms they contain.
func (m *Memory) LexicalQuery(ctx context.Context, query string, k int, filter Filter) ([]core.RetrievalResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		return nil, nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.chunks) == 0 {
		return nil, ErrEmptyIndex
	}

	var results []core.RetrievalResult
	for _, c := range m.chunks {
		if !MatchesFilter(c, filter) {
			continue
		}
		text := strings.ToLower(c.Text)
		matched := 0
		for _, term := range terms {
			if strings.Contains(text, term) {
				matched++
			}
		}
		if matched == 0 {
			continue
		}
		results = append(results, core.RetrievalResult{
			Chunk: c,
			Score: float64(matched) / float64(len(terms)),
		})
	}

	SortResults(results)
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// Replace swaps a document's chunks under a single lock acquisition, so a
// concurrent Query sees either the old set or the new set, never a mix.
func (m *Memory) Replace(ctx context.Context, documentID string, chunks []core.Chunk) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, c := range chunks {
		if len(c.Embedding) == 0 {
			return fmt.Errorf("chunk %s has no embedding", c.ID)
		}
		if c.DocumentID != documentID {
			return fmt.Errorf("chunk %s belongs to document %s, not %s",
				c.ID, c.DocumentID, documentID)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.deleteDocLocked(documentID)
	for _, c := range chunks {
		m.insertLocked(c)
	}
	return nil
}

// Delete removes every chunk of the document.
func (m *Memory) Delete(ctx context.Context, documentID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteDocLocked(documentID)
	return nil
}

func (m *Memory) deleteDocLocked(documentID string) {
	for _, id := range m.byDoc[documentID] {
		delete(m.chunks, id)
	}
	delete(m.byDoc, documentID)
}

// Count returns the number of stored chunks.
func (m *Memory) Count(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.chunks), nil
}

// Ping always succeeds; memory is always reachable.
func (m *Memory) Ping(context.Context) error { return nil }
