// Package vectorstore defines the chunk storage abstraction and the
// in-process implementations: an in-memory store for tests and small corpora,
// and a failover chain that layers stores for read availability.
//
// Backend adapters live in subpackages (pgvector, qdrant) so their driver
// dependencies stay out of the import graph of callers that do not need them.
package vectorstore

import (
	"context"
	"errors"
	"sort"

	"github.com/koopa0/grounded/internal/core"
)

// Sentinel errors. Callers match with errors.Is.
var (
	// ErrUnavailable means the backend could not be reached or failed in a
	// way retrying elsewhere might help. The chain fails over on it.
	ErrUnavailable = errors.New("vector store unavailable")

	// ErrEmptyIndex means the store is reachable but holds no chunks.
	ErrEmptyIndex = errors.New("vector store index is empty")

	// ErrNotSupported means the store lacks an optional capability.
	ErrNotSupported = errors.New("operation not supported by store")
)

// Filter restricts a query to chunks matching all given metadata entries.
// A nil or empty filter matches everything.
type Filter map[string]string

// Store is the minimal contract every backend satisfies.
type Store interface {
	// Upsert inserts or replaces chunks by ID. Chunks must carry embeddings.
	Upsert(ctx context.Context, chunks []core.Chunk) error

	// Query returns up to k chunks most similar to vector, best first.
	// Returns ErrEmptyIndex when the store holds nothing.
	Query(ctx context.Context, vector []float32, k int, filter Filter) ([]core.RetrievalResult, error)

	// Delete removes every chunk of the given document. Deleting an unknown
	// document is a no-op.
	Delete(ctx context.Context, documentID string) error
}

// Optional capabilities. Callers type-assert and degrade when absent.
type (
	// LexicalSearcher scores chunks by term match rather than vector
	// similarity. Hybrid retrieval requires it.
	LexicalSearcher interface {
		LexicalQuery(ctx context.Context, query string, k int, filter Filter) ([]core.RetrievalResult, error)
	}

	// Replacer swaps a document's chunks atomically. Stores without it get
	// Delete followed by Upsert, which can leave a gap on crash.
	Replacer interface {
		Replace(ctx context.Context, documentID string, chunks []core.Chunk) error
	}

	// Counter reports the number of stored chunks.
	Counter interface {
		Count(ctx context.Context) (int, error)
	}

	// Pinger checks backend reachability.
	Pinger interface {
		Ping(ctx context.Context) error
	}
)

// SortResults orders results by descending score, breaking ties by ascending
// chunk ID so equal-score output is deterministic.
func SortResults(results []core.RetrievalResult) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Chunk.ID < results[j].Chunk.ID
	})
}

// MatchesFilter reports whether the chunk's metadata satisfies every filter
// entry.
func MatchesFilter(c core.Chunk, filter Filter) bool {
	for key, want := range filter {
		if c.Metadata[key] != want {
			return false
		}
	}
	return true
}
