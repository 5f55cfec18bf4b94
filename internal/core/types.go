// Package core defines the shared data model for the retrieval pipeline:
// documents, chunks, and retrieval results. All other packages depend on
// core and core depends on nothing but the standard library.
package core

// Document is the unit of ingestion. A document is immutable once ingested;
// re-ingesting the same ID replaces all of its chunks.
type Document struct {
	ID       string            // Unique identifier, caller-assigned
	Content  string            // Raw text content
	Metadata map[string]string // Source metadata (filename, upload time, ...)
}

// Chunk is the unit of storage, retrieval, and citation. Every chunk belongs
// to exactly one document. Embedding is nil until computed; a chunk without
// an embedding is not eligible for retrieval.
type Chunk struct {
	ID         string            // Unique identifier, derived from DocumentID and Ordinal
	DocumentID string            // Owning document
	Ordinal    int               // Position within the document, starting at 0
	Text       string            // Text span
	Start      int               // Rune offset of the span start in the document
	End        int               // Rune offset one past the span end
	Metadata   map[string]string // Inherited document metadata plus chunk-specific keys
	Embedding  []float32         // Vector embedding, nil until computed
}

// RetrievalResult pairs a chunk with a relevance score. The score scale is
// strategy-defined; higher always means more relevant.
type RetrievalResult struct {
	Chunk    Chunk
	Score    float64
	Strategy string // Name of the strategy that produced this result
}
