package ingest

import "fmt"

// Reason classifies why ingestion failed.
type Reason string

const (
	// ParseFailure means the document yielded no usable chunks.
	ParseFailure Reason = "parse_failure"

	// EmbeddingFailure means some chunks could not be embedded after
	// retries. FailedChunkIDs names them.
	EmbeddingFailure Reason = "embedding_failure"

	// StoreFailure means the embedded chunks could not be committed.
	StoreFailure Reason = "store_failure"
)

// Error reports an ingestion failure with the chunks it affected. The store
// was not modified when Reason is ParseFailure or EmbeddingFailure.
type Error struct {
	Reason         Reason
	DocumentID     string
	FailedChunkIDs []string
	Err            error
}

func (e *Error) Error() string {
	if len(e.FailedChunkIDs) > 0 {
		return fmt.Sprintf("ingest %s: %s (%d chunks affected): %v",
			e.DocumentID, e.Reason, len(e.FailedChunkIDs), e.Err)
	}
	return fmt.Sprintf("ingest %s: %s: %v", e.DocumentID, e.Reason, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
