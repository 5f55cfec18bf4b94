package retrieval

import "fmt"

// Reason classifies why retrieval failed.
type Reason string

const (
	// StoreUnavailable means no store in the chain could answer.
	StoreUnavailable Reason = "store_unavailable"

	// EmbeddingFailure means the query could not be embedded.
	EmbeddingFailure Reason = "embedding_failure"

	// EmptyIndex means no documents have been ingested yet.
	EmptyIndex Reason = "empty_index"
)

// Error reports a retrieval failure. Callers decide per reason whether to
// degrade (answer without grounding) or surface the failure.
type Error struct {
	Reason Reason
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("retrieval: %s: %v", e.Reason, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
