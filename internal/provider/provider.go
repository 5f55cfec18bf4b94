// Package provider abstracts the model backends behind small consumer-defined
// interfaces. The rest of the system talks to an EmbeddingProvider and an
// LLMProvider and never learns which backend serves them.
package provider

import (
	"context"
	"fmt"
)

// Message roles understood by LLM providers.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single prompt message.
type Message struct {
	Role    string
	Content string
}

// StreamFunc receives generated tokens as they arrive. Returning an error
// aborts the stream and the error propagates out of GenerateStream.
type StreamFunc func(token string) error

// EmbeddingProvider converts text into vectors. Embed preserves input order:
// result[i] embeds texts[i]. All vectors from one provider have the same
// dimensionality.
type EmbeddingProvider interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Ping(ctx context.Context) error
}

// LLMProvider generates answers from a prompt transcript.
type LLMProvider interface {
	// Generate returns the complete answer in one call.
	Generate(ctx context.Context, messages []Message) (string, error)

	// GenerateStream invokes fn for every token and returns the full
	// accumulated answer once the stream ends.
	GenerateStream(ctx context.Context, messages []Message, fn StreamFunc) (string, error)

	Ping(ctx context.Context) error
}

// Error wraps a backend failure with enough context to log and classify it.
type Error struct {
	Provider string // backend name, e.g. "ollama"
	Op       string // failing operation, e.g. "embed"
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("provider %s: %s: %v", e.Provider, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
