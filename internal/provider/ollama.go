package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
)

const ollamaName = "ollama"

// Ollama serves both provider interfaces from a local Ollama daemon.
type Ollama struct {
	client     *api.Client
	embedModel string
	chatModel  string
}

var (
	_ EmbeddingProvider = (*Ollama)(nil)
	_ LLMProvider       = (*Ollama)(nil)
)

// OllamaConfig configures the Ollama backend.
type OllamaConfig struct {
	Host       string // base URL, e.g. http://localhost:11434
	EmbedModel string
	ChatModel  string

	// HTTPTimeout bounds a single HTTP round trip. Zero means no timeout;
	// callers are expected to pass deadline contexts instead.
	HTTPTimeout time.Duration
}

// NewOllama creates the Ollama-backed provider. It does not contact the
// daemon; use Ping for that.
func NewOllama(cfg OllamaConfig) (*Ollama, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("ollama host is required")
	}
	if cfg.EmbedModel == "" || cfg.ChatModel == "" {
		return nil, fmt.Errorf("ollama models are required")
	}

	base, err := url.Parse(cfg.Host)
	if err != nil {
		return nil, fmt.Errorf("parsing ollama host %q: %w", cfg.Host, err)
	}

	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}

	return &Ollama{
		client:     api.NewClient(base, httpClient),
		embedModel: cfg.EmbedModel,
		chatModel:  cfg.ChatModel,
	}, nil
}

// Embed embeds texts in a single batched request, preserving input order.
func (o *Ollama) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	resp, err := o.client.Embed(ctx, &api.EmbedRequest{
		Model: o.embedModel,
		Input: texts,
	})
	if err != nil {
		return nil, &Error{Provider: ollamaName, Op: "embed", Err: err}
	}

	if len(resp.Embeddings) != len(texts) {
		return nil, &Error{
			Provider: ollamaName,
			Op:       "embed",
			Err:      fmt.Errorf("got %d embeddings for %d inputs", len(resp.Embeddings), len(texts)),
		}
	}

	return resp.Embeddings, nil
}

// Generate returns the complete answer in one call.
func (o *Ollama) Generate(ctx context.Context, messages []Message) (string, error) {
	return o.chat(ctx, messages, nil)
}

// GenerateStream forwards every token to fn and returns the full answer.
func (o *Ollama) GenerateStream(ctx context.Context, messages []Message, fn StreamFunc) (string, error) {
	if fn == nil {
		return "", &Error{Provider: ollamaName, Op: "generate", Err: fmt.Errorf("nil stream callback")}
	}
	return o.chat(ctx, messages, fn)
}

func (o *Ollama) chat(ctx context.Context, messages []Message, fn StreamFunc) (string, error) {
	apiMessages := make([]api.Message, len(messages))
	for i, m := range messages {
		apiMessages[i] = api.Message{Role: m.Role, Content: m.Content}
	}

	stream := fn != nil
	req := &api.ChatRequest{
		Model:    o.chatModel,
		Messages: apiMessages,
		Stream:   &stream,
	}

	var full strings.Builder
	err := o.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		token := resp.Message.Content
		if token == "" {
			return nil
		}
		full.WriteString(token)
		if fn != nil {
			return fn(token)
		}
		return nil
	})
	if err != nil {
		return "", &Error{Provider: ollamaName, Op: "generate", Err: err}
	}

	return full.String(), nil
}

// Ping checks daemon reachability.
func (o *Ollama) Ping(ctx context.Context) error {
	if err := o.client.Heartbeat(ctx); err != nil {
		return &Error{Provider: ollamaName, Op: "ping", Err: err}
	}
	return nil
}
