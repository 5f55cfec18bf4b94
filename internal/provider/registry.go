package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnknownProvider is returned when a name was never registered.
var ErrUnknownProvider = errors.New("unknown provider")

// Registry holds named provider constructors. It exists so the command layer
// can select backends by configuration string without a package-level
// factory; an explicit Registry value is easier to test and impossible to
// mutate from import side effects.
type Registry struct {
	mu   sync.RWMutex
	emb  map[string]EmbeddingProvider
	llms map[string]LLMProvider
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		emb:  make(map[string]EmbeddingProvider),
		llms: make(map[string]LLMProvider),
	}
}

// RegisterEmbedding adds an embedding provider under name. Registering the
// same name twice is a wiring bug and panics.
func (r *Registry) RegisterEmbedding(name string, p EmbeddingProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.emb[name]; ok {
		panic(fmt.Sprintf("BUG: embedding provider %q registered twice", name))
	}
	r.emb[name] = p
}

// RegisterLLM adds an LLM provider under name.
func (r *Registry) RegisterLLM(name string, p LLMProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.llms[name]; ok {
		panic(fmt.Sprintf("BUG: llm provider %q registered twice", name))
	}
	r.llms[name] = p
}

// Embedding looks up an embedding provider by name.
func (r *Registry) Embedding(name string) (EmbeddingProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.emb[name]
	if !ok {
		return nil, fmt.Errorf("%w: embedding %q", ErrUnknownProvider, name)
	}
	return p, nil
}

// LLM looks up an LLM provider by name.
func (r *Registry) LLM(name string) (LLMProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.llms[name]
	if !ok {
		return nil, fmt.Errorf("%w: llm %q", ErrUnknownProvider, name)
	}
	return p, nil
}

// Names returns the registered provider names, sorted, for diagnostics.
func (r *Registry) Names() (embeddings, llms []string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for name := range r.emb {
		embeddings = append(embeddings, name)
	}
	for name := range r.llms {
		llms = append(llms, name)
	}
	sort.Strings(embeddings)
	sort.Strings(llms)
	return embeddings, llms
}

// PingAll checks every registered provider and returns the first failure.
func (r *Registry) PingAll(ctx context.Context) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for name, p := range r.emb {
		if err := p.Ping(ctx); err != nil {
			return fmt.Errorf("embedding provider %q: %w", name, err)
		}
	}
	for name, p := range r.llms {
		if err := p.Ping(ctx); err != nil {
			return fmt.Errorf("llm provider %q: %w", name, err)
		}
	}
	return nil
}
