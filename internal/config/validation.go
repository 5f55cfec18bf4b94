package config

import (
	"errors"
	"fmt"
	"slices"
)

// Validation sentinel errors. Callers match with errors.Is.
var (
	ErrInvalidStrategy  = errors.New("invalid retrieval strategy")
	ErrInvalidStore     = errors.New("invalid vector store name")
	ErrInvalidChunking  = errors.New("invalid chunking parameters")
	ErrInvalidRetrieval = errors.New("invalid retrieval parameters")
	ErrInvalidBudget    = errors.New("invalid token budget")
	ErrInvalidSession   = errors.New("invalid session parameters")
)

var validStrategies = []string{StrategySimilarity, StrategyMMR, StrategyHybrid}

var validStores = []string{StorePgvector, StoreQdrant, StoreMemory}

// Validate checks the configuration for internal consistency. It reports the
// first problem found; fixing configuration is an iterative process anyway.
func (c *Config) Validate() error {
	if !slices.Contains(validStrategies, c.Retrieval.Strategy) {
		return fmt.Errorf("%w: %q (valid: %v)",
			ErrInvalidStrategy, c.Retrieval.Strategy, validStrategies)
	}

	if c.Retrieval.TopK < 1 {
		return fmt.Errorf("%w: top_k must be at least 1, got %d",
			ErrInvalidRetrieval, c.Retrieval.TopK)
	}
	if c.Retrieval.FetchK < c.Retrieval.TopK {
		return fmt.Errorf("%w: fetch_k (%d) must be at least top_k (%d)",
			ErrInvalidRetrieval, c.Retrieval.FetchK, c.Retrieval.TopK)
	}
	if c.Retrieval.MMRLambda < 0 || c.Retrieval.MMRLambda > 1 {
		return fmt.Errorf("%w: mmr_lambda must be in [0,1], got %g",
			ErrInvalidRetrieval, c.Retrieval.MMRLambda)
	}
	if c.Retrieval.HybridAlpha < 0 || c.Retrieval.HybridAlpha > 1 {
		return fmt.Errorf("%w: hybrid_alpha must be in [0,1], got %g",
			ErrInvalidRetrieval, c.Retrieval.HybridAlpha)
	}

	if c.Ingest.ChunkSize < 1 {
		return fmt.Errorf("%w: chunk_size must be positive, got %d",
			ErrInvalidChunking, c.Ingest.ChunkSize)
	}
	if c.Ingest.ChunkOverlap < 0 || c.Ingest.ChunkOverlap >= c.Ingest.ChunkSize {
		return fmt.Errorf("%w: chunk_overlap (%d) must be in [0, chunk_size) with chunk_size %d",
			ErrInvalidChunking, c.Ingest.ChunkOverlap, c.Ingest.ChunkSize)
	}
	if c.Ingest.EmbedBatchSize < 1 {
		return fmt.Errorf("%w: embed_batch_size must be positive, got %d",
			ErrInvalidChunking, c.Ingest.EmbedBatchSize)
	}
	if c.Ingest.EmbedParallel < 1 {
		return fmt.Errorf("%w: embed_parallel must be positive, got %d",
			ErrInvalidChunking, c.Ingest.EmbedParallel)
	}
	if c.Ingest.MaxRetries < 0 {
		return fmt.Errorf("%w: max_retries must not be negative, got %d",
			ErrInvalidChunking, c.Ingest.MaxRetries)
	}

	if c.Budget.PromptTokens < 1 {
		return fmt.Errorf("%w: prompt_tokens must be positive, got %d",
			ErrInvalidBudget, c.Budget.PromptTokens)
	}
	if c.Budget.ContextTokens < 0 || c.Budget.HistoryTokens < 0 {
		return fmt.Errorf("%w: sub-budgets must not be negative", ErrInvalidBudget)
	}
	if c.Budget.ContextTokens+c.Budget.HistoryTokens > c.Budget.PromptTokens {
		return fmt.Errorf("%w: context (%d) + history (%d) exceed prompt budget (%d)",
			ErrInvalidBudget, c.Budget.ContextTokens, c.Budget.HistoryTokens,
			c.Budget.PromptTokens)
	}

	if c.Session.IdleTimeout <= 0 {
		return fmt.Errorf("%w: idle_timeout must be positive, got %v",
			ErrInvalidSession, c.Session.IdleTimeout)
	}

	if !slices.Contains(validStores, c.Stores.Primary) {
		return fmt.Errorf("%w: primary %q (valid: %v)",
			ErrInvalidStore, c.Stores.Primary, validStores)
	}
	for _, name := range c.Stores.Fallbacks {
		if !slices.Contains(validStores, name) {
			return fmt.Errorf("%w: fallback %q (valid: %v)",
				ErrInvalidStore, name, validStores)
		}
		if name == c.Stores.Primary {
			return fmt.Errorf("%w: fallback %q duplicates the primary",
				ErrInvalidStore, name)
		}
	}

	if c.EmbedDim < 1 {
		return fmt.Errorf("%w: embed_dim must be positive, got %d",
			ErrInvalidRetrieval, c.EmbedDim)
	}

	return nil
}
