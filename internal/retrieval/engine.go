// Package retrieval answers queries against the vector store. The engine
// embeds the query, fetches candidates, and ranks them with one of three
// strategies: plain similarity, max marginal relevance, or hybrid
// vector-plus-lexical scoring.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/koopa0/grounded/internal/core"
	"github.com/koopa0/grounded/internal/log"
	"github.com/koopa0/grounded/internal/provider"
	"github.com/koopa0/grounded/internal/vectorstore"
)

// Strategy names.
const (
	StrategySimilarity = "similarity"
	StrategyMMR        = "mmr"
	StrategyHybrid     = "hybrid"
)

// Config holds the engine defaults. Per-call options override them.
type Config struct {
	Strategy    string
	TopK        int
	FetchK      int     // oversampled pool size for mmr and hybrid
	MMRLambda   float64 // relevance weight in [0,1]
	HybridAlpha float64 // vector weight in [0,1]

	// EmbedTimeout bounds the query embedding call; QueryTimeout bounds
	// the store lookup phase. Zero means unbounded.
	EmbedTimeout time.Duration
	QueryTimeout time.Duration

	// filter is per-call only, set through WithFilter.
	filter vectorstore.Filter
}

func (c Config) validate() error {
	switch c.Strategy {
	case StrategySimilarity, StrategyMMR, StrategyHybrid:
	default:
		return fmt.Errorf("unknown strategy %q", c.Strategy)
	}
	if c.TopK < 1 {
		return fmt.Errorf("top_k must be at least 1, got %d", c.TopK)
	}
	if c.FetchK < c.TopK {
		return fmt.Errorf("fetch_k (%d) must be at least top_k (%d)", c.FetchK, c.TopK)
	}
	if c.MMRLambda < 0 || c.MMRLambda > 1 {
		return fmt.Errorf("mmr_lambda must be in [0,1], got %g", c.MMRLambda)
	}
	if c.HybridAlpha < 0 || c.HybridAlpha > 1 {
		return fmt.Errorf("hybrid_alpha must be in [0,1], got %g", c.HybridAlpha)
	}
	return nil
}

// Engine runs retrieval queries.
type Engine struct {
	store    vectorstore.Store
	embedder provider.EmbeddingProvider
	cfg      Config
	logger   log.Logger
}

// NewEngine wires the engine against a store and an embedding provider.
func NewEngine(store vectorstore.Store, embedder provider.EmbeddingProvider, cfg Config, logger log.Logger) (*Engine, error) {
	if store == nil || embedder == nil {
		return nil, fmt.Errorf("store and embedder are required")
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid retrieval config: %w", err)
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Engine{
		store:    store,
		embedder: embedder,
		cfg:      cfg,
		logger:   logger.With("component", "retrieval"),
	}, nil
}

// Option overrides an engine default for a single Retrieve call.
type Option func(*Config)

// WithStrategy selects the ranking strategy for this call.
func WithStrategy(strategy string) Option {
	return func(c *Config) { c.Strategy = strategy }
}

// WithTopK sets the result count for this call.
func WithTopK(k int) Option {
	return func(c *Config) {
		c.TopK = k
		if c.FetchK < k {
			c.FetchK = k
		}
	}
}

// WithFilter restricts this call to chunks matching the metadata filter.
func WithFilter(filter vectorstore.Filter) Option {
	return func(c *Config) { c.filter = filter }
}

// Retrieve returns up to TopK chunks relevant to the query, best first.
// Fewer than TopK results is a normal outcome, not an error; zero results
// from a populated index is too. Every returned chunk ID is unique.
func (e *Engine) Retrieve(ctx context.Context, query string, opts ...Option) ([]core.RetrievalResult, error) {
	cfg := e.cfg
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid retrieval options: %w", err)
	}

	ectx, cancel := boundCtx(ctx, cfg.EmbedTimeout)
	vectors, err := e.embedder.Embed(ectx, []string{query})
	cancel()
	if err != nil {
		return nil, &Error{Reason: EmbeddingFailure, Err: err}
	}
	queryVec := vectors[0]

	qctx, cancel := boundCtx(ctx, cfg.QueryTimeout)
	defer cancel()

	var results []core.RetrievalResult
	switch cfg.Strategy {
	case StrategySimilarity:
		results, err = e.store.Query(qctx, queryVec, cfg.TopK, cfg.filter)
	case StrategyMMR:
		results, err = e.retrieveMMR(qctx, queryVec, cfg)
	case StrategyHybrid:
		results, err = e.retrieveHybrid(qctx, query, queryVec, cfg)
	}
	if err != nil {
		return nil, classifyStoreErr(err)
	}

	results = dedupe(results)
	if len(results) > cfg.TopK {
		results = results[:cfg.TopK]
	}
	for i := range results {
		results[i].Strategy = cfg.Strategy
	}

	e.logger.Debug("retrieval complete",
		"strategy", cfg.Strategy, "results", len(results))
	return results, nil
}

func (e *Engine) retrieveMMR(ctx context.Context, queryVec []float32, cfg Config) ([]core.RetrievalResult, error) {
	pool, err := e.store.Query(ctx, queryVec, cfg.FetchK, cfg.filter)
	if err != nil {
		return nil, err
	}
	return maxMarginalRelevance(pool, cfg.TopK, cfg.MMRLambda), nil
}

// retrieveHybrid combines vector and lexical rankings. A store chain without
// lexical support degrades to vector-only scoring rather than failing the
// query.
func (e *Engine) retrieveHybrid(ctx context.Context, query string, queryVec []float32, cfg Config) ([]core.RetrievalResult, error) {
	vecResults, err := e.store.Query(ctx, queryVec, cfg.FetchK, cfg.filter)
	if err != nil {
		return nil, err
	}

	searcher, ok := e.store.(vectorstore.LexicalSearcher)
	if !ok {
		e.logger.Warn("store has no lexical search, hybrid degrades to vector-only")
		return vecResults, nil
	}

	lexResults, err := searcher.LexicalQuery(ctx, query, cfg.FetchK, cfg.filter)
	switch {
	case errors.Is(err, vectorstore.ErrNotSupported):
		e.logger.Warn("store has no lexical search, hybrid degrades to vector-only")
		return vecResults, nil
	case errors.Is(err, vectorstore.ErrEmptyIndex):
		lexResults = nil
	case err != nil:
		return nil, err
	}

	return combineHybrid(vecResults, lexResults, cfg.HybridAlpha), nil
}

func classifyStoreErr(err error) error {
	switch {
	case errors.Is(err, vectorstore.ErrEmptyIndex):
		return &Error{Reason: EmptyIndex, Err: err}
	case errors.Is(err, vectorstore.ErrUnavailable),
		errors.Is(err, context.DeadlineExceeded):
		// A store that cannot answer within its deadline is unavailable.
		return &Error{Reason: StoreUnavailable, Err: err}
	}
	return err
}

// boundCtx derives a context for one bounded phase; zero means unbounded.
func boundCtx(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}

func dedupe(results []core.RetrievalResult) []core.RetrievalResult {
	seen := make(map[string]struct{}, len(results))
	out := results[:0]
	for _, r := range results {
		if _, ok := seen[r.Chunk.ID]; ok {
			continue
		}
		seen[r.Chunk.ID] = struct{}{}
		out = append(out, r)
	}
	return out
}
