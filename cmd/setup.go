package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/koopa0/grounded/db"
	"github.com/koopa0/grounded/internal/config"
	"github.com/koopa0/grounded/internal/ingest"
	"github.com/koopa0/grounded/internal/log"
	"github.com/koopa0/grounded/internal/orchestrator"
	"github.com/koopa0/grounded/internal/provider"
	"github.com/koopa0/grounded/internal/retrieval"
	"github.com/koopa0/grounded/internal/session"
	"github.com/koopa0/grounded/internal/vectorstore"
	"github.com/koopa0/grounded/internal/vectorstore/pgvector"
	"github.com/koopa0/grounded/internal/vectorstore/qdrant"
)

// app bundles the wired components for a command invocation.
type app struct {
	cfg      *config.Config
	logger   log.Logger
	registry *provider.Registry
	store    vectorstore.Store
	pipeline *ingest.Pipeline
	engine   *retrieval.Engine
	orch     *orchestrator.Orchestrator

	closers []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// buildApp loads configuration, applies per-command overrides, and wires
// every component. Commands get a fully constructed app or an error naming
// the first thing that failed.
func buildApp(ctx context.Context, overrides ...func(*config.Config)) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	for _, override := range overrides {
		override(cfg)
	}
	if len(overrides) > 0 {
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("validating configuration: %w", err)
		}
	}

	level := slog.LevelInfo
	if flagVerbose {
		level = slog.LevelDebug
	}
	logger := log.New(log.Config{Level: level, JSON: flagJSONLogs})

	a := &app{cfg: cfg, logger: logger}

	if err := a.buildProviders(); err != nil {
		return nil, err
	}
	if err := a.buildStore(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.buildPipeline(); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.buildEngine(); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.buildOrchestrator(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) buildProviders() error {
	ollama, err := provider.NewOllama(provider.OllamaConfig{
		Host:       a.cfg.OllamaHost,
		EmbedModel: a.cfg.EmbedModel,
		ChatModel:  a.cfg.ModelName,
	})
	if err != nil {
		return fmt.Errorf("configuring ollama: %w", err)
	}

	a.registry = provider.NewRegistry()
	a.registry.RegisterEmbedding("ollama", ollama)
	a.registry.RegisterLLM("ollama", ollama)
	return nil
}

func (a *app) buildStore(ctx context.Context) error {
	primary, err := a.openStore(ctx, a.cfg.Stores.Primary)
	if err != nil {
		return fmt.Errorf("opening primary store %s: %w", a.cfg.Stores.Primary, err)
	}

	stores := []vectorstore.Store{primary}
	for _, name := range a.cfg.Stores.Fallbacks {
		fallback, err := a.openStore(ctx, name)
		if err != nil {
			return fmt.Errorf("opening fallback store %s: %w", name, err)
		}
		stores = append(stores, fallback)
	}

	if len(stores) == 1 {
		a.store = primary
		return nil
	}
	chain, err := vectorstore.NewChain(a.logger, stores...)
	if err != nil {
		return err
	}
	a.store = chain
	return nil
}

func (a *app) openStore(ctx context.Context, name string) (vectorstore.Store, error) {
	switch name {
	case config.StoreMemory:
		return vectorstore.NewMemory(), nil

	case config.StorePgvector:
		dsn := a.cfg.Stores.Postgres.DSN()
		if err := db.Migrate(dsn); err != nil {
			return nil, err
		}
		store, err := pgvector.New(ctx, dsn, a.logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, store.Close)
		return store, nil

	case config.StoreQdrant:
		store, err := qdrant.New(ctx, qdrant.Config{
			Host:       a.cfg.Stores.Qdrant.Host,
			Port:       a.cfg.Stores.Qdrant.Port,
			Collection: a.cfg.Stores.Qdrant.Collection,
			VectorDim:  a.cfg.EmbedDim,
		}, a.logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = store.Close() })
		return store, nil
	}
	return nil, fmt.Errorf("unknown store %q", name)
}

func (a *app) buildPipeline() error {
	embedder, err := a.registry.Embedding("ollama")
	if err != nil {
		return err
	}
	chunker, err := ingest.NewChunker(a.cfg.Ingest.ChunkSize, a.cfg.Ingest.ChunkOverlap)
	if err != nil {
		return err
	}
	a.pipeline, err = ingest.NewPipeline(chunker, embedder, a.store, ingest.Config{
		BatchSize:    a.cfg.Ingest.EmbedBatchSize,
		Parallel:     a.cfg.Ingest.EmbedParallel,
		MaxRetries:   a.cfg.Ingest.MaxRetries,
		EmbedTimeout: a.cfg.Timeouts.Embed,
	}, a.logger)
	return err
}

func (a *app) buildEngine() error {
	embedder, err := a.registry.Embedding("ollama")
	if err != nil {
		return err
	}
	a.engine, err = retrieval.NewEngine(a.store, embedder, retrieval.Config{
		Strategy:     a.cfg.Retrieval.Strategy,
		TopK:         a.cfg.Retrieval.TopK,
		FetchK:       a.cfg.Retrieval.FetchK,
		MMRLambda:    a.cfg.Retrieval.MMRLambda,
		HybridAlpha:  a.cfg.Retrieval.HybridAlpha,
		EmbedTimeout: a.cfg.Timeouts.Embed,
		QueryTimeout: a.cfg.Timeouts.Query,
	}, a.logger)
	return err
}

func (a *app) buildOrchestrator() error {
	llm, err := a.registry.LLM("ollama")
	if err != nil {
		return err
	}
	sessions := session.NewStore(a.logger)
	a.orch, err = orchestrator.New(sessions, a.engine, llm, orchestrator.Config{
		Budget: orchestrator.Budget{
			PromptTokens:  a.cfg.Budget.PromptTokens,
			ContextTokens: a.cfg.Budget.ContextTokens,
			HistoryTokens: a.cfg.Budget.HistoryTokens,
		},
		GenerateTimeout: a.cfg.Timeouts.Generate,
		IdleTimeout:     a.cfg.Session.IdleTimeout,
	}, a.logger)
	return err
}

// withTimeout derives a context for a bounded operation.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
