package ingest

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/koopa0/grounded/internal/core"
	"github.com/koopa0/grounded/internal/log"
	"github.com/koopa0/grounded/internal/provider"
	"github.com/koopa0/grounded/internal/vectorstore"
)

// Pipeline turns a document into embedded chunks and commits them. Writes
// hit the store only after every chunk embedded successfully, so a failed
// ingestion leaves earlier data intact.
type Pipeline struct {
	chunker  *Chunker
	embedder provider.EmbeddingProvider
	store    vectorstore.Store
	cfg      Config
	logger   log.Logger
}

// Config tunes the embedding stage.
type Config struct {
	BatchSize   int           // texts per embedding request
	Parallel    int           // concurrent embedding requests
	MaxRetries  int           // per-chunk retries after a batch failure
	RetryBase   time.Duration // initial backoff delay
	RetryMaxDur time.Duration // backoff ceiling

	// EmbedTimeout bounds each embedding request. Zero means unbounded;
	// every retry attempt gets a fresh timeout.
	EmbedTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.BatchSize < 1 {
		c.BatchSize = 16
	}
	if c.Parallel < 1 {
		c.Parallel = 4
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 200 * time.Millisecond
	}
	if c.RetryMaxDur <= 0 {
		c.RetryMaxDur = 5 * time.Second
	}
}

// NewPipeline wires the pipeline. The chunker is owned by the pipeline;
// embedder and store are shared collaborators.
func NewPipeline(chunker *Chunker, embedder provider.EmbeddingProvider, store vectorstore.Store, cfg Config, logger log.Logger) (*Pipeline, error) {
	if chunker == nil || embedder == nil || store == nil {
		return nil, fmt.Errorf("chunker, embedder and store are required")
	}
	if logger == nil {
		logger = log.NewNop()
	}
	cfg.applyDefaults()

	return &Pipeline{
		chunker:  chunker,
		embedder: embedder,
		store:    store,
		cfg:      cfg,
		logger:   logger.With("component", "ingest"),
	}, nil
}

// Ingest processes one document and returns the committed chunks in document
// order. Re-ingesting a document ID replaces its previous chunks entirely.
func (p *Pipeline) Ingest(ctx context.Context, doc core.Document) ([]core.Chunk, error) {
	if doc.ID == "" {
		return nil, &Error{Reason: ParseFailure, DocumentID: doc.ID,
			Err: errors.New("document ID is empty")}
	}

	spans := p.chunker.Split(doc.Content)
	if len(spans) == 0 {
		return nil, &Error{Reason: ParseFailure, DocumentID: doc.ID,
			Err: errors.New("document contains no chunkable text")}
	}

	chunks := make([]core.Chunk, len(spans))
	for i, sp := range spans {
		meta := maps.Clone(doc.Metadata)
		if meta == nil {
			meta = make(map[string]string)
		}
		chunks[i] = core.Chunk{
			ID:         fmt.Sprintf("%s:%04d", doc.ID, i),
			DocumentID: doc.ID,
			Ordinal:    i,
			Text:       sp.text,
			Start:      sp.start,
			End:        sp.end,
			Metadata:   meta,
		}
	}

	if err := p.embedAll(ctx, doc.ID, chunks); err != nil {
		return nil, err
	}

	if err := p.commit(ctx, doc.ID, chunks); err != nil {
		return nil, &Error{Reason: StoreFailure, DocumentID: doc.ID, Err: err}
	}

	p.logger.Info("document ingested", "document_id", doc.ID, "chunks", len(chunks))
	return chunks, nil
}

// embedAll embeds every chunk, running batches concurrently. A failed batch
// falls back to embedding its chunks one at a time with backoff; chunks that
// still fail are collected into a single EmbeddingFailure error.
func (p *Pipeline) embedAll(ctx context.Context, docID string, chunks []core.Chunk) error {
	var (
		mu     sync.Mutex
		failed []string
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Parallel)

	for start := 0; start < len(chunks); start += p.cfg.BatchSize {
		end := min(start+p.cfg.BatchSize, len(chunks))
		batch := chunks[start:end]

		g.Go(func() error {
			if err := p.embedBatch(gctx, batch); err == nil {
				return nil
			}
			// The batch call failed as a unit; isolate the bad chunks.
			ids := p.embedSingly(gctx, batch)
			if len(ids) > 0 {
				mu.Lock()
				failed = append(failed, ids...)
				mu.Unlock()
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return &Error{Reason: EmbeddingFailure, DocumentID: docID, Err: err}
	}
	if len(failed) > 0 {
		sort.Strings(failed)
		return &Error{
			Reason:         EmbeddingFailure,
			DocumentID:     docID,
			FailedChunkIDs: failed,
			Err:            fmt.Errorf("%d of %d chunks failed to embed", len(failed), len(chunks)),
		}
	}
	return nil
}

func (p *Pipeline) embedBatch(ctx context.Context, batch []core.Chunk) error {
	texts := make([]string, len(batch))
	for i, c := range batch {
		texts[i] = c.Text
	}

	ectx, cancel := p.embedCtx(ctx)
	vectors, err := p.embedder.Embed(ectx, texts)
	cancel()
	if err != nil {
		return err
	}
	for i := range batch {
		batch[i].Embedding = vectors[i]
	}
	return nil
}

// embedSingly retries each chunk of a failed batch on its own and returns
// the IDs of chunks that never succeeded.
func (p *Pipeline) embedSingly(ctx context.Context, batch []core.Chunk) []string {
	var failed []string
	for i := range batch {
		if err := p.embedOne(ctx, &batch[i]); err != nil {
			p.logger.Warn("chunk embedding failed",
				"chunk_id", batch[i].ID, "error", err)
			failed = append(failed, batch[i].ID)
		}
	}
	return failed
}

func (p *Pipeline) embedOne(ctx context.Context, c *core.Chunk) error {
	var lastErr error
	for attempt := 0; attempt <= p.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := sleepBackoff(ctx, p.cfg.RetryBase, p.cfg.RetryMaxDur, attempt); err != nil {
				return err
			}
		}
		ectx, cancel := p.embedCtx(ctx)
		vectors, err := p.embedder.Embed(ectx, []string{c.Text})
		cancel()
		if err == nil {
			c.Embedding = vectors[0]
			return nil
		}
		lastErr = err
	}
	return lastErr
}

// embedCtx bounds a single embedding call when a timeout is configured.
func (p *Pipeline) embedCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.cfg.EmbedTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, p.cfg.EmbedTimeout)
}

// commit writes the chunks, replacing the document's previous set. Stores
// with atomic replace get it in one operation; others get delete then
// upsert.
func (p *Pipeline) commit(ctx context.Context, docID string, chunks []core.Chunk) error {
	if replacer, ok := p.store.(vectorstore.Replacer); ok {
		err := replacer.Replace(ctx, docID, chunks)
		if err == nil || !errors.Is(err, vectorstore.ErrNotSupported) {
			return err
		}
	}
	if err := p.store.Delete(ctx, docID); err != nil {
		return err
	}
	return p.store.Upsert(ctx, chunks)
}

// Delete removes a document's chunks from the store.
func (p *Pipeline) Delete(ctx context.Context, documentID string) error {
	if err := p.store.Delete(ctx, documentID); err != nil {
		return &Error{Reason: StoreFailure, DocumentID: documentID, Err: err}
	}
	p.logger.Info("document deleted", "document_id", documentID)
	return nil
}

// sleepBackoff waits base*2^(attempt-1) capped at maxDur, honoring ctx.
func sleepBackoff(ctx context.Context, base, maxDur time.Duration, attempt int) error {
	delay := base << (attempt - 1)
	if delay > maxDur || delay <= 0 {
		delay = maxDur
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
