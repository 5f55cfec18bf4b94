package vectorstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/koopa0/grounded/internal/core"
	"github.com/koopa0/grounded/internal/log"
)

// Chain layers stores for read availability. Reads go to the first store and
// fail over down the chain when a store reports ErrUnavailable. Writes go to
// the primary only; a fallback serving reads while the primary is down will
// simply miss writes made in that window, which retrieval tolerates.
type Chain struct {
	stores []Store
	logger log.Logger
}

var _ Store = (*Chain)(nil)

// NewChain builds a chain from primary followed by fallbacks in order.
func NewChain(logger log.Logger, stores ...Store) (*Chain, error) {
	if len(stores) == 0 {
		return nil, fmt.Errorf("chain requires at least one store")
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Chain{
		stores: stores,
		logger: logger.With("component", "store_chain"),
	}, nil
}

// Primary returns the first store in the chain.
func (c *Chain) Primary() Store { return c.stores[0] }

// Upsert writes to the primary only.
func (c *Chain) Upsert(ctx context.Context, chunks []core.Chunk) error {
	return c.stores[0].Upsert(ctx, chunks)
}

// Delete writes to the primary only.
func (c *Chain) Delete(ctx context.Context, documentID string) error {
	return c.stores[0].Delete(ctx, documentID)
}

// Query tries each store in order until one answers. ErrEmptyIndex is an
// answer, not an availability failure; it propagates without failover so an
// empty primary cannot be masked by a stale fallback.
func (c *Chain) Query(ctx context.Context, vector []float32, k int, filter Filter) ([]core.RetrievalResult, error) {
	var lastErr error
	for i, store := range c.stores {
		results, err := store.Query(ctx, vector, k, filter)
		if err == nil {
			return results, nil
		}
		if !errors.Is(err, ErrUnavailable) {
			return nil, err
		}
		lastErr = err
		if i < len(c.stores)-1 {
			c.logger.Warn("store unavailable, failing over",
				"position", i, "error", err)
		}
	}
	return nil, fmt.Errorf("all %d stores unavailable: %w", len(c.stores), lastErr)
}

// LexicalQuery fails over like Query, skipping stores without lexical
// support. Returns ErrNotSupported when no store in the chain has it.
func (c *Chain) LexicalQuery(ctx context.Context, query string, k int, filter Filter) ([]core.RetrievalResult, error) {
	var lastErr error = fmt.Errorf("no store supports lexical search: %w", ErrNotSupported)
	for i, store := range c.stores {
		searcher, ok := store.(LexicalSearcher)
		if !ok {
			continue
		}
		results, err := searcher.LexicalQuery(ctx, query, k, filter)
		if err == nil {
			return results, nil
		}
		if !errors.Is(err, ErrUnavailable) {
			return nil, err
		}
		lastErr = err
		if i < len(c.stores)-1 {
			c.logger.Warn("store unavailable for lexical search, failing over",
				"position", i, "error", err)
		}
	}
	return nil, lastErr
}

// Replace delegates to the primary when it supports atomic replacement and
// returns ErrNotSupported otherwise; the ingest pipeline handles the
// fallback.
func (c *Chain) Replace(ctx context.Context, documentID string, chunks []core.Chunk) error {
	replacer, ok := c.stores[0].(Replacer)
	if !ok {
		return fmt.Errorf("primary store: %w", ErrNotSupported)
	}
	return replacer.Replace(ctx, documentID, chunks)
}

// Count reports the primary's chunk count.
func (c *Chain) Count(ctx context.Context) (int, error) {
	counter, ok := c.stores[0].(Counter)
	if !ok {
		return 0, fmt.Errorf("primary store: %w", ErrNotSupported)
	}
	return counter.Count(ctx)
}

// Ping checks every store and returns the first failure.
func (c *Chain) Ping(ctx context.Context) error {
	for i, store := range c.stores {
		pinger, ok := store.(Pinger)
		if !ok {
			continue
		}
		if err := pinger.Ping(ctx); err != nil {
			return fmt.Errorf("store %d: %w", i, err)
		}
	}
	return nil
}
