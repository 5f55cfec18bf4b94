// Package pgvector implements the vector store contract on PostgreSQL with
// the pgvector extension. It is the durable primary backend: chunks live in
// one table carrying both the embedding column and a tsvector column, so the
// same store serves vector and lexical queries.
package pgvector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	pgv "github.com/pgvector/pgvector-go"
	pgvpgx "github.com/pgvector/pgvector-go/pgx"

	"github.com/koopa0/grounded/internal/core"
	"github.com/koopa0/grounded/internal/log"
	"github.com/koopa0/grounded/internal/vectorstore"
)

// Store talks to PostgreSQL through a pgx connection pool.
type Store struct {
	pool   *pgxpool.Pool
	logger log.Logger
}

var (
	_ vectorstore.Store           = (*Store)(nil)
	_ vectorstore.LexicalSearcher = (*Store)(nil)
	_ vectorstore.Replacer        = (*Store)(nil)
	_ vectorstore.Counter         = (*Store)(nil)
	_ vectorstore.Pinger          = (*Store)(nil)
)

// New connects to the database and verifies reachability.
func New(ctx context.Context, dsn string, logger log.Logger) (*Store, error) {
	if logger == nil {
		logger = log.NewNop()
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgvpgx.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return &Store{pool: pool, logger: logger.With("component", "pgvector")}, nil
}

// Close releases the connection pool.
func (s *Store) Close() { s.pool.Close() }

const upsertSQL = `
INSERT INTO chunks (id, document_id, ordinal, content, start_offset, end_offset, metadata, embedding)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (id) DO UPDATE SET
	document_id = EXCLUDED.document_id,
	ordinal = EXCLUDED.ordinal,
	content = EXCLUDED.content,
	start_offset = EXCLUDED.start_offset,
	end_offset = EXCLUDED.end_offset,
	metadata = EXCLUDED.metadata,
	embedding = EXCLUDED.embedding`

// Upsert inserts or replaces chunks in a single transaction.
func (s *Store) Upsert(ctx context.Context, chunks []core.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	return s.inTx(ctx, func(tx pgx.Tx) error {
		return upsertChunks(ctx, tx, chunks)
	})
}

func upsertChunks(ctx context.Context, tx pgx.Tx, chunks []core.Chunk) error {
	batch := &pgx.Batch{}
	for _, c := range chunks {
		meta, err := json.Marshal(c.Metadata)
		if err != nil {
			return fmt.Errorf("encoding metadata for chunk %s: %w", c.ID, err)
		}
		batch.Queue(upsertSQL, c.ID, c.DocumentID, c.Ordinal, c.Text,
			c.Start, c.End, meta, pgv.NewVector(c.Embedding))
	}
	return tx.SendBatch(ctx, batch).Close()
}

const querySQL = `
SELECT id, document_id, ordinal, content, start_offset, end_offset, metadata, embedding,
       1 - (embedding <=> $1) AS score
FROM chunks
WHERE metadata @> $2
ORDER BY embedding <=> $1, id
LIMIT $3`

// Query returns the k nearest chunks by cosine distance.
func (s *Store) Query(ctx context.Context, vector []float32, k int, filter vectorstore.Filter) ([]core.RetrievalResult, error) {
	filterJSON, err := marshalFilter(filter)
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, querySQL, pgv.NewVector(vector), filterJSON, k)
	if err != nil {
		return nil, s.classify("query", err)
	}
	defer rows.Close()

	results, err := scanResults(rows)
	if err != nil {
		return nil, s.classify("query", err)
	}
	if len(results) == 0 {
		if empty, err := s.indexEmpty(ctx); err == nil && empty {
			return nil, vectorstore.ErrEmptyIndex
		}
	}
	return results, nil
}

const lexicalSQL = `
SELECT id, document_id, ordinal, content, start_offset, end_offset, metadata, embedding,
       ts_rank(tsv, plainto_tsquery('english', $1)) AS score
FROM chunks
WHERE tsv @@ plainto_tsquery('english', $1)
  AND metadata @> $2
ORDER BY score DESC, id
LIMIT $3`

// LexicalQuery ranks chunks by full-text match.
func (s *Store) LexicalQuery(ctx context.Context, query string, k int, filter vectorstore.Filter) ([]core.RetrievalResult, error) {
	filterJSON, err := marshalFilter(filter)
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, lexicalSQL, query, filterJSON, k)
	if err != nil {
		return nil, s.classify("lexical_query", err)
	}
	defer rows.Close()

	results, err := scanResults(rows)
	if err != nil {
		return nil, s.classify("lexical_query", err)
	}
	if len(results) == 0 {
		if empty, err := s.indexEmpty(ctx); err == nil && empty {
			return nil, vectorstore.ErrEmptyIndex
		}
	}
	return results, nil
}

// Replace swaps a document's chunks in one transaction, so readers see the
// old set or the new set, never a partial mix.
func (s *Store) Replace(ctx context.Context, documentID string, chunks []core.Chunk) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM chunks WHERE document_id = $1`, documentID); err != nil {
			return err
		}
		return upsertChunks(ctx, tx, chunks)
	})
}

// Delete removes every chunk of the document.
func (s *Store) Delete(ctx context.Context, documentID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM chunks WHERE document_id = $1`, documentID)
	if err != nil {
		return s.classify("delete", err)
	}
	return nil
}

// Count returns the number of stored chunks.
func (s *Store) Count(ctx context.Context) (int, error) {
	var count int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM chunks`).Scan(&count); err != nil {
		return 0, s.classify("count", err)
	}
	return count, nil
}

// Ping verifies database reachability.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return s.classify("ping", err)
	}
	return nil
}

func (s *Store) inTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return s.classify("begin", err)
	}
	defer func() {
		// Rollback after commit is a no-op.
		_ = tx.Rollback(ctx)
	}()

	if err := fn(tx); err != nil {
		return s.classify("tx", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return s.classify("commit", err)
	}
	return nil
}

func (s *Store) indexEmpty(ctx context.Context) (bool, error) {
	count, err := s.Count(ctx)
	return count == 0, err
}

func scanResults(rows pgx.Rows) ([]core.RetrievalResult, error) {
	var results []core.RetrievalResult
	for rows.Next() {
		var (
			c         core.Chunk
			metaJSON  []byte
			embedding pgv.Vector
			score     float64
		)
		err := rows.Scan(&c.ID, &c.DocumentID, &c.Ordinal, &c.Text,
			&c.Start, &c.End, &metaJSON, &embedding, &score)
		if err != nil {
			return nil, fmt.Errorf("scanning chunk row: %w", err)
		}
		if len(metaJSON) > 0 {
			if err := json.Unmarshal(metaJSON, &c.Metadata); err != nil {
				return nil, fmt.Errorf("decoding metadata for chunk %s: %w", c.ID, err)
			}
		}
		c.Embedding = embedding.Slice()
		results = append(results, core.RetrievalResult{Chunk: c, Score: score})
	}
	return results, rows.Err()
}

func marshalFilter(filter vectorstore.Filter) ([]byte, error) {
	if len(filter) == 0 {
		return []byte(`{}`), nil
	}
	b, err := json.Marshal(filter)
	if err != nil {
		return nil, fmt.Errorf("encoding filter: %w", err)
	}
	return b, nil
}

// classify maps driver failures onto the store error contract. Server-side
// errors (constraint violations, bad SQL) are permanent and pass through;
// anything else is treated as the backend being unreachable.
func (s *Store) classify(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return fmt.Errorf("pgvector %s: %w", op, err)
	}
	s.logger.Warn("backend unreachable", "op", op, "error", err)
	return fmt.Errorf("pgvector %s: %v: %w", op, err, vectorstore.ErrUnavailable)
}
