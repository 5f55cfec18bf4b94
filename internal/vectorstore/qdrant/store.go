// Package qdrant implements the vector store contract on a Qdrant instance
// over gRPC. Chunks become points whose payload carries the chunk fields;
// metadata keys are stored under a "meta." prefix so filters can target them
// with field conditions.
//
// Qdrant has no full-text ranking comparable to PostgreSQL's, so this store
// deliberately does not implement lexical search; hybrid retrieval degrades
// when it is the only backend.
package qdrant

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/koopa0/grounded/internal/core"
	"github.com/koopa0/grounded/internal/log"
	"github.com/koopa0/grounded/internal/vectorstore"
)

// pointNamespace makes point UUIDs a pure function of the chunk ID, so
// re-upserting a chunk overwrites its point instead of duplicating it.
var pointNamespace = uuid.MustParse("8a6e1a2e-6f1d-4c3b-9a57-0f2d1e4b8c33")

const metaPrefix = "meta."

// Store talks to Qdrant through the points and collections gRPC services.
type Store struct {
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient
	health      pb.QdrantClient
	collection  string
	logger      log.Logger
}

var (
	_ vectorstore.Store    = (*Store)(nil)
	_ vectorstore.Replacer = (*Store)(nil)
	_ vectorstore.Counter  = (*Store)(nil)
	_ vectorstore.Pinger   = (*Store)(nil)
)

// Config holds connection parameters.
type Config struct {
	Host       string
	Port       int
	Collection string
	VectorDim  int
}

// New connects and ensures the collection exists with the expected vector
// dimensionality.
func New(ctx context.Context, cfg Config, logger log.Logger) (*Store, error) {
	if logger == nil {
		logger = log.NewNop()
	}
	if cfg.Collection == "" {
		return nil, fmt.Errorf("collection name is required")
	}
	if cfg.VectorDim < 1 {
		return nil, fmt.Errorf("vector dimension must be positive, got %d", cfg.VectorDim)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("connecting to qdrant at %s: %w", addr, err)
	}

	s := &Store{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		health:      pb.NewQdrantClient(conn),
		collection:  cfg.Collection,
		logger:      logger.With("component", "qdrant"),
	}

	if err := s.ensureCollection(ctx, cfg.VectorDim); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the gRPC connection.
func (s *Store) Close() error { return s.conn.Close() }

func (s *Store) ensureCollection(ctx context.Context, dim int) error {
	list, err := s.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return s.classify("list_collections", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == s.collection {
			return nil
		}
	}

	_, err = s.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(dim),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return s.classify("create_collection", err)
	}
	s.logger.Info("created collection", "collection", s.collection, "dim", dim)
	return nil
}

// Upsert writes chunks as points, waiting for the write to be applied.
func (s *Store) Upsert(ctx context.Context, chunks []core.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	points := make([]*pb.PointStruct, 0, len(chunks))
	for _, c := range chunks {
		if len(c.Embedding) == 0 {
			return fmt.Errorf("chunk %s has no embedding", c.ID)
		}
		points = append(points, &pb.PointStruct{
			Id:      pointID(c.ID),
			Vectors: newVectors(c.Embedding),
			Payload: chunkPayload(c),
		})
	}

	wait := true
	_, err := s.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: s.collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return s.classify("upsert", err)
	}
	return nil
}

// Query searches the collection and maps points back to chunks.
func (s *Store) Query(ctx context.Context, vector []float32, k int, filter vectorstore.Filter) ([]core.RetrievalResult, error) {
	resp, err := s.points.Search(ctx, &pb.SearchPoints{
		CollectionName: s.collection,
		Vector:         vector,
		Limit:          uint64(k),
		Filter:         metadataFilter(filter),
		WithPayload: &pb.WithPayloadSelector{
			SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true},
		},
		WithVectors: &pb.WithVectorsSelector{
			SelectorOptions: &pb.WithVectorsSelector_Enable{Enable: true},
		},
	})
	if err != nil {
		return nil, s.classify("search", err)
	}

	scored := resp.GetResult()
	if len(scored) == 0 {
		if count, err := s.Count(ctx); err == nil && count == 0 {
			return nil, vectorstore.ErrEmptyIndex
		}
	}

	results := make([]core.RetrievalResult, 0, len(scored))
	for _, point := range scored {
		c, err := chunkFromPayload(point.GetPayload())
		if err != nil {
			return nil, fmt.Errorf("decoding point payload: %w", err)
		}
		c.Embedding = point.GetVectors().GetVector().GetData()
		results = append(results, core.RetrievalResult{
			Chunk: c,
			Score: float64(point.GetScore()),
		})
	}
	vectorstore.SortResults(results)
	return results, nil
}

// Replace deletes the document's points and upserts the new set. Qdrant has
// no cross-request transaction, so a reader racing a replace can observe the
// gap between delete and upsert.
func (s *Store) Replace(ctx context.Context, documentID string, chunks []core.Chunk) error {
	if err := s.Delete(ctx, documentID); err != nil {
		return err
	}
	return s.Upsert(ctx, chunks)
}

// Delete removes every point of the document via a payload filter.
func (s *Store) Delete(ctx context.Context, documentID string) error {
	wait := true
	_, err := s.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: s.collection,
		Wait:           &wait,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Filter{
				Filter: &pb.Filter{
					Must: []*pb.Condition{keywordCondition("document_id", documentID)},
				},
			},
		},
	})
	if err != nil {
		return s.classify("delete", err)
	}
	return nil
}

// Count returns the exact number of stored points.
func (s *Store) Count(ctx context.Context) (int, error) {
	exact := true
	resp, err := s.points.Count(ctx, &pb.CountPoints{
		CollectionName: s.collection,
		Exact:          &exact,
	})
	if err != nil {
		return 0, s.classify("count", err)
	}
	return int(resp.GetResult().GetCount()), nil
}

// Ping checks instance health.
func (s *Store) Ping(ctx context.Context) error {
	if _, err := s.health.HealthCheck(ctx, &pb.HealthCheckRequest{}); err != nil {
		return s.classify("ping", err)
	}
	return nil
}

func pointID(chunkID string) *pb.PointId {
	return &pb.PointId{
		PointIdOptions: &pb.PointId_Uuid{
			Uuid: uuid.NewSHA1(pointNamespace, []byte(chunkID)).String(),
		},
	}
}

func newVectors(data []float32) *pb.Vectors {
	return &pb.Vectors{
		VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: data}},
	}
}

func stringValue(s string) *pb.Value {
	return &pb.Value{Kind: &pb.Value_StringValue{StringValue: s}}
}

func intValue(i int) *pb.Value {
	return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: int64(i)}}
}

func chunkPayload(c core.Chunk) map[string]*pb.Value {
	payload := map[string]*pb.Value{
		"chunk_id":     stringValue(c.ID),
		"document_id":  stringValue(c.DocumentID),
		"ordinal":      intValue(c.Ordinal),
		"content":      stringValue(c.Text),
		"start_offset": intValue(c.Start),
		"end_offset":   intValue(c.End),
	}
	for key, value := range c.Metadata {
		payload[metaPrefix+key] = stringValue(value)
	}
	return payload
}

func chunkFromPayload(payload map[string]*pb.Value) (core.Chunk, error) {
	id := payload["chunk_id"].GetStringValue()
	if id == "" {
		return core.Chunk{}, fmt.Errorf("point payload missing chunk_id")
	}

	c := core.Chunk{
		ID:         id,
		DocumentID: payload["document_id"].GetStringValue(),
		Ordinal:    int(payload["ordinal"].GetIntegerValue()),
		Text:       payload["content"].GetStringValue(),
		Start:      int(payload["start_offset"].GetIntegerValue()),
		End:        int(payload["end_offset"].GetIntegerValue()),
	}
	for key, value := range payload {
		if !strings.HasPrefix(key, metaPrefix) {
			continue
		}
		if c.Metadata == nil {
			c.Metadata = make(map[string]string)
		}
		c.Metadata[strings.TrimPrefix(key, metaPrefix)] = value.GetStringValue()
	}
	return c, nil
}

func metadataFilter(filter vectorstore.Filter) *pb.Filter {
	if len(filter) == 0 {
		return nil
	}
	conditions := make([]*pb.Condition, 0, len(filter))
	for key, value := range filter {
		conditions = append(conditions, keywordCondition(metaPrefix+key, value))
	}
	return &pb.Filter{Must: conditions}
}

func keywordCondition(key, value string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key: key,
				Match: &pb.Match{
					MatchValue: &pb.Match_Keyword{Keyword: value},
				},
			},
		},
	}
}

// classify maps gRPC failures onto the store error contract. Transport-level
// failures become ErrUnavailable so the chain can fail over.
func (s *Store) classify(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted:
		s.logger.Warn("backend unreachable", "op", op, "error", err)
		return fmt.Errorf("qdrant %s: %v: %w", op, err, vectorstore.ErrUnavailable)
	}
	return fmt.Errorf("qdrant %s: %w", op, err)
}
