// Package annindex is the primary approximate-nearest-neighbor search path
// for chunk retrieval, backed by Qdrant. It is the sole owner of all Qdrant
// operations: the Embedding stage writes through it after embedding a run's
// chunks, and the Retrieval Core reads through it as the primary search step
// before falling back to a client-side scan over the relational store.
package annindex

import (
	"context"
	"fmt"

	"github.com/constructionrag/ragcore/engine/domain"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Hit is a single nearest-neighbor search result, carrying enough metadata
// to reconstruct a domain.Chunk for ranking and citation without a second
// round trip to the relational store.
type Hit struct {
	ChunkID         string
	Score           float32
	Content         string
	DocumentID      string
	IndexingRunID   string
	PageNumber      int
	SectionTitle    string
	SourceFilename  string
	ElementCategory string
	HasNumbers      bool
}

// Index is the Qdrant-backed primary ANN write/search path.
type Index struct {
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient
	collection  string
}

// New dials Qdrant at addr and scopes all operations to one collection.
func New(addr, collection string) (*Index, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("annindex: dial qdrant %s: %w", addr, err)
	}
	return &Index{conn: conn, points: pb.NewPointsClient(conn), collections: pb.NewCollectionsClient(conn), collection: collection}, nil
}

// Close closes the underlying gRPC connection.
func (x *Index) Close() error {
	return x.conn.Close()
}

// EnsureCollection creates the collection, sized for domain.EmbeddingDimension,
// if it does not already exist.
func (x *Index) EnsureCollection(ctx context.Context) error {
	list, err := x.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("annindex: list collections: %w", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == x.collection {
			return nil
		}
	}

	_, err = x.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: x.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(domain.EmbeddingDimension),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("annindex: create collection %s: %w", x.collection, err)
	}
	return nil
}

// Upsert writes every embedded chunk of a run into the index. Chunks with a
// nil embedding (left null by the Embedding stage after exhausting retries)
// are skipped, per the retrieval rule that null-embedding chunks are excluded.
func (x *Index) Upsert(ctx context.Context, runID string, chunks []domain.Chunk) error {
	points := make([]*pb.PointStruct, 0, len(chunks))
	for _, c := range chunks {
		if c.Embedding == nil {
			continue
		}
		points = append(points, &pb.PointStruct{
			Id:      &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: c.ID}},
			Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: c.Embedding}}},
			Payload: chunkPayload(runID, c),
		})
	}
	if len(points) == 0 {
		return nil
	}

	wait := true
	_, err := x.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: x.collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("annindex: upsert %d points: %w", len(points), err)
	}
	return nil
}

// DeleteByRun removes every point belonging to a run, for re-indexing.
func (x *Index) DeleteByRun(ctx context.Context, runID string) error {
	wait := true
	_, err := x.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: x.collection,
		Wait:           &wait,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Filter{
				Filter: &pb.Filter{Must: []*pb.Condition{fieldMatch("indexing_run_id", runID)}},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("annindex: delete by run %s: %w", runID, err)
	}
	return nil
}

// Search performs k-NN similarity search scoped to one indexing run,
// optionally narrowed to a set of document IDs. It is the Retrieval Core's
// primary search step (match_chunks equivalent); the Retrieval Core ranks
// the hits by the Score Qdrant returns and neither recomputes it nor derives
// a rank-based score in its place.
func (x *Index) Search(ctx context.Context, embedding []float32, topK int, runID string, documentIDs []string) ([]Hit, error) {
	must := []*pb.Condition{fieldMatch("indexing_run_id", runID)}
	if len(documentIDs) > 0 {
		should := make([]*pb.Condition, len(documentIDs))
		for i, id := range documentIDs {
			should[i] = fieldMatch("document_id", id)
		}
		must = append(must, &pb.Condition{
			ConditionOneOf: &pb.Condition_Filter{Filter: &pb.Filter{Should: should}},
		})
	}

	req := &pb.SearchPoints{
		CollectionName: x.collection,
		Vector:         embedding,
		Limit:          uint64(topK),
		Filter:         &pb.Filter{Must: must},
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	}

	resp, err := x.points.Search(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("annindex: search: %w", err)
	}

	hits := make([]Hit, len(resp.GetResult()))
	for i, r := range resp.GetResult() {
		hits[i] = hitFromScoredPoint(r)
	}
	return hits, nil
}

func chunkPayload(runID string, c domain.Chunk) map[string]*pb.Value {
	return map[string]*pb.Value{
		"content":          strVal(c.Content),
		"document_id":      strVal(c.DocumentID),
		"indexing_run_id":  strVal(runID),
		"page_number":      intVal(c.PageNumber),
		"section_title":    strVal(c.SectionTitle),
		"source_filename":  strVal(c.SourceFilename),
		"element_category": strVal(string(c.ElementCategory)),
		"has_numbers":      boolVal(c.HasNumbers),
	}
}

func hitFromScoredPoint(r *pb.ScoredPoint) Hit {
	h := Hit{ChunkID: r.GetId().GetUuid(), Score: r.GetScore()}
	for k, v := range r.GetPayload() {
		switch k {
		case "content":
			h.Content = v.GetStringValue()
		case "document_id":
			h.DocumentID = v.GetStringValue()
		case "indexing_run_id":
			h.IndexingRunID = v.GetStringValue()
		case "page_number":
			h.PageNumber = int(v.GetIntegerValue())
		case "section_title":
			h.SectionTitle = v.GetStringValue()
		case "source_filename":
			h.SourceFilename = v.GetStringValue()
		case "element_category":
			h.ElementCategory = v.GetStringValue()
		case "has_numbers":
			h.HasNumbers = v.GetBoolValue()
		}
	}
	return h
}

func strVal(s string) *pb.Value  { return &pb.Value{Kind: &pb.Value_StringValue{StringValue: s}} }
func intVal(i int) *pb.Value     { return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: int64(i)}} }
func boolVal(b bool) *pb.Value   { return &pb.Value{Kind: &pb.Value_BoolValue{BoolValue: b}} }

func fieldMatch(key, value string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{Key: key, Match: &pb.Match{MatchValue: &pb.Match_Keyword{Keyword: value}}},
		},
	}
}
