package retrieval

import (
	"context"
	"testing"

	"github.com/constructionrag/ragcore/engine/domain"
)

func TestCore_BatchQueryUnionsAndDedupesByMaxScore(t *testing.T) {
	embedder := &fakeEmbedder{vectors: [][]float32{
		{1, 0, 0},
		{0, 1, 0},
	}}
	scanner := &fakeScanner{chunks: []domain.Chunk{
		{ID: "c1", DocumentID: "d1", Content: "aligned with query one", Embedding: []float32{1, 0, 0}},
		{ID: "c2", DocumentID: "d1", Content: "aligned with query two", Embedding: []float32{0, 1, 0}},
		{ID: "c3", DocumentID: "d1", Content: "orthogonal to both", Embedding: []float32{0, 0, 1}},
	}}
	core := New(embedder, &fakeAnn{}, scanner, testConfig())

	results, err := core.BatchQuery(context.Background(), []string{"query one", "query two"}, "run1", nil, "generic", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected both aligned chunks to survive union+threshold, got %d: %+v", len(results), results)
	}
	byID := map[string]Result{}
	for _, r := range results {
		byID[r.ChunkID] = r
	}
	if _, ok := byID["c1"]; !ok {
		t.Fatal("expected c1 in union")
	}
	if _, ok := byID["c2"]; !ok {
		t.Fatal("expected c2 in union")
	}
	if _, ok := byID["c3"]; ok {
		t.Fatal("expected c3 excluded: below threshold against both queries")
	}
}

func TestCore_BatchQueryEmptyQueriesReturnsNil(t *testing.T) {
	core := New(&fakeEmbedder{}, &fakeAnn{}, &fakeScanner{}, testConfig())
	results, err := core.BatchQuery(context.Background(), nil, "run1", nil, "generic", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if results != nil {
		t.Fatalf("expected nil result for no queries, got %+v", results)
	}
}
