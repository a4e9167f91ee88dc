package retrieval

import (
	"context"
	"errors"
	"testing"

	"github.com/constructionrag/ragcore/engine/domain"
	"github.com/constructionrag/ragcore/pkg/annindex"
)

type fakeEmbedder struct {
	vectors [][]float32
	err     error
}

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string, model string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	if len(f.vectors) >= len(texts) {
		return f.vectors[:len(texts)], nil
	}
	return f.vectors, nil
}

type fakeAnn struct {
	hits []annindex.Hit
	err  error
}

func (f *fakeAnn) Search(ctx context.Context, embedding []float32, topK int, runID string, documentIDs []string) ([]annindex.Hit, error) {
	return f.hits, f.err
}

type fakeScanner struct {
	chunks []domain.Chunk
	err    error
}

func (f *fakeScanner) ChunksForRun(ctx context.Context, runID string) ([]domain.Chunk, error) {
	return f.chunks, f.err
}

func testConfig() domain.RetrievalConfig {
	return domain.RetrievalConfig{
		TopK:             3,
		DanishThresholds: domain.ThresholdBands{Excellent: 0.70, Good: 0.55, Acceptable: 0.35, Minimum: 0.20},
		GenericThresholds: domain.ThresholdBands{
			Excellent: 0.75, Good: 0.60, Acceptable: 0.40, Minimum: 0.25,
		},
	}
}

func TestCore_QueryUsesPrimarySearchWhenItReturnsHits(t *testing.T) {
	embedder := &fakeEmbedder{vectors: [][]float32{{1, 0, 0}}}
	ann := &fakeAnn{hits: []annindex.Hit{
		{ChunkID: "c1", Score: 0.9, Content: "fire clearance is 600mm", DocumentID: "d1"},
		{ChunkID: "c2", Score: 0.15, Content: "unrelated passage", DocumentID: "d1"},
	}}
	scanner := &fakeScanner{chunks: []domain.Chunk{{ID: "should-not-be-used", DocumentID: "d1"}}}

	core := New(embedder, ann, scanner, testConfig())
	results, err := core.Query(context.Background(), "fire clearance?", "run1", nil, "danish", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result above the danish minimum threshold, got %d", len(results))
	}
	if results[0].ChunkID != "c1" {
		t.Fatalf("expected top result c1, got %s", results[0].ChunkID)
	}
}

func TestCore_FallsBackToScanWhenPrimaryReturnsNothing(t *testing.T) {
	embedder := &fakeEmbedder{vectors: [][]float32{{1, 0, 0}}}
	ann := &fakeAnn{hits: nil}
	scanner := &fakeScanner{chunks: []domain.Chunk{
		{ID: "c1", DocumentID: "d1", Content: "matching content", Embedding: []float32{1, 0, 0}},
		{ID: "c2", DocumentID: "d1", Content: "orthogonal content", Embedding: []float32{0, 1, 0}},
	}}

	core := New(embedder, ann, scanner, testConfig())
	results, err := core.Query(context.Background(), "q", "run1", nil, "danish", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 || results[0].ChunkID != "c1" {
		t.Fatalf("expected only the cosine-aligned chunk c1 to survive thresholding, got %+v", results)
	}
}

func TestCore_FallsBackToScanOnPrimaryError(t *testing.T) {
	embedder := &fakeEmbedder{vectors: [][]float32{{1, 0, 0}}}
	ann := &fakeAnn{err: errors.New("qdrant unavailable")}
	scanner := &fakeScanner{chunks: []domain.Chunk{
		{ID: "c1", DocumentID: "d1", Content: "content", Embedding: []float32{1, 0, 0}},
	}}

	core := New(embedder, ann, scanner, testConfig())
	results, err := core.Query(context.Background(), "q", "run1", nil, "generic", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected fallback scan result, got %d", len(results))
	}
}

func TestCore_DedupesByContentPrefix(t *testing.T) {
	embedder := &fakeEmbedder{vectors: [][]float32{{1, 0, 0}}}
	ann := &fakeAnn{hits: []annindex.Hit{
		{ChunkID: "c1", Score: 0.9, Content: "duplicate passage text", DocumentID: "d1"},
		{ChunkID: "c2", Score: 0.8, Content: "duplicate passage text", DocumentID: "d2"},
	}}
	scanner := &fakeScanner{}

	core := New(embedder, ann, scanner, testConfig())
	results, err := core.Query(context.Background(), "q", "run1", nil, "generic", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected duplicate content to be deduped, got %d results", len(results))
	}
}

func TestCore_TruncatesToTopK(t *testing.T) {
	embedder := &fakeEmbedder{vectors: [][]float32{{1, 0, 0}}}
	hits := make([]annindex.Hit, 0, 10)
	for i := 0; i < 10; i++ {
		hits = append(hits, annindex.Hit{
			ChunkID: string(rune('a' + i)), Score: 0.9, Content: string(rune('a'+i)) + " unique content here", DocumentID: "d1",
		})
	}
	ann := &fakeAnn{hits: hits}
	scanner := &fakeScanner{}

	core := New(embedder, ann, scanner, testConfig())
	results, err := core.Query(context.Background(), "q", "run1", nil, "generic", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected truncation to configured top_k=3, got %d", len(results))
	}
}

func TestCore_EmbedErrorPropagates(t *testing.T) {
	embedder := &fakeEmbedder{err: errors.New("embedder down")}
	core := New(embedder, &fakeAnn{}, &fakeScanner{}, testConfig())
	_, err := core.Query(context.Background(), "q", "run1", nil, "danish", "")
	if err == nil {
		t.Fatal("expected error when the embedder fails")
	}
}
