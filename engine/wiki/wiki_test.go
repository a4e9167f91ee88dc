package wiki

import (
	"context"
	"errors"
	"testing"

	"github.com/constructionrag/ragcore/engine/adapters"
	"github.com/constructionrag/ragcore/engine/domain"
	"github.com/constructionrag/ragcore/engine/retrieval"
	"github.com/constructionrag/ragcore/pkg/annindex"
)

type fakeChunkSource struct {
	chunks []domain.Chunk
}

func (f *fakeChunkSource) ChunksForRun(ctx context.Context, runID string) ([]domain.Chunk, error) {
	return f.chunks, nil
}

type fakeChat struct {
	reply string
	err   error
}

func (f *fakeChat) Chat(ctx context.Context, prompt string, opts adapters.ChatOptions) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(ctx context.Context, texts []string, model string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

type fakeAnn struct{}

func (fakeAnn) Search(ctx context.Context, embedding []float32, topK int, runID string, documentIDs []string) ([]annindex.Hit, error) {
	return nil, nil
}

func TestCollectMetadata_AggregatesPerDocument(t *testing.T) {
	source := &fakeChunkSource{chunks: []domain.Chunk{
		{DocumentID: "d1", SourceFilename: "a.pdf", PageNumber: 3, SectionTitle: "Fire Safety"},
		{DocumentID: "d1", SourceFilename: "a.pdf", PageNumber: 5, SectionTitle: "Fire Safety"},
		{DocumentID: "d2", SourceFilename: "b.pdf", PageNumber: 1, SectionTitle: "Electrical"},
	}}
	summaries, err := CollectMetadata(context.Background(), source, "run1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("expected 2 document summaries, got %d", len(summaries))
	}
	if summaries[0].DocumentID != "d1" || summaries[0].ChunkCount != 2 || summaries[0].PageCount != 5 {
		t.Fatalf("unexpected d1 summary: %+v", summaries[0])
	}
	if len(summaries[0].Sections) != 1 || summaries[0].Sections[0] != "Fire Safety" {
		t.Fatalf("expected deduped section list, got %+v", summaries[0].Sections)
	}
}

func TestClusterChunks_GroupsByEmbeddingProximity(t *testing.T) {
	chunks := []domain.Chunk{
		{ID: "c1", Embedding: []float32{1, 0, 0, 0}},
		{ID: "c2", Embedding: []float32{0.9, 0.1, 0, 0}},
		{ID: "c3", Embedding: []float32{0, 1, 0, 0}},
		{ID: "c4", Embedding: []float32{0, 0.9, 0.1, 0}},
	}
	chat := &fakeChat{reply: "Named Topic"}
	clusters, err := ClusterChunks(context.Background(), chat, "", chunks, 2, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(clusters) == 0 {
		t.Fatal("expected at least one cluster")
	}
	total := 0
	for _, c := range clusters {
		total += len(c.ChunkIDs)
	}
	if total != len(chunks) {
		t.Fatalf("expected every chunk assigned exactly once, got %d of %d", total, len(chunks))
	}
}

func TestClusterChunks_SkipsUnembeddedChunks(t *testing.T) {
	chunks := []domain.Chunk{{ID: "c1", Embedding: nil}}
	clusters, err := ClusterChunks(context.Background(), &fakeChat{}, "", chunks, 2, 4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if clusters != nil {
		t.Fatalf("expected no clusters when no chunk carries an embedding, got %+v", clusters)
	}
}

func TestClusterChunks_FallsBackToDeterministicNameOnChatFailure(t *testing.T) {
	chunks := []domain.Chunk{
		{ID: "c1", Embedding: []float32{1, 0}},
		{ID: "c2", Embedding: []float32{0, 1}},
	}
	chat := &fakeChat{err: errors.New("chat unavailable")}
	clusters, err := ClusterChunks(context.Background(), chat, "", chunks, 2, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, c := range clusters {
		found := false
		for _, n := range fallbackClusterNames {
			if c.Name == n {
				found = true
			}
		}
		if !found {
			t.Fatalf("expected fallback cluster name, got %q", c.Name)
		}
	}
}

func TestGenerateStructure_SynthesizesOverviewWhenMissing(t *testing.T) {
	chat := &fakeChat{reply: `{"pages": [{"title": "Electrical Systems", "description": "desc", "queries": ["q1"]}]}`}
	pages, err := GenerateStructure(context.Background(), chat, "", nil, nil, 5, 2, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pages) != 2 {
		t.Fatalf("expected overview prepended, got %d pages", len(pages))
	}
	if pages[0].Title != "Overview" {
		t.Fatalf("expected first page to be synthesized overview, got %q", pages[0].Title)
	}
}

func TestGenerateStructure_ParsesFencedJSON(t *testing.T) {
	chat := &fakeChat{reply: "Here is the structure:\n```json\n{\"pages\": [{\"title\": \"Overview\", \"description\": \"d\", \"queries\": [\"q\"]}]}\n```"}
	pages, err := GenerateStructure(context.Background(), chat, "", nil, nil, 5, 2, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pages) != 1 || pages[0].Title != "Overview" {
		t.Fatalf("expected fence-stripped overview page, got %+v", pages)
	}
}

func TestGenerateStructure_SynthesizesDanishOverviewTitle(t *testing.T) {
	chat := &fakeChat{reply: `{"pages": [{"title": "Elektriske systemer", "description": "desc", "queries": ["q1"]}]}`}
	pages, err := GenerateStructure(context.Background(), chat, "", nil, nil, 5, 2, "danish")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pages[0].Title != "Oversigt" {
		t.Fatalf("expected synthesized Danish overview title, got %q", pages[0].Title)
	}
}

func TestGenerateStructure_RecognizesDanishOverviewTitle(t *testing.T) {
	chat := &fakeChat{reply: `{"pages": [{"title": "Projekt Oversigt", "description": "d", "queries": ["q"]}]}`}
	pages, err := GenerateStructure(context.Background(), chat, "", nil, nil, 5, 2, "danish")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pages) != 1 {
		t.Fatalf("expected no overview page synthesized when one already matches, got %d pages", len(pages))
	}
}

func TestOrchestrator_RunProducesPagesAndPersistsMarkdown(t *testing.T) {
	chunkSource := &fakeChunkSource{chunks: []domain.Chunk{
		{ID: "c1", DocumentID: "d1", SourceFilename: "a.pdf", PageNumber: 1, Content: "fire clearance 600mm", Embedding: []float32{1, 0, 0}},
	}}
	core := retrieval.New(fakeEmbedder{}, fakeAnn{}, chunkSource, domain.RetrievalConfig{
		TopK: 5, DanishThresholds: domain.ThresholdBands{Minimum: 0}, GenericThresholds: domain.ThresholdBands{Minimum: 0},
	})
	chat := &fakeChat{reply: `{"pages": [{"title": "Overview", "description": "d", "queries": ["q"]}, {"title": "Fire Safety", "description": "d2", "queries": ["fire clearance"]}]}`}

	deps := Deps{Chunks: chunkSource, Core: core, Chat: chat, Stages: nil}
	orch := NewOrchestrator(deps, domain.WikiConfig{
		Generation:       domain.WikiGenerationConfig{MaxPages: 5, QueriesPerPage: 2},
		SemanticClusters: domain.SemanticClustersConfig{MinClusters: 1, MaxClusters: 2},
		SkipClustering:   true,
	})

	run := &domain.WikiRun{ID: "wiki1", IndexingRunID: "run1"}
	if err := orch.Run(context.Background(), run, "generic", "", ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if run.Status != domain.StatusCompleted {
		t.Fatalf("expected completed, got %s", run.Status)
	}
	if len(run.Pages) != 2 {
		t.Fatalf("expected 2 pages, got %d", len(run.Pages))
	}
}
