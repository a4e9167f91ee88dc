package indexing

import (
	"context"
	"sync"
	"testing"

	"github.com/constructionrag/ragcore/engine/adapters"
	"github.com/constructionrag/ragcore/engine/domain"
)

type fakePartitionClient struct{}

func (fakePartitionClient) Analyze(ctx context.Context, pdfBytes []byte, cfg adapters.PartitionConfig) (adapters.PartitionOutput, error) {
	return adapters.PartitionOutput{
		TextElements: []adapters.PartitionElement{
			{ID: "e1", Page: 1, Text: "Fire safety clearance must be at least 600mm.", Category: "NarrativeText"},
		},
		ExtractedPages: map[int]adapters.PartitionPageImage{},
	}, nil
}

type memStore struct {
	mu      sync.Mutex
	stages  map[string]domain.StageResult
	chunks  []domain.Chunk
	status  domain.RunStatus
	errMsg  string
}

func newMemStore() *memStore {
	return &memStore{stages: map[string]domain.StageResult{}}
}

func stageKey(runID string, stage domain.StageName, documentID string) string {
	return runID + "|" + string(stage) + "|" + documentID
}

func (m *memStore) SaveStageResult(ctx context.Context, res domain.StageResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stages[stageKey(res.RunID, res.Stage, res.Summary["document_id"].(string))] = res
	return nil
}

func (m *memStore) LoadStageResult(ctx context.Context, runID string, stage domain.StageName, documentID string) (domain.StageResult, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res, ok := m.stages[stageKey(runID, stage, documentID)]
	return res, ok, nil
}

func (m *memStore) SaveChunks(ctx context.Context, chunks []domain.Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chunks = append(m.chunks, chunks...)
	return nil
}

func (m *memStore) ChunksForRun(ctx context.Context, runID string) ([]domain.Chunk, error) {
	return m.chunks, nil
}

func (m *memStore) UpdateRunStatus(ctx context.Context, runID string, status domain.RunStatus, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status = status
	m.errMsg = errMsg
	return nil
}

func TestOrchestrator_RunCompletesAndEmbedsAllChunks(t *testing.T) {
	store := newMemStore()
	deps := Deps{
		Objects:   &fakeObjects{data: map[string][]byte{"doc1.pdf": []byte("%PDF-fake")}},
		Partition: fakePartitionClient{},
		VLM:       &fakeVLM{caption: "n/a"},
		Embedder:  &fakeEmbedder{dim: domain.EmbeddingDimension},
		Store:     store,
	}
	orch := NewOrchestrator(deps, 2, nil)

	run := domain.IndexingRun{ID: "run1", ConfigSnapshot: domain.DefaultConfig()}
	docs := []DocumentDescriptor{{ID: "doc1", Filename: "doc1.pdf", BlobKey: "doc1.pdf"}}

	status, err := orch.Run(context.Background(), run, docs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status != domain.StatusCompleted {
		t.Fatalf("expected completed, got %s", status)
	}
	if len(store.chunks) == 0 {
		t.Fatal("expected chunks to be persisted")
	}
	for _, c := range store.chunks {
		if len(c.Embedding) != domain.EmbeddingDimension {
			t.Fatal("expected every persisted chunk to carry an embedding")
		}
	}
}

func TestOrchestrator_SkipsCachedCompletedStage(t *testing.T) {
	store := newMemStore()
	deps := Deps{
		Objects:   &fakeObjects{data: map[string][]byte{"doc1.pdf": []byte("%PDF-fake")}},
		Partition: fakePartitionClient{},
		VLM:       &fakeVLM{caption: "n/a"},
		Embedder:  &fakeEmbedder{dim: domain.EmbeddingDimension},
		Store:     store,
	}
	orch := NewOrchestrator(deps, 2, nil)
	run := domain.IndexingRun{ID: "run1", ConfigSnapshot: domain.DefaultConfig()}
	docs := []DocumentDescriptor{{ID: "doc1", Filename: "doc1.pdf", BlobKey: "doc1.pdf"}}

	if _, err := orch.Run(context.Background(), run, docs); err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	firstChunkCount := len(store.chunks)

	// rerun with the same config: partition should be skipped via cache, not
	// re-invoked against a partition client that would now fail.
	deps.Partition = failingPartitionClient{}
	orch2 := NewOrchestrator(deps, 2, nil)
	status, err := orch2.Run(context.Background(), run, docs)
	if err != nil {
		t.Fatalf("unexpected error on rerun: %v", err)
	}
	if status != domain.StatusCompleted {
		t.Fatalf("expected completed on rerun, got %s", status)
	}
	if len(store.chunks) != firstChunkCount*2 {
		t.Fatalf("expected chunks to be appended again from cached pipeline stages")
	}
}

type failingPartitionClient struct{}

func (failingPartitionClient) Analyze(ctx context.Context, pdfBytes []byte, cfg adapters.PartitionConfig) (adapters.PartitionOutput, error) {
	panic("partition should not be invoked when the stage result is cached")
}
