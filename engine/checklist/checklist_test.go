package checklist

import (
	"context"
	"errors"
	"testing"

	"github.com/constructionrag/ragcore/engine/adapters"
	"github.com/constructionrag/ragcore/engine/domain"
	"github.com/constructionrag/ragcore/engine/retrieval"
	"github.com/constructionrag/ragcore/pkg/annindex"
)

type fakeChat struct {
	replies []string
	call    int
	err     error
}

func (f *fakeChat) Chat(ctx context.Context, prompt string, opts adapters.ChatOptions) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	r := f.replies[f.call%len(f.replies)]
	f.call++
	return r, nil
}

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(ctx context.Context, texts []string, model string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

type fakeAnn struct{}

func (fakeAnn) Search(ctx context.Context, embedding []float32, topK int, runID string, documentIDs []string) ([]annindex.Hit, error) {
	return nil, nil
}

type fakeScanner struct{ chunks []domain.Chunk }

func (f fakeScanner) ChunksForRun(ctx context.Context, runID string) ([]domain.Chunk, error) {
	return f.chunks, nil
}

func TestParseChecklist_ParsesItemsAndSharedQueriesFromJSON(t *testing.T) {
	chat := &fakeChat{replies: []string{`{"items": [{"number": 1, "name": "Fire exits", "description": "exit width"}],
		"queries": ["fire exit width"]}`}}
	items, queries, err := ParseChecklist(context.Background(), chat, "", "1. Fire exits must be 1200mm wide")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 1 || items[0].Name != "Fire exits" || items[0].Description != "exit width" {
		t.Fatalf("unexpected parse result: %+v", items)
	}
	if len(queries) != 1 || queries[0] != "fire exit width" {
		t.Fatalf("unexpected shared query list: %+v", queries)
	}
}

func TestStructureAll_SchemaPathProducesTypedResults(t *testing.T) {
	chat := &fakeChat{replies: []string{`{"results": [{"number": 1, "status": "found", "description": "met",
		"confidence": 0.9, "sources": [{"filename": "a.pdf", "page": 3, "excerpt": "..."}]}]}`}}
	items := []ParsedItem{{Number: 1, Name: "Fire exits"}}
	results := StructureAll(context.Background(), chat, "", items, "requirement is met per a.pdf page 3")
	if len(results) != 1 || results[0].Status != domain.ChecklistFound {
		t.Fatalf("expected found status, got %+v", results)
	}
	if results[0].PrimarySource == nil || results[0].PrimarySource.Filename != "a.pdf" {
		t.Fatalf("expected primary source a.pdf, got %+v", results[0].PrimarySource)
	}
}

func TestStructureAll_FallsBackToRegexPerItemWhenSchemaCallFails(t *testing.T) {
	chat := &fakeChat{err: errors.New("chat down")}
	items := []ParsedItem{
		{Number: 1, Name: "Fire exits"},
		{Number: 2, Name: "Electrical"},
	}
	rawAnalysis := "Item 1: Fire exits\nrequirement is met per a.pdf, page 3\n\n" +
		"Item 2: Electrical\nThis requirement is missing evidence from b.pdf, page 7\n\n"
	results := StructureAll(context.Background(), chat, "", items, rawAnalysis)
	if len(results) != 2 {
		t.Fatalf("expected one result per item, got %d", len(results))
	}
	if results[0].Status != domain.ChecklistFound {
		t.Fatalf("expected found status via regex fallback for item 1, got %s", results[0].Status)
	}
	if results[1].Status != domain.ChecklistMissing {
		t.Fatalf("expected missing status via regex fallback for item 2, got %s", results[1].Status)
	}
	if results[1].PrimarySource == nil || results[1].PrimarySource.Page != 7 {
		t.Fatalf("expected regex-extracted citation for item 2, got %+v", results[1].PrimarySource)
	}
}

func TestStructureAll_FallsBackToPendingClarificationWhenUnparseable(t *testing.T) {
	chat := &fakeChat{err: errors.New("chat down")}
	items := []ParsedItem{{Number: 3, Name: "Unclear"}}
	results := StructureAll(context.Background(), chat, "", items, "Item 3: Unclear\nno idea what this means at all")
	if len(results) != 1 || results[0].Status != domain.ChecklistPendingClarification {
		t.Fatalf("expected pending_clarification, got %+v", results)
	}
}

func TestAnalyzeItems_SendsSharedEvidenceInOneCall(t *testing.T) {
	chat := &fakeChat{replies: []string{"Item 1: Fire exits\nrequirement is met"}}
	items := []ParsedItem{{Number: 1, Name: "Fire exits", Description: "exit width"}}
	evidence := []retrieval.Result{{ChunkID: "c1", SourceFilename: "a.pdf", PageNumber: 1, Content: "exit width 1200mm"}}

	text, err := AnalyzeItems(context.Background(), chat, "", items, evidence)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if chat.call != 1 {
		t.Fatalf("expected exactly one chat call for all items together, got %d", chat.call)
	}
	if text == "" {
		t.Fatal("expected non-empty analysis text")
	}
}

func TestOrchestrator_RunProducesOneResultPerParsedItem(t *testing.T) {
	chat := &fakeChat{replies: []string{
		`{"items": [{"number": 1, "name": "Fire exits", "description": "exit width"}], "queries": ["fire exit width"]}`,
		"Item 1: Fire exits\nrequirement is met, evidence in a.pdf page 1",
		`{"results": [{"number": 1, "status": "found", "description": "met", "confidence": 0.8, "sources": [{"filename": "a.pdf", "page": 1}]}]}`,
	}}
	scanner := fakeScanner{chunks: []domain.Chunk{
		{ID: "c1", DocumentID: "d1", SourceFilename: "a.pdf", PageNumber: 1, Content: "fire exit width 1200mm", Embedding: []float32{1, 0}},
	}}
	core := retrieval.New(fakeEmbedder{}, fakeAnn{}, scanner, domain.RetrievalConfig{
		TopK: 5, DanishThresholds: domain.ThresholdBands{Minimum: 0}, GenericThresholds: domain.ThresholdBands{Minimum: 0},
	})

	orch := NewOrchestrator(Deps{Chat: chat, Core: core})
	run := &domain.ChecklistRun{ID: "cl1", IndexingRunID: "run1", ChecklistContent: "1. Fire exits"}

	if err := orch.Run(context.Background(), run, "generic", "", ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if run.Status != domain.StatusCompleted {
		t.Fatalf("expected completed, got %s", run.Status)
	}
	if len(run.Items) != 1 {
		t.Fatalf("expected 1 checklist result, got %d", len(run.Items))
	}
	if run.ProgressCurrent != 4 || run.ProgressTotal != 4 {
		t.Fatalf("expected progress 4/4, got %d/%d", run.ProgressCurrent, run.ProgressTotal)
	}
	if chat.call != 3 {
		t.Fatalf("expected exactly 3 chat calls total (parse, analyze, structure), got %d", chat.call)
	}
}
