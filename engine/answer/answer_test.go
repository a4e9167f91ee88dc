package answer

import (
	"context"
	"strings"
	"testing"

	"github.com/constructionrag/ragcore/engine/adapters"
	"github.com/constructionrag/ragcore/engine/domain"
	"github.com/constructionrag/ragcore/engine/retrieval"
	"github.com/constructionrag/ragcore/pkg/annindex"
)

type fakeChat struct {
	prompt string
	reply  string
	err    error
}

func (f *fakeChat) Chat(ctx context.Context, prompt string, opts adapters.ChatOptions) (string, error) {
	f.prompt = prompt
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(ctx context.Context, texts []string, model string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

type fakeAnn struct{ hits []annindex.Hit }

func (f fakeAnn) Search(ctx context.Context, embedding []float32, topK int, runID string, documentIDs []string) ([]annindex.Hit, error) {
	return f.hits, nil
}

type fakeScanner struct{}

func (fakeScanner) ChunksForRun(ctx context.Context, runID string) ([]domain.Chunk, error) { return nil, nil }

func TestService_QueryCitesRetrievedSources(t *testing.T) {
	ann := fakeAnn{hits: []annindex.Hit{
		{ChunkID: "c1", Score: 0.9, Content: "fire clearance must be 600mm", SourceFilename: "a.pdf", PageNumber: 4},
	}}
	core := retrieval.New(fakeEmbedder{}, ann, fakeScanner{}, domain.RetrievalConfig{
		TopK: 5, DanishThresholds: domain.ThresholdBands{Minimum: 0}, GenericThresholds: domain.ThresholdBands{Minimum: 0},
	})
	chat := &fakeChat{reply: "The clearance must be 600mm [a.pdf, page 4]."}

	svc := New(chat, core, nil, DefaultOptions(), nil)
	ans, err := svc.Query(context.Background(), "what is the fire clearance", "run1", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ans.Text != "The clearance must be 600mm [a.pdf, page 4]." {
		t.Fatalf("unexpected answer text: %q", ans.Text)
	}
	if len(ans.Sources) != 1 || ans.Sources[0].Filename != "a.pdf" {
		t.Fatalf("unexpected sources: %+v", ans.Sources)
	}
	if !strings.Contains(chat.prompt, "a.pdf, page 4") {
		t.Fatalf("expected prompt to carry the citation context, got: %s", chat.prompt)
	}
}

func TestService_QueryPropagatesRetrievalError(t *testing.T) {
	ann := fakeAnn{}
	core := retrieval.New(&errEmbedder{}, ann, fakeScanner{}, domain.RetrievalConfig{TopK: 5})
	svc := New(&fakeChat{}, core, nil, DefaultOptions(), nil)
	_, err := svc.Query(context.Background(), "q", "run1", nil)
	if err == nil {
		t.Fatal("expected error when retrieval fails")
	}
}

type errEmbedder struct{}

func (errEmbedder) Embed(ctx context.Context, texts []string, model string) ([][]float32, error) {
	return nil, context.DeadlineExceeded
}
