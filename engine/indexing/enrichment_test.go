package indexing

import (
	"context"
	"errors"
	"testing"

	"github.com/constructionrag/ragcore/engine/domain"
)

type fakeObjects struct {
	data map[string][]byte
	err  error
}

func (f *fakeObjects) Get(ctx context.Context, key string) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.data[key], nil
}

type fakeVLM struct {
	caption string
	err     error
}

func (f *fakeVLM) Caption(ctx context.Context, imageBytes []byte, htmlText, prompt, language, model string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.caption, nil
}

func TestEnrichmentStage_CaptionsTableBothWays(t *testing.T) {
	objects := &fakeObjects{data: map[string][]byte{"table.png": []byte("fakepng")}}
	vlm := &fakeVLM{caption: "a table describing load ratings"}
	stage := NewEnrichmentStage(objects, vlm, nil, domain.EnrichmentConfig{CaptionLanguage: "danish"})

	in := MetadataOutput{
		PartitionOutput: PartitionOutput{
			TableElements: []TableElement{{
				Element:  Element{ID: "t1", Page: 2},
				HTML:     "<table><tr><td>1</td></tr></table>",
				ImageURL: "table.png",
			}},
			ExtractedPages: map[int]PageImage{},
		},
	}

	result := stage(context.Background(), in)
	if result.IsErr() {
		t.Fatalf("unexpected error")
	}
	out, _ := result.Unwrap()
	enr := out.TableElements[0].EnrichmentMeta
	if enr == nil || !enr.VLMProcessed {
		t.Fatal("expected table to be marked processed")
	}
	if enr.TableImageCaption == "" || enr.TableHTMLCaption == "" {
		t.Fatal("expected both image and html captions populated")
	}
}

func TestEnrichmentStage_VLMFailureIsNonFatal(t *testing.T) {
	objects := &fakeObjects{data: map[string][]byte{"table.png": []byte("x")}}
	vlm := &fakeVLM{err: errors.New("vlm unavailable")}
	stage := NewEnrichmentStage(objects, vlm, nil, domain.EnrichmentConfig{})

	in := MetadataOutput{
		PartitionOutput: PartitionOutput{
			TableElements: []TableElement{{
				Element:  Element{ID: "t1", Page: 1},
				ImageURL: "table.png",
			}},
			ExtractedPages: map[int]PageImage{},
		},
	}

	result := stage(context.Background(), in)
	if result.IsErr() {
		t.Fatal("a per-element VLM failure must not fail the stage")
	}
	out, _ := result.Unwrap()
	enr := out.TableElements[0].EnrichmentMeta
	if enr.VLMProcessed {
		t.Fatal("expected VLMProcessed=false on failure")
	}
	if enr.VLMProcessingError == "" {
		t.Fatal("expected VLMProcessingError to be set")
	}
}

func TestEnrichmentStage_FullPageImage(t *testing.T) {
	objects := &fakeObjects{data: map[string][]byte{"page1.png": []byte("x")}}
	vlm := &fakeVLM{caption: "full page transcription"}
	stage := NewEnrichmentStage(objects, vlm, nil, domain.EnrichmentConfig{})

	in := MetadataOutput{
		PartitionOutput: PartitionOutput{
			ExtractedPages: map[int]PageImage{1: {Page: 1, ImageURL: "page1.png"}},
		},
	}

	result := stage(context.Background(), in)
	if result.IsErr() {
		t.Fatal("unexpected error")
	}
	out, _ := result.Unwrap()
	metas, _ := out.DocumentMeta["page_enrichment"].(map[int]*ElementEnrichment)
	if metas == nil || metas[1] == nil || !metas[1].VLMProcessed {
		t.Fatal("expected page 1 enrichment recorded")
	}
}
