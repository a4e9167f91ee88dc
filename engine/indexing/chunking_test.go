package indexing

import (
	"context"
	"strings"
	"testing"

	"github.com/constructionrag/ragcore/engine/domain"
)

func TestChunkingStage_BaseChunksFromElements(t *testing.T) {
	stage := NewChunkingStage(domain.ChunkingConfig{MinChunkSize: 10, MaxChunkSize: 1000, Overlap: 20})
	in := EnrichmentOutput{MetadataOutput: MetadataOutput{PartitionOutput: PartitionOutput{
		Document: DocumentDescriptor{ID: "doc1"},
		TextElements: []Element{
			{ID: "e1", Page: 1, Text: "This is a reasonably long narrative paragraph about ventilation ducts and fire safety requirements.", Category: domain.CategoryNarrativeText},
		},
	}}}

	result := stage(context.Background(), in)
	if result.IsErr() {
		t.Fatal("unexpected error")
	}
	out, _ := result.Unwrap()
	if out.Stats.TotalChunksCreated != 1 {
		t.Fatalf("expected 1 chunk, got %d", out.Stats.TotalChunksCreated)
	}
	if out.Chunks[0].Content == "" {
		t.Fatal("chunk content must not be empty")
	}
}

func TestChunkingStage_TableChunkIncludesCaptions(t *testing.T) {
	stage := NewChunkingStage(domain.ChunkingConfig{MinChunkSize: 10, MaxChunkSize: 1000, Overlap: 20})
	in := EnrichmentOutput{MetadataOutput: MetadataOutput{PartitionOutput: PartitionOutput{
		Document: DocumentDescriptor{ID: "doc1"},
		TableElements: []TableElement{{
			Element: Element{
				ID: "t1", Page: 2, Text: "<table>raw html</table>", Category: domain.CategoryTable,
				EnrichmentMeta: &ElementEnrichment{
					TableImageCaption: "image caption text",
					TableHTMLCaption:  "html caption text",
					VLMProcessed:      true,
				},
			},
		}},
	}}}

	result := stage(context.Background(), in)
	out, _ := result.Unwrap()
	content := out.Chunks[0].Content
	if !strings.Contains(content, "image caption text") || !strings.Contains(content, "html caption text") {
		t.Fatalf("expected both captions in chunk content, got %q", content)
	}
}

func TestChunkingStage_SplitsOversizedContent(t *testing.T) {
	stage := NewChunkingStage(domain.ChunkingConfig{MinChunkSize: 1, MaxChunkSize: 50, Overlap: 5})
	long := strings.Repeat("Load-bearing wall requirements apply here. ", 10)
	in := EnrichmentOutput{MetadataOutput: MetadataOutput{PartitionOutput: PartitionOutput{
		Document:     DocumentDescriptor{ID: "doc1"},
		TextElements: []Element{{ID: "e1", Page: 1, Text: long, Category: domain.CategoryNarrativeText}},
	}}}

	result := stage(context.Background(), in)
	out, _ := result.Unwrap()
	if out.Stats.TotalChunksCreated <= 1 {
		t.Fatalf("expected the oversized element to split into multiple chunks, got %d", out.Stats.TotalChunksCreated)
	}
	for _, c := range out.Chunks {
		if len(c.Content) > 50+5 {
			t.Fatalf("chunk exceeds max_chunk_size+overlap: %d chars", len(c.Content))
		}
	}
}

func TestChunkingStage_MergesSmallAdjacentChunks(t *testing.T) {
	stage := NewChunkingStage(domain.ChunkingConfig{MinChunkSize: 100, MaxChunkSize: 1000, Overlap: 10})
	in := EnrichmentOutput{MetadataOutput: MetadataOutput{PartitionOutput: PartitionOutput{
		Document: DocumentDescriptor{ID: "doc1"},
		TextElements: []Element{
			{ID: "e1", Page: 1, Text: "Short one.", Category: domain.CategoryNarrativeText, SectionTitle: "3.1 Ventilation"},
			{ID: "e2", Page: 1, Text: "Short two.", Category: domain.CategoryNarrativeText, SectionTitle: "3.1 Ventilation"},
			{ID: "e3", Page: 2, Text: "Short three.", Category: domain.CategoryNarrativeText, SectionTitle: "3.1 Ventilation"},
		},
	}}}

	result := stage(context.Background(), in)
	out, _ := result.Unwrap()
	if out.Stats.MergeCount == 0 {
		t.Fatal("expected small adjacent chunks to be merged")
	}
	if len(out.Chunks) != 1 {
		t.Fatalf("expected all three small same-section chunks to merge into one, got %d", len(out.Chunks))
	}
	if len(out.Chunks[0].MergedFrom) == 0 {
		t.Fatal("expected merged_from to be recorded")
	}
}

func TestChunkingStage_DoesNotMergeAcrossSections(t *testing.T) {
	stage := NewChunkingStage(domain.ChunkingConfig{MinChunkSize: 100, MaxChunkSize: 1000, Overlap: 10})
	in := EnrichmentOutput{MetadataOutput: MetadataOutput{PartitionOutput: PartitionOutput{
		Document: DocumentDescriptor{ID: "doc1"},
		TextElements: []Element{
			{ID: "e1", Page: 1, Text: "Short one.", Category: domain.CategoryNarrativeText, SectionTitle: "3.1 Ventilation"},
			{ID: "e2", Page: 2, Text: "Short two.", Category: domain.CategoryNarrativeText, SectionTitle: "4.0 Electrical"},
		},
	}}}

	result := stage(context.Background(), in)
	out, _ := result.Unwrap()
	if len(out.Chunks) != 2 {
		t.Fatalf("expected section boundary to block merge, got %d chunks", len(out.Chunks))
	}
}
