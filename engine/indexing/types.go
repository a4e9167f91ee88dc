// Package indexing implements the per-document Partition → Metadata →
// Enrichment → Chunking stage graph and the run-wide Embedding barrier stage
// that together turn a set of uploaded PDFs into an embedded corpus.
package indexing

import (
	"context"
	"time"

	"github.com/constructionrag/ragcore/engine/adapters"
	"github.com/constructionrag/ragcore/engine/domain"
)

// DocumentDescriptor identifies one PDF to be partitioned.
type DocumentDescriptor struct {
	ID       string
	Filename string
	BlobKey  string
}

// BlobGetter is the narrow slice of ObjectStore the Partition stage needs.
type BlobGetter interface {
	Get(ctx context.Context, key string) ([]byte, error)
}

// Element is one normalized, metadata-annotated unit of document content
// (Partition + Metadata stage output, before Enrichment/Chunking).
type Element struct {
	ID              string
	Page            int
	Text            string
	Category        domain.ElementCategory
	SourceFilename  string
	SectionTitle    string
	HasNumbers      bool
	Complexity      domain.TextComplexity
	// EnrichmentMeta is populated by the Enrichment stage; nil beforehand.
	EnrichmentMeta *ElementEnrichment
}

// TableElement is a Table category element with both an HTML transcription
// and a rendered image of the table region.
type TableElement struct {
	Element
	HTML     string
	ImageURL string
}

// PageImage is a full-page rasterization for pages whose visual content made
// fragmented text extraction unreliable.
type PageImage struct {
	Page     int
	ImageURL string
	// SectionTitle is the inherited section title for this page, assigned by
	// the Metadata stage's section-inheritance sweep.
	SectionTitle string
}

// ElementEnrichment is the Enrichment stage's per-element output.
type ElementEnrichment struct {
	VLMModel              string
	TableImageCaption     string
	TableHTMLCaption      string
	FullPageImageCaption  string
	CaptionWordCount      int
	ProcessingDuration    time.Duration
	VLMProcessed          bool
	VLMProcessingError    string
}

// PartitionOutput is the Partition stage's output contract.
type PartitionOutput struct {
	Document       DocumentDescriptor
	TextElements    []Element
	TableElements   []TableElement
	ExtractedPages  map[int]PageImage
	DocumentMeta    map[string]any
}

// MetadataOutput is the Metadata stage's output contract: PartitionOutput
// plus section-inheritance data attached to every element.
type MetadataOutput struct {
	PartitionOutput
	PageSections map[int]string // page -> inherited section title
}

// EnrichmentOutput is the Enrichment stage's output contract.
type EnrichmentOutput struct {
	MetadataOutput
}

// ChunkStats summarizes the Chunking stage's work, per spec.
type ChunkStats struct {
	TotalChunksCreated int
	AverageChunkSize   float64
	SplitCount         int
	MergeCount         int
}

// ChunkingOutput is the Chunking stage's output contract.
type ChunkingOutput struct {
	Chunks       []domain.Chunk
	Stats        ChunkStats
	SampleChunks []domain.Chunk
}

// EmbeddingOutput is the run-wide Embedding stage's output contract.
type EmbeddingOutput struct {
	EmbeddingsGenerated  int
	EmbeddingModel       string
	EmbeddingDimensions  int
	BatchSizeUsed        int
	AverageEmbeddingTime time.Duration
	NullEmbeddedChunkIDs []string
}

// Deps bundles the indexing pipeline's external collaborators. Every field
// is a narrow interface so stages and tests can be wired against fakes.
type Deps struct {
	Objects   BlobGetter
	Partition adapters.PartitionClient
	VLM       adapters.VlmClient
	Embedder  adapters.EmbeddingClient
	Store     Store
	Index     AnnIndex // optional: primary ANN write path
	Graph     DocGraph // optional: structural graph write path
}

// Store is the narrow persistence surface the indexing pipeline needs.
// Implemented by pkg/pgstore.DataStore.
type Store interface {
	SaveStageResult(ctx context.Context, res domain.StageResult) error
	LoadStageResult(ctx context.Context, runID string, stage domain.StageName, documentID string) (domain.StageResult, bool, error)
	SaveChunks(ctx context.Context, chunks []domain.Chunk) error
	ChunksForRun(ctx context.Context, runID string) ([]domain.Chunk, error)
	UpdateRunStatus(ctx context.Context, runID string, status domain.RunStatus, errMsg string) error
}

// AnnIndex is the primary ANN write path. Implemented by pkg/annindex.Index.
type AnnIndex interface {
	Upsert(ctx context.Context, runID string, chunks []domain.Chunk) error
}

// DocGraph is the structural-graph write path used by the Metadata stage to
// persist section inheritance for the answer service's cross-document
// lookups. Implemented by pkg/docgraph.Graph.
type DocGraph interface {
	SaveSections(ctx context.Context, runID, documentID string, pageSections map[int]string) error
}
