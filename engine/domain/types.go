// Package domain defines the core entities, typed errors, and configuration
// shared by every pipeline in the ragcore engine. It acts as the validation
// gate at pipeline entry points.
package domain

import "time"

// AccessLevel controls who may read a run and its derived artifacts.
type AccessLevel string

const (
	AccessPublic  AccessLevel = "public"
	AccessAuth    AccessLevel = "auth"
	AccessPrivate AccessLevel = "private"
)

// ValidAccessLevels is the recognised set of AccessLevel values.
var ValidAccessLevels = map[AccessLevel]bool{
	AccessPublic: true, AccessAuth: true, AccessPrivate: true,
}

// UploadKind distinguishes how an IndexingRun's documents arrived.
type UploadKind string

const (
	UploadUserProject UploadKind = "user-project"
	UploadEmail       UploadKind = "email"
)

// RunStatus is the lifecycle state of an IndexingRun, WikiRun, or ChecklistRun.
type RunStatus string

const (
	StatusPending               RunStatus = "pending"
	StatusRunning                RunStatus = "running"
	StatusCompleted              RunStatus = "completed"
	StatusCompletedWithWarnings RunStatus = "completed_with_warnings"
	StatusFailed                RunStatus = "failed"
)

// Terminal reports whether status is one a run will not leave on its own.
func (s RunStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCompletedWithWarnings, StatusFailed:
		return true
	default:
		return false
	}
}

// Completed reports whether status satisfies the "completed*" precondition
// the Wiki and Checklist pipelines require of their parent IndexingRun.
func (s RunStatus) Completed() bool {
	return s == StatusCompleted || s == StatusCompletedWithWarnings
}

// IndexingRun is one invocation of the indexing pipeline over a set of PDFs.
type IndexingRun struct {
	ID          string
	AccessLevel AccessLevel
	UploadKind  UploadKind
	OwnerUserID string // empty if anonymous
	ProjectRef  string // empty if none
	Status      RunStatus
	ConfigSnapshot Config
	ErrorMessage string
	StartedAt    time.Time
	CompletedAt  *time.Time
}

// Document is an uploaded PDF, owned jointly by every run that references it
// via IndexingRunDocument.
type Document struct {
	ID       string
	Filename string
	BlobKey  string
	PageCount int
	ByteSize  int64
	OwnerUserID string
}

// IndexingRunDocument is the many-to-many junction between IndexingRun and Document.
type IndexingRunDocument struct {
	IndexingRunID string
	DocumentID    string
}

// ElementCategory classifies a partitioned document element.
type ElementCategory string

const (
	CategoryNarrativeText   ElementCategory = "NarrativeText"
	CategoryTitle           ElementCategory = "Title"
	CategoryTable           ElementCategory = "Table"
	CategoryExtractedPage   ElementCategory = "ExtractedPage"
	CategoryListItem        ElementCategory = "ListItem"
	CategoryUncategorized   ElementCategory = "UncategorizedText"
)

// ValidElementCategories is the recognised set of ElementCategory values.
var ValidElementCategories = map[ElementCategory]bool{
	CategoryNarrativeText: true, CategoryTitle: true, CategoryTable: true,
	CategoryExtractedPage: true, CategoryListItem: true, CategoryUncategorized: true,
}

// EmbeddingDimension is the fixed vector length D produced by the configured embedder.
const EmbeddingDimension = 1024

// TextComplexity classifies a chunk of text for downstream prompt budgeting.
type TextComplexity string

const (
	ComplexitySimple  TextComplexity = "simple"
	ComplexityComplex TextComplexity = "complex"
)

// Chunk is the atomic retrieval unit: a text span with structural metadata
// and an optional embedding vector of length EmbeddingDimension.
type Chunk struct {
	ID              string
	DocumentID      string
	IndexingRunID   string
	Ordinal         int
	Content         string
	PageNumber      int
	ElementCategory ElementCategory
	SourceFilename  string
	SectionTitle    string
	HasNumbers      bool
	Complexity      TextComplexity
	MergedFrom      []string
	EnrichmentMeta  map[string]any
	Embedding       []float32 // nil until the Embedding stage runs
}

// StageName identifies a pipeline stage for StageResult persistence.
type StageName string

const (
	StagePartition  StageName = "partition"
	StageMetadata   StageName = "metadata"
	StageEnrichment StageName = "enrichment"
	StageChunking   StageName = "chunking"
	StageEmbedding  StageName = "embedding"

	StageWikiMetadataCollect StageName = "wiki_metadata_collect"
	StageWikiOverview        StageName = "wiki_overview"
	StageWikiClustering      StageName = "wiki_clustering"
	StageWikiStructure       StageName = "wiki_structure"
	StageWikiPageRetrieval   StageName = "wiki_page_retrieval"
	StageWikiMarkdown        StageName = "wiki_markdown"

	StageChecklistParse     StageName = "checklist_parse"
	StageChecklistRetrieve  StageName = "checklist_retrieve"
	StageChecklistAnalyze   StageName = "checklist_analyze"
	StageChecklistStructure StageName = "checklist_structure"
)

// StageResult is a polymorphic, persisted record of one stage's run.
// Discriminator is Stage; Data carries that stage's typed output contract.
// Immutable once Status is completed or failed.
type StageResult struct {
	RunID       string
	Stage       StageName
	Status      RunStatus
	StartedAt   time.Time
	EndedAt     time.Time
	Duration    time.Duration
	Summary     map[string]any
	Samples     []any
	Data        any
	ErrorMessage string
}

// WikiPageMeta is one entry of a WikiRun's ordered pages_metadata list.
type WikiPageMeta struct {
	ID          string
	Title       string
	Description string
	Filename    string
	StorageKey  string
}

// WikiRun is one invocation of the wiki pipeline over a completed IndexingRun.
type WikiRun struct {
	ID            string
	IndexingRunID string
	Status        RunStatus
	StoragePrefix string
	Pages         []WikiPageMeta
	StartedAt     time.Time
	CompletedAt   *time.Time
	ErrorMessage  string
}

// WikiPage is one generated page of a WikiRun.
type WikiPage struct {
	ID          string
	WikiRunID   string
	Title       string
	Description string
	Queries     []string
	Markdown    string
	StorageKey  string
}

// ChecklistItemStatus classifies the compliance finding for one checklist item.
type ChecklistItemStatus string

const (
	ChecklistFound                 ChecklistItemStatus = "found"
	ChecklistMissing               ChecklistItemStatus = "missing"
	ChecklistRisk                  ChecklistItemStatus = "risk"
	ChecklistConditions             ChecklistItemStatus = "conditions"
	ChecklistPendingClarification  ChecklistItemStatus = "pending_clarification"
)

// ChecklistSource is one citation backing a ChecklistResult.
type ChecklistSource struct {
	DocumentID string
	Filename   string
	Page       int
	Excerpt    string
}

// ChecklistResult is the structured finding for one checklist item.
type ChecklistResult struct {
	ItemNumber  int
	ItemName    string
	Status      ChecklistItemStatus
	Description string
	Confidence  float64 // in [0,1]
	PrimarySource *ChecklistSource
	AllSources    []ChecklistSource
}

// ChecklistRun is one invocation of the checklist pipeline.
type ChecklistRun struct {
	ID              string
	IndexingRunID   string
	ChecklistContent string
	ModelName       string
	AccessLevel     AccessLevel
	Status          RunStatus
	ProgressCurrent int
	ProgressTotal   int
	RawAnalysis     string
	Items           []ChecklistResult
	ErrorMessage    string
}
