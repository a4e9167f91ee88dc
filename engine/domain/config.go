package domain

// Config is the single nested configuration object that parameterizes one
// run of any pipeline. It is decoded from a map[string]any snapshot; unknown
// top-level component keys are rejected at that boundary except when
// rehydrating a previously persisted snapshot (see LoadSnapshot), where they
// are preserved verbatim in Extra rather than dropped.
type Config struct {
	Indexing  IndexingConfig  `json:"indexing"`
	Query     QueryConfig     `json:"query"`
	Wiki      WikiConfig      `json:"wiki"`
	Defaults  DefaultsConfig  `json:"defaults"`

	// Extra holds unrecognized top-level keys encountered while loading a
	// stored snapshot. Never populated by DefaultConfig or LoadFreshConfig;
	// only by LoadSnapshot.
	Extra map[string]any `json:"-"`
}

// OCRStrategy selects the Partition stage's page-analysis fidelity.
type OCRStrategy string

const (
	OCRAuto  OCRStrategy = "auto"
	OCRFast  OCRStrategy = "fast"
	OCRHiRes OCRStrategy = "hi_res"
)

// PartitionConfig configures the Partition stage.
type PartitionConfig struct {
	OCRStrategy    OCRStrategy `json:"ocr_strategy"`
	ExtractTables  bool        `json:"extract_tables"`
	ExtractImages  bool        `json:"extract_images"`
	MinImageArea   int         `json:"min_image_area"`
}

// EnrichmentConfig configures the Enrichment (VLM captioning) stage.
type EnrichmentConfig struct {
	VLMModel             string `json:"vlm_model"`
	CaptionLanguage       string `json:"caption_language"`
	MaxTextContextLength int    `json:"max_text_context_length"`
	MaxPageTextElements  int    `json:"max_page_text_elements"`
}

// ChunkingStrategy selects the Chunking stage's splitting algorithm.
type ChunkingStrategy string

const (
	ChunkingElementBased ChunkingStrategy = "element_based"
	ChunkingSemantic     ChunkingStrategy = "semantic"
)

// ChunkingConfig configures the Chunking stage.
type ChunkingConfig struct {
	Strategy     ChunkingStrategy `json:"strategy"`
	MinChunkSize int              `json:"min_chunk_size"`
	MaxChunkSize int              `json:"max_chunk_size"`
	Overlap      int              `json:"overlap"`
}

// EmbeddingConfig configures the run-wide Embedding stage.
type EmbeddingConfig struct {
	Model     string `json:"model"`
	BatchSize int    `json:"batch_size"`
}

// IndexingConfig groups all per-run Indexing pipeline configuration.
type IndexingConfig struct {
	Partition  PartitionConfig  `json:"partition"`
	Enrichment EnrichmentConfig `json:"enrichment"`
	Chunking   ChunkingConfig   `json:"chunking"`
	Embedding  EmbeddingConfig  `json:"embedding"`
}

// ThresholdBands is the 4-band similarity classification for one language.
type ThresholdBands struct {
	Excellent  float64 `json:"excellent"`
	Good       float64 `json:"good"`
	Acceptable float64 `json:"acceptable"`
	Minimum    float64 `json:"minimum"`
}

// RetrievalConfig configures the Retrieval Core.
type RetrievalConfig struct {
	TopK               int             `json:"top_k"`
	DanishThresholds    ThresholdBands  `json:"danish_thresholds"`
	GenericThresholds   ThresholdBands  `json:"similarity_thresholds"`
}

// QueryConfig groups query-time configuration.
type QueryConfig struct {
	Retrieval RetrievalConfig `json:"retrieval"`
}

// SemanticClustersConfig bounds the Wiki pipeline's k-means clustering.
type SemanticClustersConfig struct {
	MinClusters int `json:"min_clusters"`
	MaxClusters int `json:"max_clusters"`
}

// WikiGenerationConfig bounds the Wiki Structure stage's page budget.
type WikiGenerationConfig struct {
	MaxPages        int `json:"max_pages"`
	QueriesPerPage  int `json:"queries_per_page"`
}

// WikiConfig groups all per-run Wiki pipeline configuration.
type WikiConfig struct {
	OverviewQueryCount int                    `json:"overview_query_count"`
	Generation         WikiGenerationConfig    `json:"generation"`
	SemanticClusters   SemanticClustersConfig `json:"semantic_clusters"`
	// SkipClustering makes the Semantic Clustering stage optional, per the
	// spec's explicit recommendation. Default false (clustering required).
	SkipClustering bool `json:"skip_clustering"`
}

// DefaultsConfig holds cross-cutting defaults.
type DefaultsConfig struct {
	Language string `json:"language"`
}

// DefaultConfig returns the documented default configuration.
func DefaultConfig() Config {
	return Config{
		Indexing: IndexingConfig{
			Partition: PartitionConfig{
				OCRStrategy:   OCRAuto,
				ExtractTables: true,
				ExtractImages: true,
				MinImageArea:  2500,
			},
			Enrichment: EnrichmentConfig{
				VLMModel:             "",
				CaptionLanguage:       "danish",
				MaxTextContextLength: 2000,
				MaxPageTextElements:  10,
			},
			Chunking: ChunkingConfig{
				Strategy:     ChunkingElementBased,
				MinChunkSize: 300,
				MaxChunkSize: 1200,
				Overlap:      100,
			},
			Embedding: EmbeddingConfig{
				Model:     "",
				BatchSize: 50,
			},
		},
		Query: QueryConfig{
			Retrieval: RetrievalConfig{
				TopK: 5,
				DanishThresholds: ThresholdBands{
					Excellent: 0.70, Good: 0.55, Acceptable: 0.35, Minimum: 0.20,
				},
				GenericThresholds: ThresholdBands{
					Excellent: 0.75, Good: 0.60, Acceptable: 0.40, Minimum: 0.25,
				},
			},
		},
		Wiki: WikiConfig{
			OverviewQueryCount: 12,
			Generation: WikiGenerationConfig{
				MaxPages:       12,
				QueriesPerPage: 4,
			},
			SemanticClusters: SemanticClustersConfig{
				MinClusters: 4,
				MaxClusters: 10,
			},
			SkipClustering: false,
		},
		Defaults: DefaultsConfig{
			Language: "danish",
		},
	}
}

// recognizedTopLevelKeys is the enumerated set of keys LoadSnapshot accepts
// without stashing into Extra.
var recognizedTopLevelKeys = map[string]bool{
	"indexing": true, "query": true, "wiki": true, "defaults": true,
}

// Thresholds returns the threshold band for the given language tag, per the
// language-tuned retrieval thresholding rule ("danish" vs generic).
func (c RetrievalConfig) Thresholds(language string) ThresholdBands {
	if language == "danish" {
		return c.DanishThresholds
	}
	return c.GenericThresholds
}
