// Package adapters holds the narrow, idempotent-where-noted service-adapter
// contracts every pipeline stage calls through, plus their concrete
// implementations. No stage ever imports a concrete client directly; stages
// depend only on the interfaces below.
package adapters

import "context"

// PartitionConfig mirrors the stable subset of domain.PartitionConfig needed
// at the wire boundary (duplicated here, not imported, so this package has
// no dependency back onto engine/domain's Config type).
type PartitionConfig struct {
	OCRStrategy   string
	ExtractTables bool
	ExtractImages bool
	MinImageArea  int
}

// PartitionElement is one normalized element out of a partitioned PDF.
type PartitionElement struct {
	ID          string
	Page        int
	Text        string
	Category    string
	Coordinates []float64
}

// PartitionTable is a detected table, with both an HTML transcription and an
// image rendering of the table region.
type PartitionTable struct {
	ID       string
	Page     int
	HTML     string
	ImageURL string
}

// PartitionPageImage is a full-page rasterization, produced for pages whose
// visual content made fragmented text extraction unreliable.
type PartitionPageImage struct {
	Page     int
	ImageURL string
}

// PartitionOutput is PartitionClient.Analyze's output contract.
type PartitionOutput struct {
	TextElements    []PartitionElement
	TableElements   []PartitionTable
	ExtractedPages  map[int]PartitionPageImage
	DocumentMeta    map[string]any
}

// PartitionClient analyzes one PDF (by content bytes) into a normalized
// element stream. Idempotent per (content hash, cfg).
type PartitionClient interface {
	Analyze(ctx context.Context, pdfBytes []byte, cfg PartitionConfig) (PartitionOutput, error)
}

// VlmClient produces a natural-language caption for an image or an HTML
// table transcription. Not idempotent; retries permitted.
type VlmClient interface {
	Caption(ctx context.Context, imageBytes []byte, htmlText, prompt, language, model string) (caption string, err error)
}

// EmbeddingClient computes a fixed-length vector per input text. Idempotent.
// Callers must validate the returned dimension.
type EmbeddingClient interface {
	Embed(ctx context.Context, texts []string, model string) ([][]float32, error)
}

// ChatOptions parameterizes one ChatClient.Chat call.
type ChatOptions struct {
	MaxTokens      int
	Temperature    float32
	Model          string
	ResponseFormat string // "" or "json_object"
}

// ChatClient produces a free-form or JSON completion from a prompt. Not
// idempotent; retries permitted with identical params.
type ChatClient interface {
	Chat(ctx context.Context, prompt string, opts ChatOptions) (string, error)
}
