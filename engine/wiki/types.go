// Package wiki generates a navigable wiki from one completed indexing run's
// chunks: a metadata sweep, an overview page, semantic clustering of the
// chunk set, a structure stage that lays out the remaining pages, per-page
// retrieval, and markdown rendering with citations.
//
// Grounded on the teacher's engine/rag.Service prompt-construction style
// (buildContextParts) generalized from a single answer prompt into
// multi-stage, multi-page JSON-structured prompts, and on engine/ingest's
// fn.Stage composition for the per-stage pipeline shape.
package wiki

import (
	"context"

	"github.com/constructionrag/ragcore/engine/adapters"
	"github.com/constructionrag/ragcore/engine/domain"
	"github.com/constructionrag/ragcore/engine/retrieval"
	"github.com/constructionrag/ragcore/pkg/docgraph"
	"github.com/constructionrag/ragcore/pkg/objectstore"
)

// ChunkSource is the narrow slice of the relational store this pipeline
// reads chunks through.
type ChunkSource interface {
	ChunksForRun(ctx context.Context, runID string) ([]domain.Chunk, error)
}

// StageStore persists per-stage StageResults for rerun caching, the same
// contract the Indexing pipeline uses.
type StageStore interface {
	SaveStageResult(ctx context.Context, res domain.StageResult) error
	LoadStageResult(ctx context.Context, runID string, stage domain.StageName, documentID string) (domain.StageResult, bool, error)
}

// Deps bundles every external collaborator the Wiki pipeline needs.
type Deps struct {
	Chunks  ChunkSource
	Core    *retrieval.Core
	Chat    adapters.ChatClient
	Objects *objectstore.Store
	Graph   *docgraph.Graph
	Stages  StageStore
}

// DocumentSummary is one document's contribution to the Metadata Collection
// stage: enough to let the Overview and Structure prompts describe the
// corpus without re-reading every chunk's content.
type DocumentSummary struct {
	DocumentID string
	Filename   string
	PageCount  int
	ChunkCount int
	Sections   []string
}

// Cluster is one semantic group of chunks discovered by k-means, named
// either by the chat model or a deterministic fallback.
type Cluster struct {
	Name      string
	Exemplars []string // chunk IDs nearest the centroid, used as naming context
	ChunkIDs  []string
}

// PageSpec is one page the Structure stage decided to generate.
type PageSpec struct {
	ID          string
	Title       string
	Description string
	Queries     []string
}

// Citation is one evidence reference rendered inline in generated markdown.
type Citation struct {
	Filename string
	Page     int
}
