// Package checklist runs compliance analysis of a checklist document against
// one completed indexing run: parse the checklist into items plus one shared
// list of retrieval queries, batch-retrieve evidence for all of them
// together, analyze every item in one combined call against that shared
// evidence pool, then structure the free-form analysis into typed results.
//
// Grounded on the teacher's retry/circuit-breaker use around ChatClient
// calls (engine/rag.Service) and the Wiki pipeline's jsonrepair package,
// promoted to a shared dependency rather than duplicated.
package checklist

import (
	"context"

	"github.com/constructionrag/ragcore/engine/adapters"
	"github.com/constructionrag/ragcore/engine/domain"
	"github.com/constructionrag/ragcore/engine/retrieval"
)

// StageStore persists per-stage progress for the Checklist pipeline.
type StageStore interface {
	SaveStageResult(ctx context.Context, res domain.StageResult) error
}

// Deps bundles the Checklist pipeline's external collaborators.
type Deps struct {
	Chat   adapters.ChatClient
	Core   *retrieval.Core
	Stages StageStore
}

// ParsedItem is one checklist line item parsed from the checklist document.
type ParsedItem struct {
	Number      int
	Name        string
	Description string
}

func saveStage(ctx context.Context, store StageStore, runID string, stage domain.StageName, current, total int) {
	if store == nil {
		return
	}
	_ = store.SaveStageResult(ctx, domain.StageResult{
		RunID: runID, Stage: stage, Status: domain.StatusRunning,
		Summary: map[string]any{"current": current, "total": total},
	})
}
