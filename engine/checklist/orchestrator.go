package checklist

import (
	"context"
	"fmt"

	"github.com/constructionrag/ragcore/engine/domain"
)

// Orchestrator drives the four Checklist pipeline stages in order: Parse +
// Query Generation, Batch Retrieval, Analysis, and Structuring — each stage
// a single call over every item together, not one call per item — reporting
// {current, total=4} progress on the run as each stage completes.
type Orchestrator struct {
	deps Deps
}

// NewOrchestrator builds a Checklist Orchestrator.
func NewOrchestrator(deps Deps) *Orchestrator {
	return &Orchestrator{deps: deps}
}

const totalStages = 4

// Run executes the full Checklist pipeline for one ChecklistRun, mutating it
// in place with progress, status, and final Items.
func (o *Orchestrator) Run(ctx context.Context, run *domain.ChecklistRun, language, embedModel, chatModel string) error {
	run.Status = domain.StatusRunning
	run.ProgressTotal = totalStages

	run.ProgressCurrent = 1
	saveStage(ctx, o.deps.Stages, run.ID, domain.StageChecklistParse, run.ProgressCurrent, totalStages)
	items, queries, err := ParseChecklist(ctx, o.deps.Chat, chatModel, run.ChecklistContent)
	if err != nil {
		return o.fail(run, err)
	}
	if len(items) == 0 {
		return o.fail(run, fmt.Errorf("checklist: parse produced no items"))
	}

	run.ProgressCurrent = 2
	saveStage(ctx, o.deps.Stages, run.ID, domain.StageChecklistRetrieve, run.ProgressCurrent, totalStages)
	evidence, err := BatchRetrieve(ctx, o.deps.Core, run.IndexingRunID, language, embedModel, queries)
	if err != nil {
		return o.fail(run, err)
	}

	run.ProgressCurrent = 3
	saveStage(ctx, o.deps.Stages, run.ID, domain.StageChecklistAnalyze, run.ProgressCurrent, totalStages)
	rawAnalysis, err := AnalyzeItems(ctx, o.deps.Chat, chatModel, items, evidence)
	if err != nil {
		return o.fail(run, err)
	}
	run.RawAnalysis = rawAnalysis

	run.ProgressCurrent = 4
	saveStage(ctx, o.deps.Stages, run.ID, domain.StageChecklistStructure, run.ProgressCurrent, totalStages)
	run.Items = StructureAll(ctx, o.deps.Chat, chatModel, items, rawAnalysis)

	run.Status = domain.StatusCompleted
	return nil
}

func (o *Orchestrator) fail(run *domain.ChecklistRun, err error) error {
	run.Status = domain.StatusFailed
	run.ErrorMessage = err.Error()
	return fmt.Errorf("checklist: %w", err)
}
