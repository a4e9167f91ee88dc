package wiki

import (
	"context"
	"fmt"
	"sort"

	"github.com/constructionrag/ragcore/engine/domain"
)

// CollectMetadata sweeps every chunk of the run and aggregates per-document
// summaries: page count, chunk count, and the distinct section titles seen,
// ordered by document ID for a deterministic prompt later.
func CollectMetadata(ctx context.Context, chunks ChunkSource, runID string) ([]DocumentSummary, error) {
	all, err := chunks.ChunksForRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("wiki: collect metadata: %w", err)
	}

	byDoc := map[string]*DocumentSummary{}
	sectionSeen := map[string]map[string]bool{}
	var order []string

	for _, c := range all {
		s, ok := byDoc[c.DocumentID]
		if !ok {
			s = &DocumentSummary{DocumentID: c.DocumentID, Filename: c.SourceFilename}
			byDoc[c.DocumentID] = s
			sectionSeen[c.DocumentID] = map[string]bool{}
			order = append(order, c.DocumentID)
		}
		s.ChunkCount++
		if c.PageNumber > s.PageCount {
			s.PageCount = c.PageNumber
		}
		if c.SectionTitle != "" && !sectionSeen[c.DocumentID][c.SectionTitle] {
			sectionSeen[c.DocumentID][c.SectionTitle] = true
			s.Sections = append(s.Sections, c.SectionTitle)
		}
	}

	sort.Strings(order)
	out := make([]DocumentSummary, 0, len(order))
	for _, id := range order {
		out = append(out, *byDoc[id])
	}
	return out, nil
}

// saveStage is a small helper shared by every Wiki stage to persist a
// StageResult with the given status under (runID, stage, "") — the Wiki pipeline has no
// per-document granularity, unlike Indexing.
func saveStage(ctx context.Context, store StageStore, runID string, stage domain.StageName, status domain.RunStatus, data any, errMsg string) {
	if store == nil {
		return
	}
	_ = store.SaveStageResult(ctx, domain.StageResult{
		RunID: runID, Stage: stage, Status: status, Data: data, ErrorMessage: errMsg,
	})
}
