package checklist

import (
	"context"
	"fmt"

	"github.com/constructionrag/ragcore/engine/retrieval"
)

// BatchRetrieve embeds every query generated across all checklist items in
// one batch and scans the run's chunks once, unioning and deduping the
// results by chunk ID into a single shared evidence pool for the Analysis
// stage, rather than retrieving once per item.
func BatchRetrieve(ctx context.Context, core *retrieval.Core, runID, language, embedModel string, queries []string) ([]retrieval.Result, error) {
	results, err := core.BatchQuery(ctx, queries, runID, nil, language, embedModel)
	if err != nil {
		return nil, fmt.Errorf("checklist: batch retrieve: %w", err)
	}
	return results, nil
}
