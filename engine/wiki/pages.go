package wiki

import (
	"context"
	"fmt"
	"sort"

	"github.com/constructionrag/ragcore/engine/retrieval"
)

// RetrievePageContent runs every query of a page spec against the Retrieval
// Core, unions the results deduping by chunk ID, sorts the pool by score
// descending, and caps it at the top 10 chunks — enough context for one
// generated page without overwhelming the chat model's prompt budget.
func RetrievePageContent(ctx context.Context, core *retrieval.Core, runID, language, embedModel string, page PageSpec) ([]retrieval.Result, error) {
	seen := map[string]bool{}
	var pool []retrieval.Result
	for _, q := range page.Queries {
		results, err := core.Query(ctx, q, runID, nil, language, embedModel)
		if err != nil {
			return nil, fmt.Errorf("wiki: page %q query %q: %w", page.Title, q, err)
		}
		for _, r := range results {
			if seen[r.ChunkID] {
				continue
			}
			seen[r.ChunkID] = true
			pool = append(pool, r)
		}
	}
	sort.Slice(pool, func(i, j int) bool { return pool[i].Score > pool[j].Score })
	if len(pool) > 10 {
		pool = pool[:10]
	}
	return pool, nil
}
