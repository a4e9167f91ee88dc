package retrieval

import (
	"context"
	"sort"

	"github.com/constructionrag/ragcore/engine/domain"
)

// BatchQuery embeds every query in one call, fetches the run's chunks once
// (via the fallback scan path, shared across all queries rather than one
// primary search per query), and for each query keeps every embedded chunk
// scoring above the language threshold, up to topK; chunks without an
// embedding are skipped. The per-query hit sets are then unioned and deduped
// by chunk ID, keeping the maximum score seen for a chunk across all
// queries — the Checklist pipeline's retrieval mode, which builds one shared
// evidence pool from the queries of every checklist item.
func (c *Core) BatchQuery(ctx context.Context, queries []string, runID string, documentIDs []string, language, embedModel string) ([]Result, error) {
	if len(queries) == 0 {
		return nil, nil
	}

	embeddings, err := c.embedder.Embed(ctx, queries, embedModel)
	if err != nil {
		return nil, domain.NewError(domain.KindUpstreamUnavailable, "retrieval.batch_embed", err)
	}

	chunks, err := c.scanner.ChunksForRun(ctx, runID)
	if err != nil {
		return nil, domain.NewError(domain.KindUpstreamUnavailable, "retrieval.batch_scan", err)
	}
	allowed := toSet(documentIDs)

	topK := c.cfg.TopK
	if topK <= 0 {
		topK = 5
	}
	bands := c.cfg.Thresholds(language)

	byChunk := map[string]Result{}
	for _, qVec := range embeddings {
		var perQuery []Result
		for _, ch := range chunks {
			if len(allowed) > 0 && !allowed[ch.DocumentID] {
				continue
			}
			if ch.Embedding == nil {
				continue
			}
			score := cosineSimilarity(qVec, ch.Embedding)
			if score < bands.Minimum {
				continue
			}
			perQuery = append(perQuery, Result{
				ChunkID: ch.ID, Score: score, Content: ch.Content, DocumentID: ch.DocumentID,
				PageNumber: ch.PageNumber, SectionTitle: ch.SectionTitle, SourceFilename: ch.SourceFilename,
			})
		}
		perQuery = postProcess(perQuery, bands.Minimum, topK)

		for _, r := range perQuery {
			if existing, ok := byChunk[r.ChunkID]; !ok || r.Score > existing.Score {
				byChunk[r.ChunkID] = r
			}
		}
	}

	out := make([]Result, 0, len(byChunk))
	for _, r := range byChunk {
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out, nil
}
