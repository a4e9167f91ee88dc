// Package retrieval is the Retrieval Core: the query-time path shared by the
// answer-synthesis service, the Wiki pipeline, and the Checklist pipeline.
// It embeds a query, searches the primary ANN index, falls back to a
// client-side scan of the relational store when the primary path comes back
// empty or errors, and applies language-tuned threshold filtering, dedup,
// and truncation before handing chunks back to a caller.
//
// Grounded on the teacher's engine/rag.Service.Query search step, generalized
// from a single vehicle-filtered Qdrant call into the dual primary/fallback
// path the retrieval algorithm requires.
package retrieval

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/constructionrag/ragcore/engine/adapters"
	"github.com/constructionrag/ragcore/engine/domain"
	"github.com/constructionrag/ragcore/pkg/annindex"
)

// AnnSearcher is the primary approximate-nearest-neighbor search path.
type AnnSearcher interface {
	Search(ctx context.Context, embedding []float32, topK int, runID string, documentIDs []string) ([]annindex.Hit, error)
}

// ChunkScanner is the fallback client-side scan path over every chunk of a
// run, used when the primary search returns nothing or errors.
type ChunkScanner interface {
	ChunksForRun(ctx context.Context, runID string) ([]domain.Chunk, error)
}

// Core is the Retrieval Core.
type Core struct {
	embedder adapters.EmbeddingClient
	ann      AnnSearcher
	scanner  ChunkScanner
	cfg      domain.RetrievalConfig
}

// New builds a Retrieval Core over the given primary/fallback search paths.
func New(embedder adapters.EmbeddingClient, ann AnnSearcher, scanner ChunkScanner, cfg domain.RetrievalConfig) *Core {
	return &Core{embedder: embedder, ann: ann, scanner: scanner, cfg: cfg}
}

// Result is one retrieved chunk, carrying the similarity score it was ranked
// by so callers can render a confidence band or citation.
type Result struct {
	ChunkID        string
	Score          float64
	Content        string
	DocumentID     string
	PageNumber     int
	SectionTitle   string
	SourceFilename string
}

// Query embeds the question and returns up to TopK chunks for one indexing
// run, optionally narrowed to a document subset, ordered by descending
// relevance and filtered by the language-tuned minimum threshold.
func (c *Core) Query(ctx context.Context, question, runID string, documentIDs []string, language, embedModel string) ([]Result, error) {
	embeddings, err := c.embedder.Embed(ctx, []string{question}, embedModel)
	if err != nil {
		return nil, domain.NewError(domain.KindUpstreamUnavailable, "retrieval.embed_query", err)
	}
	if len(embeddings) == 0 {
		return nil, domain.NewError(domain.KindUpstreamMalformedResponse, "retrieval.embed_query", fmt.Errorf("embedder returned no vector"))
	}
	queryVec := embeddings[0]

	topK := c.cfg.TopK
	if topK <= 0 {
		topK = 5
	}

	results := c.searchPrimary(ctx, queryVec, topK, runID, documentIDs)
	if results == nil {
		results, err = c.scanFallback(ctx, queryVec, runID, documentIDs)
		if err != nil {
			return nil, err
		}
	}

	bands := c.cfg.Thresholds(language)
	return postProcess(results, bands.Minimum, topK), nil
}

// searchPrimary runs the ANN path and converts its hits to Results, scored by
// Qdrant's own cosine distance. Returns nil (not an empty slice) on error or
// zero rows so the caller falls back to a full scan, per the retrieval rule.
func (c *Core) searchPrimary(ctx context.Context, queryVec []float32, topK int, runID string, documentIDs []string) []Result {
	hits, err := c.ann.Search(ctx, queryVec, topK*2, runID, documentIDs)
	if err != nil || len(hits) == 0 {
		return nil
	}

	out := make([]Result, len(hits))
	for i, h := range hits {
		out[i] = Result{
			ChunkID: h.ChunkID, Score: float64(h.Score), Content: h.Content,
			DocumentID: h.DocumentID, PageNumber: h.PageNumber,
			SectionTitle: h.SectionTitle, SourceFilename: h.SourceFilename,
		}
	}
	return out
}

// scanFallback reads every chunk of a run and scores each chunk that carries
// an embedding by cosine similarity against the query vector. Chunks left
// without an embedding (after a completed_with_warnings run) are skipped.
func (c *Core) scanFallback(ctx context.Context, queryVec []float32, runID string, documentIDs []string) ([]Result, error) {
	chunks, err := c.scanner.ChunksForRun(ctx, runID)
	if err != nil {
		return nil, domain.NewError(domain.KindUpstreamUnavailable, "retrieval.scan_fallback", err)
	}

	allowed := toSet(documentIDs)
	var out []Result
	for _, ch := range chunks {
		if len(allowed) > 0 && !allowed[ch.DocumentID] {
			continue
		}
		if ch.Embedding == nil {
			continue
		}
		score := cosineSimilarity(queryVec, ch.Embedding)
		out = append(out, Result{
			ChunkID: ch.ID, Score: score, Content: ch.Content, DocumentID: ch.DocumentID,
			PageNumber: ch.PageNumber, SectionTitle: ch.SectionTitle, SourceFilename: ch.SourceFilename,
		})
	}
	return out, nil
}

// postProcess applies the similarity threshold, dedupes near-duplicate
// content by hashing each result's first 100 characters, sorts by
// descending score, and truncates to topK.
func postProcess(results []Result, minimum float64, topK int) []Result {
	seen := map[string]bool{}
	var kept []Result
	for _, r := range results {
		if r.Score < minimum {
			continue
		}
		key := contentHash(r.Content)
		if seen[key] {
			continue
		}
		seen[key] = true
		kept = append(kept, r)
	}

	sort.SliceStable(kept, func(i, j int) bool { return kept[i].Score > kept[j].Score })
	if len(kept) > topK {
		kept = kept[:topK]
	}
	return kept
}

func contentHash(content string) string {
	prefix := content
	if len(prefix) > 100 {
		prefix = prefix[:100]
	}
	sum := sha256.Sum256([]byte(prefix))
	return hex.EncodeToString(sum[:])
}

// pseudoScore derives a descending rank-based score in (0, 1] for a chunk
// that carries no embedding, so it still sorts sensibly against scored
// chunks without claiming a similarity figure it cannot compute.
func pseudoScore(rank, total int) float64 {
	if total <= 1 {
		return 1.0
	}
	return 1.0 - float64(rank)/float64(total)
}

func toSet(ids []string) map[string]bool {
	if len(ids) == 0 {
		return nil
	}
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}
