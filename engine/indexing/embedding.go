package indexing

import (
	"context"
	"fmt"
	"time"

	"github.com/constructionrag/ragcore/engine/adapters"
	"github.com/constructionrag/ragcore/engine/domain"
	"github.com/constructionrag/ragcore/pkg/fn"
)

// embedRetry allows one retry of a failed batch before giving up on it, per
// the Embedding stage's "retry the whole batch once" rule.
var embedRetry = fn.RetryOpts{
	MaxAttempts: 2,
	InitialWait: 500 * time.Millisecond,
	MaxWait:     5 * time.Second,
	Jitter:      true,
}

// NewEmbeddingStage builds the run-wide Embedding barrier stage: batch all
// chunks of the run, embed each batch, and write vectors back in place. A
// batch that still fails after one retry leaves its chunks' embeddings nil
// and is reported via NullEmbeddedChunkIDs so the run can still complete
// with a warning rather than fail outright. If every chunk ends up without
// an embedding, the stage returns an UpstreamUnavailable error instead.
func NewEmbeddingStage(embedder adapters.EmbeddingClient, cfg domain.EmbeddingConfig) fn.Stage[[]domain.Chunk, EmbeddingOutput] {
	return func(ctx context.Context, chunks []domain.Chunk) fn.Result[EmbeddingOutput] {
		batchSize := cfg.BatchSize
		if batchSize <= 0 {
			batchSize = len(chunks)
			if batchSize == 0 {
				batchSize = 1
			}
		}

		var nullIDs []string
		var totalBatchTime time.Duration
		batchesRun := 0

		for start := 0; start < len(chunks); start += batchSize {
			end := start + batchSize
			if end > len(chunks) {
				end = len(chunks)
			}
			batch := chunks[start:end]
			texts := make([]string, len(batch))
			for i, c := range batch {
				texts[i] = c.Content
			}

			batchStart := time.Now()
			result := fn.Retry(ctx, embedRetry, func(ctx context.Context) fn.Result[[][]float32] {
				vecs, err := embedder.Embed(ctx, texts, cfg.Model)
				if err != nil {
					return fn.Err[[][]float32](err)
				}
				return fn.Ok(vecs)
			})
			totalBatchTime += time.Since(batchStart)
			batchesRun++

			if result.IsErr() {
				for i := range batch {
					chunks[start+i].Embedding = nil
					nullIDs = append(nullIDs, chunks[start+i].ID)
				}
				continue
			}

			vecs, _ := result.Unwrap()
			for i := range batch {
				if i < len(vecs) {
					chunks[start+i].Embedding = vecs[i]
				} else {
					chunks[start+i].Embedding = nil
					nullIDs = append(nullIDs, chunks[start+i].ID)
				}
			}
		}

		var avg time.Duration
		if batchesRun > 0 {
			avg = totalBatchTime / time.Duration(batchesRun)
		}

		if len(chunks) > 0 && len(nullIDs) == len(chunks) {
			return fn.Err[EmbeddingOutput](domain.NewError(domain.KindUpstreamUnavailable, "indexing.embedding",
				fmt.Errorf("all %d batches failed to embed", batchesRun)))
		}

		return fn.Ok(EmbeddingOutput{
			EmbeddingsGenerated:  len(chunks) - len(nullIDs),
			EmbeddingModel:       cfg.Model,
			EmbeddingDimensions:  domain.EmbeddingDimension,
			BatchSizeUsed:        batchSize,
			AverageEmbeddingTime: avg,
			NullEmbeddedChunkIDs: nullIDs,
		})
	}
}
