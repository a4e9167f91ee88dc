package indexing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/constructionrag/ragcore/engine/domain"
	"github.com/constructionrag/ragcore/pkg/fn"
)

// Orchestrator drives the Indexing pipeline: four per-document stages run in
// parallel across documents (in order, per document), a stage may be skipped
// on rerun if its persisted StageResult is completed and the config snapshot
// is unchanged, and the run-wide Embedding barrier starts only once every
// document's Chunking stage has completed.
type Orchestrator struct {
	deps        Deps
	parallelism int
	log         *slog.Logger
}

// NewOrchestrator builds an Orchestrator with the given external
// collaborators and per-document parallelism bound P.
func NewOrchestrator(deps Deps, parallelism int, log *slog.Logger) *Orchestrator {
	if parallelism <= 0 {
		parallelism = 4
	}
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{deps: deps, parallelism: parallelism, log: log}
}

// docOutcome is one document's pipeline result, including whether it failed
// hard (excluding it from the run's chunk set) without failing the run.
type docOutcome struct {
	doc     DocumentDescriptor
	chunks  []domain.Chunk
	failed  bool
	errMsg  string
}

// Run executes the full indexing pipeline for one run over the given
// documents and returns the run's final status.
func (o *Orchestrator) Run(ctx context.Context, run domain.IndexingRun, docs []DocumentDescriptor) (domain.RunStatus, error) {
	cfg := run.ConfigSnapshot.Indexing
	configHash := hashConfig(cfg)

	outcomes := fn.ParMap(docs, o.parallelism, func(doc DocumentDescriptor) docOutcome {
		return o.runDocument(ctx, run.ID, doc, cfg, configHash)
	})

	var allChunks []domain.Chunk
	anyDocFailed := false
	for _, oc := range outcomes {
		if oc.failed {
			anyDocFailed = true
			o.log.Warn("document failed during indexing", "run_id", run.ID, "document_id", oc.doc.ID, "error", oc.errMsg)
			continue
		}
		allChunks = append(allChunks, oc.chunks...)
	}

	if len(allChunks) == 0 {
		msg := "document contained no extractable content"
		if anyDocFailed {
			msg = "all documents failed during indexing"
		}
		if err := o.deps.Store.UpdateRunStatus(ctx, run.ID, domain.StatusCompleted, msg); err != nil {
			return domain.StatusFailed, err
		}
		return domain.StatusCompleted, nil
	}

	embedStage := NewEmbeddingStage(o.deps.Embedder, cfg.Embedding)
	embedResult := embedStage(ctx, allChunks)
	embedOut, err := embedResult.Unwrap()
	if err != nil {
		_ = o.deps.Store.UpdateRunStatus(ctx, run.ID, domain.StatusFailed, err.Error())
		return domain.StatusFailed, err
	}

	if err := o.deps.Store.SaveChunks(ctx, allChunks); err != nil {
		_ = o.deps.Store.UpdateRunStatus(ctx, run.ID, domain.StatusFailed, err.Error())
		return domain.StatusFailed, err
	}
	if o.deps.Index != nil {
		if err := o.deps.Index.Upsert(ctx, run.ID, allChunks); err != nil {
			_ = o.deps.Store.UpdateRunStatus(ctx, run.ID, domain.StatusFailed, err.Error())
			return domain.StatusFailed, err
		}
	}

	status := domain.StatusCompleted
	var warnings string
	if anyDocFailed || len(embedOut.NullEmbeddedChunkIDs) > 0 {
		status = domain.StatusCompletedWithWarnings
		switch n := len(embedOut.NullEmbeddedChunkIDs); {
		case n > 0 && anyDocFailed:
			warnings = fmt.Sprintf("%d chunks left unembedded after retry; some documents failed", n)
		case n > 0:
			warnings = fmt.Sprintf("%d chunks left unembedded after retry", n)
		default:
			warnings = "some documents failed"
		}
	}
	if err := o.deps.Store.UpdateRunStatus(ctx, run.ID, status, warnings); err != nil {
		return domain.StatusFailed, err
	}
	return status, nil
}

// runDocument runs the four per-document stages in order, skipping any
// stage whose cached StageResult is completed under the same config hash.
func (o *Orchestrator) runDocument(ctx context.Context, runID string, doc DocumentDescriptor, cfg domain.IndexingConfig, configHash string) docOutcome {
	partitionOut, err := runStage(ctx, o, runID, doc.ID, domain.StagePartition, configHash,
		func() (PartitionOutput, error) {
			stage := NewPartitionStage(o.deps.Objects, o.deps.Partition, cfg.Partition)
			return stage(ctx, doc).Unwrap()
		})
	if err != nil {
		return docOutcome{doc: doc, failed: true, errMsg: err.Error()}
	}

	metadataOut, err := runStage(ctx, o, runID, doc.ID, domain.StageMetadata, configHash,
		func() (MetadataOutput, error) {
			stage := NewMetadataStage(o.deps.Graph)
			return stage(ctx, partitionOut).Unwrap()
		})
	if err != nil {
		return docOutcome{doc: doc, failed: true, errMsg: err.Error()}
	}

	enrichmentOut, err := runStage(ctx, o, runID, doc.ID, domain.StageEnrichment, configHash,
		func() (EnrichmentOutput, error) {
			stage := NewEnrichmentStage(o.deps.Objects, o.deps.VLM, nil, cfg.Enrichment)
			return stage(ctx, metadataOut).Unwrap()
		})
	if err != nil {
		return docOutcome{doc: doc, failed: true, errMsg: err.Error()}
	}

	chunkingOut, err := runStage(ctx, o, runID, doc.ID, domain.StageChunking, configHash,
		func() (ChunkingOutput, error) {
			stage := NewChunkingStage(cfg.Chunking)
			return stage(ctx, enrichmentOut).Unwrap()
		})
	if err != nil {
		return docOutcome{doc: doc, failed: true, errMsg: err.Error()}
	}

	for i := range chunkingOut.Chunks {
		chunkingOut.Chunks[i].DocumentID = doc.ID
		chunkingOut.Chunks[i].IndexingRunID = runID
	}

	return docOutcome{doc: doc, chunks: chunkingOut.Chunks}
}

// runStage loads a cached StageResult for (runID, documentID, stage) and
// reuses it when completed under an unchanged config hash; otherwise it runs
// produce and persists the outcome. A free function, not a method, because
// Go methods cannot carry their own type parameters.
func runStage[T any](ctx context.Context, o *Orchestrator, runID, documentID string, stage domain.StageName, configHash string, produce func() (T, error)) (T, error) {
	var zero T
	if cached, ok, err := o.deps.Store.LoadStageResult(ctx, runID, stage, documentID); err == nil && ok {
		if cached.Status == domain.StatusCompleted && cached.Summary["config_hash"] == configHash {
			if data, ok := cached.Data.(T); ok {
				return data, nil
			}
			// A relational store round-trips Data through JSON, so it comes
			// back as a generic map rather than the original typed value;
			// re-decode it through the same codec to recover T.
			if raw, err := json.Marshal(cached.Data); err == nil {
				var decoded T
				if err := json.Unmarshal(raw, &decoded); err == nil {
					return decoded, nil
				}
			}
		}
	}

	start := time.Now()
	out, err := produce()
	res := domain.StageResult{
		RunID:     runID,
		Stage:     stage,
		StartedAt: start,
		EndedAt:   time.Now(),
		Duration:  time.Since(start),
		Summary:   map[string]any{"config_hash": configHash, "document_id": documentID},
		Data:      out,
	}
	if err != nil {
		res.Status = domain.StatusFailed
		res.ErrorMessage = err.Error()
	} else {
		res.Status = domain.StatusCompleted
	}
	if saveErr := o.deps.Store.SaveStageResult(ctx, res); saveErr != nil {
		o.log.Warn("failed to persist stage result", "run_id", runID, "document_id", documentID, "stage", stage, "error", saveErr)
	}
	if err != nil {
		return zero, err
	}
	return out, nil
}

// hashConfig produces a stable fingerprint of a config so a rerun can tell
// whether a cached stage result was produced under the same settings.
func hashConfig(cfg domain.IndexingConfig) string {
	b, err := json.Marshal(cfg)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
