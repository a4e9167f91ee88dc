package wiki

import (
	"context"
	"fmt"

	"github.com/constructionrag/ragcore/engine/domain"
)

// Orchestrator drives the six Wiki pipeline stages in order: Metadata
// Collection, Overview, Clustering, Structure, per-page Retrieval, and
// Markdown rendering, persisting each generated page to the object store.
type Orchestrator struct {
	deps Deps
	cfg  domain.WikiConfig
}

// NewOrchestrator builds a Wiki Orchestrator.
func NewOrchestrator(deps Deps, cfg domain.WikiConfig) *Orchestrator {
	return &Orchestrator{deps: deps, cfg: cfg}
}

// Run executes the full Wiki pipeline for one WikiRun over its parent
// indexing run's chunks, filling run.Pages with the generated page metadata
// and setting run.Status; it returns the failing stage's error, if any.
func (o *Orchestrator) Run(ctx context.Context, run *domain.WikiRun, language, embedModel, chatModel string) error {
	run.Status = domain.StatusRunning

	docs, err := CollectMetadata(ctx, o.deps.Chunks, run.IndexingRunID)
	if err != nil {
		return o.fail(run, domain.StageWikiMetadataCollect, err)
	}
	saveStage(ctx, o.deps.Stages, run.ID, domain.StageWikiMetadataCollect, domain.StatusCompleted, docs, "")

	overview, err := GenerateOverview(ctx, o.deps, run.IndexingRunID, language, embedModel, chatModel, docs)
	if err != nil {
		return o.fail(run, domain.StageWikiOverview, err)
	}
	saveStage(ctx, o.deps.Stages, run.ID, domain.StageWikiOverview, domain.StatusCompleted, overview, "")

	var clusters []Cluster
	if !o.cfg.SkipClustering {
		chunks, err := o.deps.Chunks.ChunksForRun(ctx, run.IndexingRunID)
		if err != nil {
			return o.fail(run, domain.StageWikiClustering, err)
		}
		clusters, err = ClusterChunks(ctx, o.deps.Chat, chatModel, chunks, o.cfg.SemanticClusters.MinClusters, o.cfg.SemanticClusters.MaxClusters)
		if err != nil {
			return o.fail(run, domain.StageWikiClustering, err)
		}
		saveStage(ctx, o.deps.Stages, run.ID, domain.StageWikiClustering, domain.StatusCompleted, clusters, "")
	}

	pages, err := GenerateStructure(ctx, o.deps.Chat, chatModel, docs, clusters, o.cfg.Generation.MaxPages, o.cfg.Generation.QueriesPerPage, language)
	if err != nil {
		return o.fail(run, domain.StageWikiStructure, err)
	}
	saveStage(ctx, o.deps.Stages, run.ID, domain.StageWikiStructure, domain.StatusCompleted, pages, "")

	run.StoragePrefix = fmt.Sprintf("wiki/%s", run.ID)
	run.Pages = make([]domain.WikiPageMeta, 0, len(pages))

	for i, page := range pages {
		var content string
		if i == 0 && isOverviewTitle(page.Title) {
			content = fmt.Sprintf("# %s\n\n%s", page.Title, overview)
		} else {
			results, err := RetrievePageContent(ctx, o.deps.Core, run.IndexingRunID, language, embedModel, page)
			if err != nil {
				return o.fail(run, domain.StageWikiPageRetrieval, err)
			}
			content, err = RenderPage(ctx, o.deps.Chat, chatModel, page, results, true)
			if err != nil {
				return o.fail(run, domain.StageWikiMarkdown, err)
			}
		}

		key := pageObjectKey(run.StoragePrefix, i)
		if o.deps.Objects != nil {
			if err := o.deps.Objects.Put(ctx, key, []byte(content), "text/markdown"); err != nil {
				return o.fail(run, domain.StageWikiMarkdown, err)
			}
		}

		run.Pages = append(run.Pages, domain.WikiPageMeta{
			ID: page.ID, Title: page.Title, Description: page.Description, Filename: fmt.Sprintf("page-%d.md", i), StorageKey: key,
		})
	}

	saveStage(ctx, o.deps.Stages, run.ID, domain.StageWikiMarkdown, domain.StatusCompleted, run.Pages, "")
	run.Status = domain.StatusCompleted
	return nil
}

func (o *Orchestrator) fail(run *domain.WikiRun, stage domain.StageName, err error) error {
	run.Status = domain.StatusFailed
	run.ErrorMessage = err.Error()
	saveStage(context.Background(), o.deps.Stages, run.ID, stage, domain.StatusFailed, nil, err.Error())
	return fmt.Errorf("wiki: %s: %w", stage, err)
}
