package indexing

import (
	"context"
	"sort"

	"github.com/constructionrag/ragcore/engine/domain"
	"github.com/constructionrag/ragcore/pkg/docnlp"
	"github.com/constructionrag/ragcore/pkg/fn"
)

// NewMetadataStage builds the Metadata stage: attach structural metadata to
// every element and compute section inheritance by sweeping elements in
// reading order, remembering the most recent Title-like element and
// propagating it to subsequent elements until another Title is seen.
func NewMetadataStage(graph DocGraph) fn.Stage[PartitionOutput, MetadataOutput] {
	return func(ctx context.Context, in PartitionOutput) fn.Result[MetadataOutput] {
		all := make([]*Element, 0, len(in.TextElements)+len(in.TableElements))
		for i := range in.TextElements {
			all = append(all, &in.TextElements[i])
		}
		for i := range in.TableElements {
			all = append(all, &in.TableElements[i].Element)
		}
		sort.SliceStable(all, func(i, j int) bool { return all[i].Page < all[j].Page })

		pageSections := make(map[int]string)
		currentTitle := ""
		for _, el := range all {
			if el.Category == domain.CategoryTitle {
				currentTitle = el.Text
			}
			el.SectionTitle = currentTitle
			el.HasNumbers = docnlp.HasNumbers(el.Text)
			el.Complexity = domain.TextComplexity(docnlp.Complexity(el.Text))
			if _, exists := pageSections[el.Page]; !exists && currentTitle != "" {
				pageSections[el.Page] = currentTitle
			}
		}
		for page, img := range in.ExtractedPages {
			img.SectionTitle = pageSections[page]
			in.ExtractedPages[page] = img
		}

		out := MetadataOutput{PartitionOutput: in, PageSections: pageSections}

		if graph != nil {
			if err := graph.SaveSections(ctx, "", in.Document.ID, pageSections); err != nil {
				// Non-fatal: the structural graph is an optimization for the
				// Wiki pipeline's cross-document queries, not a correctness
				// requirement of the Metadata stage's own output contract.
				_ = err
			}
		}

		return fn.Ok(out)
	}
}
