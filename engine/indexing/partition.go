package indexing

import (
	"context"
	"fmt"

	"github.com/constructionrag/ragcore/engine/adapters"
	"github.com/constructionrag/ragcore/engine/domain"
	"github.com/constructionrag/ragcore/pkg/fn"
)

// NewPartitionStage builds the Partition stage: fetch the PDF from the
// object store, hand it to PartitionClient, and normalize the response.
// Hard-fails the document (never the run) if the PDF cannot be opened.
func NewPartitionStage(objects BlobGetter, client adapters.PartitionClient, cfg domain.PartitionConfig) fn.Stage[DocumentDescriptor, PartitionOutput] {
	return func(ctx context.Context, doc DocumentDescriptor) fn.Result[PartitionOutput] {
		pdfBytes, err := objects.Get(ctx, doc.BlobKey)
		if err != nil {
			return fn.Err[PartitionOutput](domain.NewError(domain.KindUpstreamUnavailable, "indexing.partition.fetch", err))
		}

		raw, err := client.Analyze(ctx, pdfBytes, adapters.PartitionConfig{
			OCRStrategy:   string(cfg.OCRStrategy),
			ExtractTables: cfg.ExtractTables,
			ExtractImages: cfg.ExtractImages,
			MinImageArea:  cfg.MinImageArea,
		})
		if err != nil {
			return fn.Err[PartitionOutput](fmt.Errorf("partition %s: %w", doc.Filename, err))
		}

		out := PartitionOutput{
			Document:       doc,
			TextElements:   make([]Element, len(raw.TextElements)),
			TableElements:  make([]TableElement, len(raw.TableElements)),
			ExtractedPages: make(map[int]PageImage, len(raw.ExtractedPages)),
			DocumentMeta:   raw.DocumentMeta,
		}
		for i, e := range raw.TextElements {
			out.TextElements[i] = Element{
				ID:             e.ID,
				Page:           e.Page,
				Text:           e.Text,
				Category:       domain.ElementCategory(e.Category),
				SourceFilename: doc.Filename,
			}
		}
		for i, t := range raw.TableElements {
			out.TableElements[i] = TableElement{
				Element: Element{
					ID:             t.ID,
					Page:           t.Page,
					SourceFilename: doc.Filename,
					Category:       domain.CategoryTable,
				},
				HTML:     t.HTML,
				ImageURL: t.ImageURL,
			}
		}
		for page, img := range raw.ExtractedPages {
			out.ExtractedPages[page] = PageImage{Page: img.Page, ImageURL: img.ImageURL}
		}
		return fn.Ok(out)
	}
}
