package indexing

import (
	"context"
	"strings"
	"time"

	"github.com/constructionrag/ragcore/engine/adapters"
	"github.com/constructionrag/ragcore/engine/domain"
	"github.com/constructionrag/ragcore/pkg/fn"
	"github.com/constructionrag/ragcore/pkg/resilience"
)

const (
	tableImagePrompt = "Transcribe this table image completely and verbatim. Describe: (1) the complete text content, " +
		"(2) the table's structure (rows, columns, headers), (3) any surrounding labels, (4) technical details shown."
	tableHTMLPrompt = "Given this table's HTML representation, transcribe its complete text content, describe its structure, " +
		"note any surrounding labels, and call out technical details."
	fullPagePrompt = "This image is the PRIMARY source of all text on this page; fragmented text extraction was skipped for it. " +
		"Transcribe all visible text verbatim, in reading order."
)

func wordCount(s string) int {
	return len(strings.Fields(s))
}

// NewEnrichmentStage builds the Enrichment stage: VLM-caption every table
// (twice: image and HTML) and every full-page image, attaching the captions
// as EnrichmentMeta. A VLM failure is per-element, non-fatal: it marks
// VLMProcessed=false with an error string and leaves the element's original
// text intact.
func NewEnrichmentStage(objects BlobGetter, vlm adapters.VlmClient, limiter *resilience.Limiter, cfg domain.EnrichmentConfig) fn.Stage[MetadataOutput, EnrichmentOutput] {
	return func(ctx context.Context, in MetadataOutput) fn.Result[EnrichmentOutput] {
		contextText := buildPageContext(in, cfg.MaxTextContextLength, cfg.MaxPageTextElements)

		for i := range in.TableElements {
			t := &in.TableElements[i]
			enr := &ElementEnrichment{VLMModel: cfg.VLMModel}
			start := time.Now()

			if t.ImageURL != "" {
				imgBytes, fetchErr := objects.Get(ctx, t.ImageURL)
				if fetchErr != nil {
					enr.VLMProcessingError = fetchErr.Error()
				} else if caption, err := captionWithLimiter(ctx, limiter, vlm, imgBytes, "",
					tableImagePrompt+"\n\n"+contextText[t.Page], cfg.CaptionLanguage, cfg.VLMModel); err != nil {
					enr.VLMProcessingError = err.Error()
				} else {
					enr.TableImageCaption = caption
					enr.VLMProcessed = true
				}
			}
			if t.HTML != "" {
				caption, err := captionWithLimiter(ctx, limiter, vlm, nil, t.HTML,
					tableHTMLPrompt+"\n\n"+contextText[t.Page], cfg.CaptionLanguage, cfg.VLMModel)
				if err != nil {
					if enr.VLMProcessingError == "" {
						enr.VLMProcessingError = err.Error()
					}
				} else {
					enr.TableHTMLCaption = caption
					enr.VLMProcessed = true
				}
			}
			enr.CaptionWordCount = wordCount(enr.TableImageCaption) + wordCount(enr.TableHTMLCaption)
			enr.ProcessingDuration = time.Since(start)
			t.EnrichmentMeta = enr
		}

		for page, img := range in.ExtractedPages {
			start := time.Now()
			enr := &ElementEnrichment{VLMModel: cfg.VLMModel}
			imgBytes, fetchErr := objects.Get(ctx, img.ImageURL)
			var caption string
			var err error
			if fetchErr != nil {
				err = fetchErr
			} else {
				caption, err = captionWithLimiter(ctx, limiter, vlm, imgBytes, "",
					fullPagePrompt+"\n\n"+contextText[page], cfg.CaptionLanguage, cfg.VLMModel)
			}
			if err != nil {
				enr.VLMProcessingError = err.Error()
			} else {
				enr.FullPageImageCaption = caption
				enr.VLMProcessed = true
				enr.CaptionWordCount = wordCount(caption)
			}
			enr.ProcessingDuration = time.Since(start)
			// PageImage carries no element slot of its own; stash the
			// enrichment alongside by recording it in DocumentMeta keyed by
			// page, which the Chunking stage reads back.
			if in.DocumentMeta == nil {
				in.DocumentMeta = map[string]any{}
			}
			metaKey := "page_enrichment"
			pageMetas, _ := in.DocumentMeta[metaKey].(map[int]*ElementEnrichment)
			if pageMetas == nil {
				pageMetas = map[int]*ElementEnrichment{}
			}
			pageMetas[page] = enr
			in.DocumentMeta[metaKey] = pageMetas
		}

		return fn.Ok(EnrichmentOutput{MetadataOutput: in})
	}
}

// captionWithLimiter honors the shared per-service token bucket (if given)
// before issuing the VLM call.
func captionWithLimiter(ctx context.Context, limiter *resilience.Limiter, vlm adapters.VlmClient, imageBytes []byte, html, prompt, language, model string) (string, error) {
	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return "", err
		}
	}
	return vlm.Caption(ctx, imageBytes, html, prompt, language, model)
}

// buildPageContext gathers at most maxPageTextElements text snippets per
// page (truncated to maxTextContextLength total characters) to give the VLM
// prompt surrounding context, per the Enrichment stage's algorithm.
func buildPageContext(in MetadataOutput, maxTextContextLength, maxPageTextElements int) map[int]string {
	byPage := map[int][]string{}
	for _, el := range in.TextElements {
		if len(byPage[el.Page]) >= maxPageTextElements {
			continue
		}
		byPage[el.Page] = append(byPage[el.Page], el.Text)
	}
	out := map[int]string{}
	for page, snippets := range byPage {
		joined := strings.Join(snippets, "\n")
		if len(joined) > maxTextContextLength {
			joined = joined[:maxTextContextLength]
		}
		out[page] = joined
	}
	return out
}
