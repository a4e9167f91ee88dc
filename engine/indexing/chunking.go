package indexing

import (
	"context"
	"strings"
	"unicode"

	"github.com/constructionrag/ragcore/engine/domain"
	"github.com/constructionrag/ragcore/pkg/fn"
)

// candidate is an in-flight chunk before ordinal assignment and merging.
type candidate struct {
	documentID     string
	page           int
	category       domain.ElementCategory
	sourceFilename string
	sectionTitle   string
	complexity     domain.TextComplexity
	content        string
	mergedFrom     []string
	sourceIDs      []string
	enrichment     map[string]any
}

// NewChunkingStage builds the Chunking stage: base chunks, semantic splitting
// of oversized candidates, small-chunk merging, and ordinal assignment.
func NewChunkingStage(cfg domain.ChunkingConfig) fn.Stage[EnrichmentOutput, ChunkingOutput] {
	return func(ctx context.Context, in EnrichmentOutput) fn.Result[ChunkingOutput] {
		cands := baseChunks(in)

		splitCount := 0
		split := make([]candidate, 0, len(cands))
		for _, c := range cands {
			if len(c.content) <= cfg.MaxChunkSize {
				split = append(split, c)
				continue
			}
			parts := splitOversized(c.content, cfg.MaxChunkSize, cfg.Overlap)
			splitCount += len(parts) - 1
			for _, p := range parts {
				sub := c
				sub.content = p
				split = append(split, sub)
			}
		}

		merged, mergeCount := mergeSmallRuns(split, cfg.MinChunkSize)

		chunks := make([]domain.Chunk, 0, len(merged))
		var totalLen int
		for i, c := range merged {
			if strings.TrimSpace(c.content) == "" {
				continue
			}
			chunks = append(chunks, domain.Chunk{
				ID:              "",
				DocumentID:      c.documentID,
				Ordinal:         i,
				Content:         c.content,
				PageNumber:      c.page,
				ElementCategory: c.category,
				SourceFilename:  c.sourceFilename,
				SectionTitle:    c.sectionTitle,
				HasNumbers:      hasDigit(c.content),
				Complexity:      c.complexity,
				MergedFrom:      c.mergedFrom,
				EnrichmentMeta:  c.enrichment,
			})
			totalLen += len(c.content)
		}

		stats := ChunkStats{
			TotalChunksCreated: len(chunks),
			SplitCount:         splitCount,
			MergeCount:         mergeCount,
		}
		if len(chunks) > 0 {
			stats.AverageChunkSize = float64(totalLen) / float64(len(chunks))
		}

		sample := chunks
		if len(sample) > 5 {
			sample = sample[:5]
		}

		return fn.Ok(ChunkingOutput{Chunks: chunks, Stats: stats, SampleChunks: sample})
	}
}

func hasDigit(s string) bool {
	for _, r := range s {
		if unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

// baseChunks emits one candidate per element; tables and full-page images get
// caption content prepended to their original text.
func baseChunks(in EnrichmentOutput) []candidate {
	out := make([]candidate, 0, len(in.TextElements)+len(in.TableElements)+len(in.ExtractedPages))

	for _, el := range in.TextElements {
		out = append(out, candidate{
			documentID:     in.Document.ID,
			page:           el.Page,
			category:       el.Category,
			sourceFilename: el.SourceFilename,
			sectionTitle:   el.SectionTitle,
			complexity:     el.Complexity,
			content:        el.Text,
			sourceIDs:      []string{el.ID},
		})
	}

	for _, t := range in.TableElements {
		var captions []string
		if t.EnrichmentMeta != nil {
			if t.EnrichmentMeta.TableImageCaption != "" {
				captions = append(captions, t.EnrichmentMeta.TableImageCaption)
			}
			if t.EnrichmentMeta.TableHTMLCaption != "" {
				captions = append(captions, t.EnrichmentMeta.TableHTMLCaption)
			}
		}
		content := t.Text
		if len(captions) > 0 {
			content = strings.Join(captions, "\n\n") + "\n\n" + content
		}
		out = append(out, candidate{
			documentID:     in.Document.ID,
			page:           t.Page,
			category:       t.Category,
			sourceFilename: t.SourceFilename,
			sectionTitle:   t.SectionTitle,
			complexity:     t.Complexity,
			content:        content,
			sourceIDs:      []string{t.ID},
			enrichment:     enrichmentMap(t.EnrichmentMeta),
		})
	}

	pageEnrichment, _ := in.DocumentMeta["page_enrichment"].(map[int]*ElementEnrichment)
	for page, img := range in.ExtractedPages {
		var enr *ElementEnrichment
		if pageEnrichment != nil {
			enr = pageEnrichment[page]
		}
		content := ""
		if enr != nil {
			content = enr.FullPageImageCaption
		}
		out = append(out, candidate{
			documentID:     in.Document.ID,
			page:           page,
			category:       domain.CategoryExtractedPage,
			sourceFilename: in.Document.Filename,
			sectionTitle:   img.SectionTitle,
			content:        content,
			enrichment:     enrichmentMap(enr),
		})
	}

	return out
}

func enrichmentMap(e *ElementEnrichment) map[string]any {
	if e == nil {
		return nil
	}
	return map[string]any{
		"vlm_model":                     e.VLMModel,
		"caption_word_count":            e.CaptionWordCount,
		"processing_duration_seconds":   e.ProcessingDuration.Seconds(),
		"vlm_processed":                 e.VLMProcessed,
		"vlm_processing_error":          e.VLMProcessingError,
	}
}

// splitOversized splits content on paragraph boundaries, falling back to
// sentence boundaries, then a hard split, honoring the configured overlap
// between adjacent sub-chunks.
func splitOversized(content string, maxSize, overlap int) []string {
	paras := splitOn(content, "\n\n")
	parts := packUnits(paras, maxSize, overlap)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if len(p) <= maxSize {
			out = append(out, p)
			continue
		}
		sentences := splitOnSentence(p)
		sentParts := packUnits(sentences, maxSize, overlap)
		for _, sp := range sentParts {
			if len(sp) <= maxSize {
				out = append(out, sp)
				continue
			}
			out = append(out, hardSplit(sp, maxSize, overlap)...)
		}
	}
	return out
}

func splitOn(s, sep string) []string {
	parts := strings.Split(s, sep)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{s}
	}
	return out
}

func splitOnSentence(s string) []string {
	var out []string
	start := 0
	for i, r := range s {
		if r == '.' || r == '!' || r == '?' {
			out = append(out, s[start:i+1])
			start = i + 1
		}
	}
	if start < len(s) {
		out = append(out, s[start:])
	}
	if len(out) == 0 {
		return []string{s}
	}
	return out
}

// packUnits greedily packs units into groups that fit maxSize, joining with a
// single space, carrying forward `overlap` trailing characters from the
// previous group into the next.
func packUnits(units []string, maxSize, overlap int) []string {
	var groups []string
	var cur strings.Builder
	for _, u := range units {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		if cur.Len() > 0 && cur.Len()+1+len(u) > maxSize {
			groups = append(groups, cur.String())
			prev := cur.String()
			cur.Reset()
			if overlap > 0 && len(prev) > overlap {
				cur.WriteString(prev[len(prev)-overlap:])
				cur.WriteString(" ")
			}
		}
		if cur.Len() > 0 {
			cur.WriteString(" ")
		}
		cur.WriteString(u)
	}
	if cur.Len() > 0 {
		groups = append(groups, cur.String())
	}
	if len(groups) == 0 {
		return []string{""}
	}
	return groups
}

// hardSplit is the last-resort splitter: fixed-width slices with overlap.
func hardSplit(s string, maxSize, overlap int) []string {
	if maxSize <= 0 {
		return []string{s}
	}
	var out []string
	step := maxSize - overlap
	if step <= 0 {
		step = maxSize
	}
	for i := 0; i < len(s); i += step {
		end := i + maxSize
		if end > len(s) {
			end = len(s)
		}
		out = append(out, s[i:end])
		if end == len(s) {
			break
		}
	}
	return out
}

// mergeSmallRuns greedily merges adjacent under-sized candidates that share a
// document, section, and are on adjacent or the same page, preserving the
// first candidate's metadata and recording merged_from.
func mergeSmallRuns(cands []candidate, minSize int) ([]candidate, int) {
	if len(cands) == 0 {
		return cands, 0
	}
	out := make([]candidate, 0, len(cands))
	mergeCount := 0

	cur := cands[0]
	for i := 1; i < len(cands); i++ {
		next := cands[i]
		sameRun := cur.documentID == next.documentID &&
			cur.sectionTitle == next.sectionTitle &&
			(next.page == cur.page || next.page == cur.page+1)
		if len(cur.content) < minSize && sameRun {
			cur.content = strings.TrimSpace(cur.content) + "\n\n" + strings.TrimSpace(next.content)
			cur.mergedFrom = append(append([]string{}, cur.mergedFrom...), next.sourceIDs...)
			if len(cur.mergedFrom) == 0 {
				cur.mergedFrom = next.sourceIDs
			}
			mergeCount++
			continue
		}
		out = append(out, cur)
		cur = next
	}
	out = append(out, cur)
	return out, mergeCount
}
