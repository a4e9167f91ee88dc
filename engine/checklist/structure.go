package checklist

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/constructionrag/ragcore/engine/adapters"
	"github.com/constructionrag/ragcore/engine/domain"
	"github.com/constructionrag/ragcore/engine/wiki/jsonrepair"
)

type structuredResult struct {
	Number      int     `json:"number"`
	Status      string  `json:"status"`
	Description string  `json:"description"`
	Confidence  float64 `json:"confidence"`
	Sources     []struct {
		Filename string `json:"filename"`
		Page     int    `json:"page"`
		Excerpt  string `json:"excerpt"`
	} `json:"sources"`
}

type structuredResponse struct {
	Results []structuredResult `json:"results"`
}

var citationPattern = regexp.MustCompile(`([\w.\- ]+\.pdf),?\s*page\s*(\d+)`)
var itemHeaderPattern = regexp.MustCompile(`(?m)^Item\s+(\d+):.*$`)

// StructureAll converts the combined free-form analysis text into one typed
// domain.ChecklistResult per parsed item, through three fallback tiers: a
// single structured chat call asking for the whole result array as JSON, a
// regex-based extraction of each item's own section of the analysis if that
// call fails or omits an item, and finally a pending_clarification
// placeholder so every parsed item still appears in the final output.
func StructureAll(ctx context.Context, chat adapters.ChatClient, chatModel string, items []ParsedItem, rawAnalysis string) []domain.ChecklistResult {
	bySchema := structureViaSchema(ctx, chat, chatModel, items, rawAnalysis)
	sections := splitByItem(rawAnalysis, items)

	out := make([]domain.ChecklistResult, len(items))
	for i, item := range items {
		if r, ok := bySchema[item.Number]; ok {
			out[i] = r
			continue
		}
		if r, ok := structureViaRegex(item, sections[item.Number]); ok {
			out[i] = r
			continue
		}
		out[i] = domain.ChecklistResult{
			ItemNumber:  item.Number,
			ItemName:    item.Name,
			Status:      domain.ChecklistPendingClarification,
			Description: "could not automatically structure the analysis; manual review required",
		}
	}
	return out
}

func structureViaSchema(ctx context.Context, chat adapters.ChatClient, chatModel string, items []ParsedItem, rawAnalysis string) map[int]domain.ChecklistResult {
	prompt := fmt.Sprintf(`Convert this compliance analysis into a JSON object of this shape, no
prose, with exactly one entry per item number listed below:
{"results": [{"number": 0, "status": "found|missing|risk|conditions", "description": "...",
 "confidence": 0.0, "sources": [{"filename": "...", "page": 0, "excerpt": "..."}]}]}

Item numbers: %s

Analysis:
%s`, itemNumberList(items), rawAnalysis)

	raw, err := chat.Chat(ctx, prompt, adapters.ChatOptions{Model: chatModel, Temperature: 0, MaxTokens: 3000, ResponseFormat: "json_object"})
	if err != nil {
		return nil
	}

	var resp structuredResponse
	if err := jsonrepair.Extract(raw, &resp); err != nil {
		return nil
	}

	byNumber := map[int]ParsedItem{}
	for _, it := range items {
		byNumber[it.Number] = it
	}

	out := map[int]domain.ChecklistResult{}
	for _, parsed := range resp.Results {
		status := domain.ChecklistItemStatus(parsed.Status)
		if !validStatus(status) {
			continue
		}
		item, ok := byNumber[parsed.Number]
		if !ok {
			continue
		}

		var sources []domain.ChecklistSource
		for _, s := range parsed.Sources {
			sources = append(sources, domain.ChecklistSource{Filename: s.Filename, Page: s.Page, Excerpt: s.Excerpt})
		}
		var primary *domain.ChecklistSource
		if len(sources) > 0 {
			primary = &sources[0]
		}

		out[parsed.Number] = domain.ChecklistResult{
			ItemNumber: item.Number, ItemName: item.Name, Status: status,
			Description: parsed.Description, Confidence: parsed.Confidence,
			PrimarySource: primary, AllSources: sources,
		}
	}
	return out
}

func structureViaRegex(item ParsedItem, section string) (domain.ChecklistResult, bool) {
	lower := strings.ToLower(section)
	status := inferStatus(lower)
	if status == "" {
		return domain.ChecklistResult{}, false
	}

	var sources []domain.ChecklistSource
	for _, m := range citationPattern.FindAllStringSubmatch(section, -1) {
		page, _ := strconv.Atoi(m[2])
		sources = append(sources, domain.ChecklistSource{Filename: strings.TrimSpace(m[1]), Page: page})
	}
	var primary *domain.ChecklistSource
	if len(sources) > 0 {
		primary = &sources[0]
	}

	return domain.ChecklistResult{
		ItemNumber: item.Number, ItemName: item.Name, Status: status,
		Description: strings.TrimSpace(section), Confidence: 0.5,
		PrimarySource: primary, AllSources: sources,
	}, true
}

func inferStatus(lower string) domain.ChecklistItemStatus {
	switch {
	case strings.Contains(lower, "no relevant evidence") || strings.Contains(lower, "not found") || strings.Contains(lower, "missing"):
		return domain.ChecklistMissing
	case strings.Contains(lower, "risk"):
		return domain.ChecklistRisk
	case strings.Contains(lower, "condition"):
		return domain.ChecklistConditions
	case strings.Contains(lower, "met") || strings.Contains(lower, "compliant") || strings.Contains(lower, "found"):
		return domain.ChecklistFound
	default:
		return ""
	}
}

func validStatus(s domain.ChecklistItemStatus) bool {
	switch s {
	case domain.ChecklistFound, domain.ChecklistMissing, domain.ChecklistRisk, domain.ChecklistConditions:
		return true
	}
	return false
}

func itemNumberList(items []ParsedItem) string {
	parts := make([]string, len(items))
	for i, it := range items {
		parts[i] = strconv.Itoa(it.Number)
	}
	return strings.Join(parts, ", ")
}

// splitByItem splits the combined analysis text into per-item sections on
// "Item N:" header lines, so the regex fallback can still scan just the
// section relevant to one item. If the model didn't follow the requested
// format, every item falls back to scanning the full text.
func splitByItem(rawAnalysis string, items []ParsedItem) map[int]string {
	sections := map[int]string{}
	locs := itemHeaderPattern.FindAllStringSubmatchIndex(rawAnalysis, -1)
	if len(locs) == 0 {
		for _, it := range items {
			sections[it.Number] = rawAnalysis
		}
		return sections
	}
	for i, loc := range locs {
		number, _ := strconv.Atoi(rawAnalysis[loc[2]:loc[3]])
		end := len(rawAnalysis)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		sections[number] = rawAnalysis[loc[0]:end]
	}
	return sections
}
