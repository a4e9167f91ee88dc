package checklist

import (
	"context"
	"fmt"
	"strings"

	"github.com/constructionrag/ragcore/engine/adapters"
	"github.com/constructionrag/ragcore/engine/retrieval"
)

// maxAnalysisEvidence caps how many retrieved chunks go into the combined
// Analysis call's prompt, bounding the chat model's context budget
// regardless of how many queries the checklist generated.
const maxAnalysisEvidence = 50

// AnalyzeItems asks the chat model to assess every checklist item's
// compliance against the shared evidence pool in a single call, citing
// evidence inline as "filename, page N". The model is asked to open each
// item's assessment with a line of the form "Item N: Name" so Structure's
// regex fallback can still split the combined response back out per item.
func AnalyzeItems(ctx context.Context, chat adapters.ChatClient, chatModel string, items []ParsedItem, evidence []retrieval.Result) (string, error) {
	if len(evidence) > maxAnalysisEvidence {
		evidence = evidence[:maxAnalysisEvidence]
	}

	var itemList, contextParts strings.Builder
	for _, it := range items {
		fmt.Fprintf(&itemList, "%d. %s — %s\n", it.Number, it.Name, it.Description)
	}
	for _, r := range evidence {
		fmt.Fprintf(&contextParts, "[%s, page %d]\n%s\n\n", r.SourceFilename, r.PageNumber, r.Content)
	}

	prompt := fmt.Sprintf(`Checklist items:
%s
Using only the evidence below, assess whether each item's requirement is met,
missing, a risk, or met with conditions. Cite evidence inline as "filename,
page N". If there is no relevant evidence for an item, say so explicitly.
Respond with one section per item, each starting with a line of the exact
form "Item N: Name".

Evidence:
%s`, itemList.String(), contextParts.String())

	text, err := chat.Chat(ctx, prompt, adapters.ChatOptions{Model: chatModel, Temperature: 0.1, MaxTokens: 4000})
	if err != nil {
		return "", fmt.Errorf("checklist: analyze: %w", err)
	}
	return text, nil
}
