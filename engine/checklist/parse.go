package checklist

import (
	"context"
	"fmt"

	"github.com/constructionrag/ragcore/engine/adapters"
	"github.com/constructionrag/ragcore/engine/wiki/jsonrepair"
)

type parseResponse struct {
	Items []struct {
		Number      int    `json:"number"`
		Name        string `json:"name"`
		Description string `json:"description"`
	} `json:"items"`
	Queries []string `json:"queries"`
}

// ParseChecklist asks the chat model to split the checklist's free-form
// content into numbered items, each with a short name and one-sentence
// description, plus one shared list of search queries that together would
// retrieve evidence of compliance for all of those items from a set of
// construction documents.
func ParseChecklist(ctx context.Context, chat adapters.ChatClient, chatModel, content string) ([]ParsedItem, []string, error) {
	prompt := fmt.Sprintf(`Split the following checklist into individual numbered items. For each
item, give a short name and a one-sentence description. Then write a combined
list of search queries that together would retrieve evidence of compliance
for all of these items from a set of construction documents.

Respond with ONLY a JSON object of this shape, no prose:
{"items": [{"number": 1, "name": "...", "description": "..."}], "queries": ["...", "..."]}

Checklist:
%s`, content)

	raw, err := chat.Chat(ctx, prompt, adapters.ChatOptions{Model: chatModel, Temperature: 0.1, MaxTokens: 3000, ResponseFormat: "json_object"})
	if err != nil {
		return nil, nil, fmt.Errorf("checklist: parse chat: %w", err)
	}

	var resp parseResponse
	if err := jsonrepair.Extract(raw, &resp); err != nil {
		return nil, nil, fmt.Errorf("checklist: parse response unparseable: %w", err)
	}

	items := make([]ParsedItem, 0, len(resp.Items))
	for i, it := range resp.Items {
		number := it.Number
		if number == 0 {
			number = i + 1
		}
		items = append(items, ParsedItem{Number: number, Name: it.Name, Description: it.Description})
	}
	return items, resp.Queries, nil
}
