package wiki

import (
	"context"
	"fmt"
	"strings"

	"github.com/constructionrag/ragcore/engine/adapters"
)

// overviewQueries are the fixed domain queries run against every indexing
// run to gather material for the overview page, independent of the
// corpus's own structure.
var overviewQueries = []string{
	"what is the overall purpose and scope of this project",
	"what are the main systems or disciplines covered",
	"what safety or compliance requirements are described",
	"what are the key technical specifications",
	"what materials are specified",
	"what are the installation or construction requirements",
	"what maintenance or operational procedures are described",
	"what are the project's key stakeholders or responsible parties",
	"what standards or codes are referenced",
	"what are the main risks or hazards identified",
	"what testing or inspection procedures are required",
	"what is the project timeline or phasing",
}

// GenerateOverview embeds the fixed domain queries, unions their top chunks,
// and asks the chat model for a plain-language summary of the corpus.
func GenerateOverview(ctx context.Context, deps Deps, runID, language, embedModel, chatModel string, docs []DocumentSummary) (string, error) {
	seen := map[string]bool{}
	var contextParts []string
	for _, q := range overviewQueries {
		results, err := deps.Core.Query(ctx, q, runID, nil, language, embedModel)
		if err != nil {
			return "", fmt.Errorf("wiki: overview query %q: %w", q, err)
		}
		for _, r := range results {
			if seen[r.ChunkID] {
				continue
			}
			seen[r.ChunkID] = true
			contextParts = append(contextParts, fmt.Sprintf("[%s, p.%d]\n%s", r.SourceFilename, r.PageNumber, r.Content))
		}
	}

	var docList strings.Builder
	for _, d := range docs {
		fmt.Fprintf(&docList, "- %s (%d pages, %d chunks)\n", d.Filename, d.PageCount, d.ChunkCount)
	}

	prompt := fmt.Sprintf(`You are documenting a construction project from its source documents.
Documents in this project:
%s

Using only the context below, write a concise overview (3-5 paragraphs) describing
the project's purpose, scope, and the systems or disciplines it covers. Do not
invent facts not supported by the context.

Context:
%s`, docList.String(), strings.Join(contextParts, "\n\n"))

	summary, err := deps.Chat.Chat(ctx, prompt, adapters.ChatOptions{Model: chatModel, Temperature: 0.2, MaxTokens: 1200})
	if err != nil {
		return "", fmt.Errorf("wiki: overview chat: %w", err)
	}
	return summary, nil
}
