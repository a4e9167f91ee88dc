package wiki

import (
	"context"
	"fmt"
	"strings"

	"github.com/constructionrag/ragcore/engine/adapters"
	"github.com/constructionrag/ragcore/engine/retrieval"
)

// RenderPage asks the chat model to write the page's prose from its
// retrieved chunks, then appends a citations section listing each source's
// filename and page number. Optionally asks for a Mermaid diagram when the
// page looks like it describes a process or system with more than a couple
// of retrieved sources, since a diagram only helps when there's enough
// material to structure into one.
func RenderPage(ctx context.Context, chat adapters.ChatClient, chatModel string, page PageSpec, results []retrieval.Result, allowDiagram bool) (string, error) {
	var contextParts strings.Builder
	for _, r := range results {
		fmt.Fprintf(&contextParts, "[%s, p.%d]\n%s\n\n", r.SourceFilename, r.PageNumber, r.Content)
	}

	diagramInstruction := ""
	if allowDiagram && len(results) > 2 {
		diagramInstruction = `If the content describes a process, system, or hierarchy, include one
Mermaid diagram (fenced with ` + "```mermaid```" + `) that visualizes it.`
	}

	prompt := fmt.Sprintf(`Write the wiki page "%s" (%s) in markdown using only the context below.
Cite claims inline as [filename, page N]. %s

Context:
%s`, page.Title, page.Description, diagramInstruction, contextParts.String())

	body, err := chat.Chat(ctx, prompt, adapters.ChatOptions{Model: chatModel, Temperature: 0.2, MaxTokens: 2000})
	if err != nil {
		return "", fmt.Errorf("wiki: render page %q: %w", page.Title, err)
	}

	var md strings.Builder
	fmt.Fprintf(&md, "# %s\n\n%s\n", page.Title, body)
	if len(results) > 0 {
		md.WriteString("\n## Sources\n")
		seen := map[string]bool{}
		for _, r := range results {
			key := fmt.Sprintf("%s:%d", r.SourceFilename, r.PageNumber)
			if seen[key] {
				continue
			}
			seen[key] = true
			fmt.Fprintf(&md, "- %s, page %d\n", r.SourceFilename, r.PageNumber)
		}
	}
	return md.String(), nil
}

// pageObjectKey returns the object-store key a page's markdown is persisted
// under: {storagePrefix}/page-{n}.md, which the orchestrator's wiki/{wiki_run_id}
// prefix makes wiki/{wiki_run_id}/page-{n}.md.
func pageObjectKey(storagePrefix string, index int) string {
	return fmt.Sprintf("%s/page-%d.md", storagePrefix, index)
}
