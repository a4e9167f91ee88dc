package wiki

import (
	"context"
	"fmt"
	"strings"

	"github.com/constructionrag/ragcore/engine/adapters"
	"github.com/constructionrag/ragcore/engine/wiki/jsonrepair"
)

type structureResponse struct {
	Pages []struct {
		Title       string   `json:"title"`
		Description string   `json:"description"`
		Queries     []string `json:"queries"`
	} `json:"pages"`
}

// isOverviewTitle reports whether title names the wiki's overview page,
// matching either language the pipeline generates content in.
func isOverviewTitle(title string) bool {
	lower := strings.ToLower(title)
	return strings.Contains(lower, "overview") || strings.Contains(lower, "oversigt")
}

// overviewTitle returns the title to give a synthesized overview page in the
// given retrieval language tag.
func overviewTitle(language string) string {
	if language == "danish" {
		return "Oversigt"
	}
	return "Overview"
}

// GenerateStructure asks the chat model to lay out the wiki's table of
// contents from the document summaries and named clusters, parsing its JSON
// response robustly. If the model's page list has no overview page (title
// containing "overview" or "oversigt"), one is synthesized and prepended,
// since every generated wiki must open with one.
func GenerateStructure(ctx context.Context, chat adapters.ChatClient, chatModel string, docs []DocumentSummary, clusters []Cluster, maxPages, queriesPerPage int, language string) ([]PageSpec, error) {
	var docList, clusterList strings.Builder
	for _, d := range docs {
		fmt.Fprintf(&docList, "- %s: sections %s\n", d.Filename, strings.Join(d.Sections, ", "))
	}
	for _, c := range clusters {
		fmt.Fprintf(&clusterList, "- %s\n", c.Name)
	}

	prompt := fmt.Sprintf(`You are designing a wiki's table of contents for a construction project.

Documents and their sections:
%s

Discovered topic clusters:
%s

Produce at most %d wiki pages. Always include exactly one page whose title is
"Overview". For every page, give a short title, a one-sentence description,
and %d search queries that would retrieve the content for that page.

Respond with ONLY a JSON object of this shape, no prose:
{"pages": [{"title": "...", "description": "...", "queries": ["...", "..."]}]}`,
		docList.String(), clusterList.String(), maxPages, queriesPerPage)

	raw, err := chat.Chat(ctx, prompt, adapters.ChatOptions{Model: chatModel, Temperature: 0.2, MaxTokens: 2000, ResponseFormat: "json_object"})
	if err != nil {
		return nil, fmt.Errorf("wiki: structure chat: %w", err)
	}

	var resp structureResponse
	if err := jsonrepair.Extract(raw, &resp); err != nil {
		return nil, fmt.Errorf("wiki: structure response unparseable: %w", err)
	}

	pages := make([]PageSpec, 0, len(resp.Pages))
	hasOverview := false
	for i, p := range resp.Pages {
		if isOverviewTitle(p.Title) {
			hasOverview = true
		}
		pages = append(pages, PageSpec{
			ID: fmt.Sprintf("page-%d", i+1), Title: p.Title, Description: p.Description, Queries: p.Queries,
		})
	}
	if len(pages) > maxPages {
		pages = pages[:maxPages]
	}

	if !hasOverview {
		n := queriesPerPage
		if n > len(overviewQueries) {
			n = len(overviewQueries)
		}
		overview := PageSpec{ID: "page-0", Title: overviewTitle(language), Description: "Project overview", Queries: overviewQueries[:n]}
		pages = append([]PageSpec{overview}, pages...)
		renumber(pages)
	}
	return pages, nil
}

func renumber(pages []PageSpec) {
	for i := range pages {
		pages[i].ID = fmt.Sprintf("page-%d", i)
	}
}
