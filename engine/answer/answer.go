// Package answer is the answer-synthesis service: it accepts a user
// question scoped to one indexing run, retrieves supporting chunks through
// the Retrieval Core, optionally enriches with the structural document
// graph, and calls the chat model for a cited answer.
//
// Adapted directly from the teacher's engine/rag.Service: the
// embed->search->(graph context)->chat flow is kept in shape, with the
// Qdrant-direct search replaced by engine/retrieval.Core and the automotive
// graph enrichment replaced by pkg/docgraph's section correlation, and the
// removed mlpb gRPC clients replaced by the plain adapters.ChatClient
// interface.
package answer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/constructionrag/ragcore/engine/adapters"
	"github.com/constructionrag/ragcore/engine/retrieval"
	"github.com/constructionrag/ragcore/pkg/docgraph"
)

// Options configures the answer-synthesis service's behaviour.
type Options struct {
	Temperature   float32
	MaxTokens     int
	ChatModel     string
	EmbedModel    string
	Language      string
	SystemPrompt  string
	UseGraph      bool
	SearchTimeout time.Duration
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		Temperature:   0.2,
		MaxTokens:     1024,
		Language:      "danish",
		SystemPrompt:  defaultSystemPrompt,
		UseGraph:      true,
		SearchTimeout: 10 * time.Second,
	}
}

const defaultSystemPrompt = `You are a construction compliance assistant. Answer the user's question
using ONLY the provided context. If the context does not contain enough
information, say so plainly. Cite sources as [filename, page N].`

// Service is the answer-synthesis service.
type Service struct {
	chat   adapters.ChatClient
	core   *retrieval.Core
	graph  *docgraph.Graph
	opts   Options
	logger *slog.Logger
}

// New builds an answer-synthesis Service.
func New(chat adapters.ChatClient, core *retrieval.Core, graph *docgraph.Graph, opts Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{chat: chat, core: core, graph: graph, opts: opts, logger: logger}
}

// Answer is the structured response from the answer-synthesis pipeline.
type Answer struct {
	Text    string
	Sources []Source
}

// Source is one citation backing an Answer.
type Source struct {
	ChunkID  string
	Content  string
	Filename string
	Page     int
	Score    float64
}

// Query runs the full answer-synthesis pipeline for a question scoped to
// one indexing run, optionally narrowed to a document subset.
func (s *Service) Query(ctx context.Context, question, runID string, documentIDs []string) (*Answer, error) {
	s.logger.Info("answer query start", "run_id", runID, "question_len", len(question))

	searchCtx, cancel := context.WithTimeout(ctx, s.opts.SearchTimeout)
	defer cancel()

	results, err := s.core.Query(searchCtx, question, runID, documentIDs, s.opts.Language, s.opts.EmbedModel)
	if err != nil {
		return nil, fmt.Errorf("answer: retrieval: %w", err)
	}
	s.logger.Info("answer retrieval done", "results", len(results))

	var graphContext string
	if s.opts.UseGraph && s.graph != nil && len(documentIDs) == 1 {
		graphContext = s.enrichWithGraph(ctx, documentIDs[0])
	}

	contextParts := buildContextParts(results, graphContext)
	prompt := buildPrompt(s.opts.SystemPrompt, question, contextParts)

	reply, err := s.chat.Chat(ctx, prompt, adapters.ChatOptions{
		Model: s.opts.ChatModel, Temperature: s.opts.Temperature, MaxTokens: s.opts.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("answer: chat: %w", err)
	}

	sources := make([]Source, len(results))
	for i, r := range results {
		sources[i] = Source{ChunkID: r.ChunkID, Content: r.Content, Filename: r.SourceFilename, Page: r.PageNumber, Score: r.Score}
	}
	return &Answer{Text: reply, Sources: sources}, nil
}

// enrichWithGraph looks up the sections a document belongs to and notes
// which other documents in the corpus share one, giving the chat model
// cross-document context it cannot get from retrieval alone.
func (s *Service) enrichWithGraph(ctx context.Context, documentID string) string {
	sections, err := s.graph.SectionsForDocument(ctx, documentID)
	if err != nil {
		s.logger.Warn("answer: graph enrichment failed, continuing without", "err", err)
		return ""
	}
	if len(sections) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("Related sections in this document:\n")
	for _, sec := range sections {
		related, err := s.graph.DocumentsSharingSection(ctx, sec.Title, documentID)
		if err != nil || len(related) == 0 {
			continue
		}
		fmt.Fprintf(&b, "- %q also appears in %d other document(s)\n", sec.Title, len(related))
	}
	return b.String()
}

func buildContextParts(results []retrieval.Result, graphContext string) []string {
	parts := make([]string, 0, len(results)+1)
	for _, r := range results {
		parts = append(parts, fmt.Sprintf("[%s, page %d] (score: %.3f)\n%s", r.SourceFilename, r.PageNumber, r.Score, r.Content))
	}
	if graphContext != "" {
		parts = append(parts, graphContext)
	}
	return parts
}

func buildPrompt(systemPrompt, question string, contextParts []string) string {
	return fmt.Sprintf("%s\n\nQuestion: %s\n\nContext:\n%s", systemPrompt, question, strings.Join(contextParts, "\n\n"))
}
