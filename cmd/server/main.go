// Package main implements the ragcore HTTP surface: health and metrics
// endpoints, run-trigger endpoints that create a run and hand it to the
// matching NATS worker, and a webhook relay that turns worker completion
// events into outbound HTTP callbacks.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/constructionrag/ragcore/engine/adapters"
	"github.com/constructionrag/ragcore/engine/answer"
	"github.com/constructionrag/ragcore/engine/checklist"
	"github.com/constructionrag/ragcore/engine/domain"
	"github.com/constructionrag/ragcore/engine/indexing"
	"github.com/constructionrag/ragcore/engine/retrieval"
	"github.com/constructionrag/ragcore/engine/wiki"
	"github.com/constructionrag/ragcore/pkg/annindex"
	"github.com/constructionrag/ragcore/pkg/docgraph"
	"github.com/constructionrag/ragcore/pkg/metrics"
	"github.com/constructionrag/ragcore/pkg/mid"
	"github.com/constructionrag/ragcore/pkg/pgstore"
	"github.com/constructionrag/ragcore/pkg/resilience"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

var met = metrics.New()

var (
	mRunsCreated     = func(kind string) *metrics.Counter { return met.Counter(metrics.WithLabels("ragcore_server_runs_created_total", "kind", kind), "Runs created via the trigger API") }
	mWebhooksSent    = met.Counter("ragcore_server_webhooks_sent_total", "Completion webhooks successfully delivered")
	mWebhooksFailed  = met.Counter("ragcore_server_webhooks_failed_total", "Completion webhooks that failed delivery")
)

// Config holds all environment-based configuration.
type Config struct {
	Port             string
	NatsURL          string
	PostgresDSN      string
	QdrantAddr       string
	QdrantCollection string
	Neo4jURL         string
	Neo4jUser        string
	Neo4jPass        string
	ChatBaseURL      string
	ChatAPIKey       string
	ChatModel        string
	EmbedBaseURL     string
	EmbedModel       string
	CORSOrigin       string
	WebhookURL       string
}

func loadConfig() Config {
	return Config{
		Port:             envOr("PORT", "8080"),
		NatsURL:          envOr("NATS_URL", nats.DefaultURL),
		PostgresDSN:      envOr("POSTGRES_DSN", "postgres://localhost:5432/ragcore"),
		QdrantAddr:       envOr("QDRANT_ADDR", "localhost:6334"),
		QdrantCollection: envOr("QDRANT_COLLECTION", "ragcore_chunks"),
		Neo4jURL:         envOr("NEO4J_URL", "neo4j://localhost:7687"),
		Neo4jUser:        envOr("NEO4J_USER", "neo4j"),
		Neo4jPass:        envOr("NEO4J_PASS", "password"),
		ChatBaseURL:      envOr("CHAT_BASE_URL", ""),
		ChatAPIKey:       envOr("CHAT_API_KEY", ""),
		ChatModel:        envOr("CHAT_MODEL", "gpt-4o-mini"),
		EmbedBaseURL:     envOr("EMBED_BASE_URL", "http://localhost:11434"),
		EmbedModel:       envOr("EMBED_MODEL", "nomic-embed-text"),
		CORSOrigin:       envOr("CORS_ORIGIN", "*"),
		WebhookURL:       envOr("WEBHOOK_URL", ""),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg := loadConfig()

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := pgstore.Open(ctx, cfg.PostgresDSN, 10)
	if err != nil {
		return fmt.Errorf("pgstore open: %w", err)
	}
	defer store.Close()

	index, err := annindex.New(cfg.QdrantAddr, cfg.QdrantCollection)
	if err != nil {
		return fmt.Errorf("annindex connect: %w", err)
	}
	defer index.Close()

	neo4jDriver, err := neo4j.NewDriverWithContext(cfg.Neo4jURL, neo4j.BasicAuth(cfg.Neo4jUser, cfg.Neo4jPass, ""))
	if err != nil {
		return fmt.Errorf("neo4j driver: %w", err)
	}
	defer neo4jDriver.Close(ctx)
	graph := docgraph.New(neo4jDriver)

	httpClient := &http.Client{Timeout: 60 * time.Second}
	limiters := resilience.NewServiceLimiters(resilience.LimiterOpts{RatePerSecond: 5, Burst: 10})
	chat := adapters.NewOpenAIChatClient(cfg.ChatAPIKey, cfg.ChatBaseURL, cfg.ChatModel,
		limiters.For("chat"), resilience.NewBreaker(resilience.DefaultBreakerOpts))
	embedder := adapters.NewHTTPEmbeddingClient(cfg.EmbedBaseURL, httpClient,
		limiters.For("embedding"), resilience.NewBreaker(resilience.DefaultBreakerOpts))

	core := retrieval.New(embedder, index, store, domain.DefaultConfig().Query.Retrieval)
	answerSvc := answer.New(chat, core, graph, answer.DefaultOptions(), logger)

	nc, err := nats.Connect(cfg.NatsURL)
	if err != nil {
		return fmt.Errorf("nats connect: %w", err)
	}
	defer nc.Drain()

	relay := newWebhookRelay(cfg.WebhookURL, httpClient, logger)
	for _, subject := range []string{indexing.CompletionSubject, wiki.CompletionSubject, checklist.CompletionSubject} {
		sub, err := nc.Subscribe(subject, relay.handle)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", subject, err)
		}
		defer sub.Unsubscribe()
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      buildHandler(cfg, store, nc, answerSvc, cfg.EmbedModel, cfg.ChatModel, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", "port", cfg.Port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}

func buildHandler(cfg Config, store *pgstore.DataStore, nc *nats.Conn, answerSvc *answer.Service, embedModel, chatModel string, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", handleHealth)
	mux.Handle("GET /api/metrics", met.Handler())
	mux.HandleFunc("POST /api/chat", handleChat(answerSvc, logger))
	mux.HandleFunc("POST /api/v1/runs", handleCreateRun(store, nc, logger))
	mux.HandleFunc("GET /api/v1/runs/{id}", handleGetRun(store, logger))
	mux.HandleFunc("POST /api/v1/runs/{id}/wiki", handleTriggerWiki(store, nc, embedModel, chatModel, logger))
	mux.HandleFunc("POST /api/v1/runs/{id}/checklist", handleTriggerChecklist(store, nc, embedModel, chatModel, logger))

	return mid.Chain(mux,
		mid.Recover(logger),
		mid.Logger(logger),
		mid.CORS(cfg.CORSOrigin),
		mid.OTel("ragcore-server"),
	)
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// ChatRequest is the JSON body for POST /api/chat.
type ChatRequest struct {
	Question    string   `json:"question"`
	RunID       string   `json:"run_id"`
	DocumentIDs []string `json:"document_ids,omitempty"`
}

func handleChat(svc *answer.Service, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
			return
		}
		if req.Question == "" || req.RunID == "" {
			http.Error(w, `{"error":"question and run_id are required"}`, http.StatusBadRequest)
			return
		}

		ans, err := svc.Query(r.Context(), req.Question, req.RunID, req.DocumentIDs)
		if err != nil {
			logger.Error("answer query failed", "err", err)
			http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(ans)
	}
}

// CreateRunRequest is the JSON body for POST /api/v1/runs.
type CreateRunRequest struct {
	OwnerUserID string                    `json:"owner_user_id,omitempty"`
	ProjectRef  string                    `json:"project_ref,omitempty"`
	Documents   []indexing.DocumentDescriptor `json:"documents"`
}

func handleCreateRun(store *pgstore.DataStore, nc *nats.Conn, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateRunRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
			return
		}
		if len(req.Documents) == 0 {
			http.Error(w, `{"error":"at least one document is required"}`, http.StatusBadRequest)
			return
		}

		run := domain.IndexingRun{
			ID:             uuid.NewString(),
			OwnerUserID:    req.OwnerUserID,
			ProjectRef:     req.ProjectRef,
			Status:         domain.StatusPending,
			ConfigSnapshot: domain.DefaultConfig(),
			StartedAt:      time.Now().UTC(),
		}
		if err := store.CreateIndexingRun(r.Context(), run); err != nil {
			logger.Error("create indexing run failed", "err", err)
			http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
			return
		}

		job := indexing.Job{Run: run, Docs: req.Documents}
		data, _ := json.Marshal(job)
		if err := nc.Publish(indexing.JobSubject, data); err != nil {
			logger.Error("publish indexing job failed", "err", err)
			http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
			return
		}
		mRunsCreated("indexing").Inc()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]string{"run_id": run.ID, "status": string(run.Status)})
	}
}

func handleGetRun(store *pgstore.DataStore, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		run, err := store.GetIndexingRun(r.Context(), id)
		if err != nil {
			if domain.KindOf(err) == domain.KindNotFound {
				http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
				return
			}
			logger.Error("get indexing run failed", "err", err)
			http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(run)
	}
}

// TriggerWikiRequest is the JSON body for POST /api/v1/runs/{id}/wiki.
type TriggerWikiRequest struct {
	Language string `json:"language,omitempty"`
}

func handleTriggerWiki(store *pgstore.DataStore, nc *nats.Conn, embedModel, chatModel string, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		indexingRunID := r.PathValue("id")
		parent, err := store.GetIndexingRun(r.Context(), indexingRunID)
		if err != nil {
			http.Error(w, `{"error":"parent run not found"}`, http.StatusNotFound)
			return
		}
		if !parent.Status.Completed() {
			http.Error(w, `{"error":"parent run has not completed"}`, http.StatusConflict)
			return
		}

		var req TriggerWikiRequest
		json.NewDecoder(r.Body).Decode(&req)
		language := req.Language
		if language == "" {
			language = domain.DefaultConfig().Defaults.Language
		}

		wikiRun := domain.WikiRun{ID: uuid.NewString(), IndexingRunID: indexingRunID, Status: domain.StatusPending, StartedAt: time.Now().UTC()}
		job := wiki.Job{Run: wikiRun, Language: language, EmbedModel: embedModel, ChatModel: chatModel}
		data, _ := json.Marshal(job)
		if err := nc.Publish(wiki.JobSubject, data); err != nil {
			logger.Error("publish wiki job failed", "err", err)
			http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
			return
		}
		mRunsCreated("wiki").Inc()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]string{"wiki_run_id": wikiRun.ID, "status": string(wikiRun.Status)})
	}
}

// TriggerChecklistRequest is the JSON body for POST /api/v1/runs/{id}/checklist.
type TriggerChecklistRequest struct {
	ChecklistContent string `json:"checklist_content"`
	Language         string `json:"language,omitempty"`
}

func handleTriggerChecklist(store *pgstore.DataStore, nc *nats.Conn, embedModel, chatModel string, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		indexingRunID := r.PathValue("id")
		parent, err := store.GetIndexingRun(r.Context(), indexingRunID)
		if err != nil {
			http.Error(w, `{"error":"parent run not found"}`, http.StatusNotFound)
			return
		}
		if !parent.Status.Completed() {
			http.Error(w, `{"error":"parent run has not completed"}`, http.StatusConflict)
			return
		}

		var req TriggerChecklistRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ChecklistContent == "" {
			http.Error(w, `{"error":"checklist_content is required"}`, http.StatusBadRequest)
			return
		}
		language := req.Language
		if language == "" {
			language = domain.DefaultConfig().Defaults.Language
		}

		clRun := domain.ChecklistRun{ID: uuid.NewString(), IndexingRunID: indexingRunID, ChecklistContent: req.ChecklistContent, Status: domain.StatusPending}
		job := checklist.Job{Run: clRun, Language: language, EmbedModel: embedModel, ChatModel: chatModel}
		data, _ := json.Marshal(job)
		if err := nc.Publish(checklist.JobSubject, data); err != nil {
			logger.Error("publish checklist job failed", "err", err)
			http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
			return
		}
		mRunsCreated("checklist").Inc()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]string{"checklist_run_id": clRun.ID, "status": string(clRun.Status)})
	}
}

// webhookRelay forwards NATS completion events to an operator-configured
// HTTP endpoint, the "completion webhooks" half of the job dispatch model.
type webhookRelay struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

func newWebhookRelay(url string, client *http.Client, logger *slog.Logger) *webhookRelay {
	return &webhookRelay{url: url, client: client, logger: logger}
}

func (r *webhookRelay) handle(msg *nats.Msg) {
	if r.url == "" {
		return
	}
	req, err := http.NewRequest(http.MethodPost, r.url, bytes.NewReader(msg.Data))
	if err != nil {
		mWebhooksFailed.Inc()
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Ragcore-Subject", msg.Subject)

	resp, err := r.client.Do(req)
	if err != nil {
		mWebhooksFailed.Inc()
		r.logger.Warn("webhook delivery failed", "subject", msg.Subject, "err", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		mWebhooksFailed.Inc()
		r.logger.Warn("webhook delivery rejected", "subject", msg.Subject, "status", resp.StatusCode)
		return
	}
	mWebhooksSent.Inc()
}
