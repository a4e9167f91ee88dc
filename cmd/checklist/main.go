// Command checklist consumes checklist-analysis jobs off NATS and drives the
// Parse+QueryGen -> Batch Retrieve -> Analyze -> Structure pipeline for each
// one.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/constructionrag/ragcore/engine/adapters"
	"github.com/constructionrag/ragcore/engine/checklist"
	"github.com/constructionrag/ragcore/engine/domain"
	"github.com/constructionrag/ragcore/engine/retrieval"
	"github.com/constructionrag/ragcore/pkg/annindex"
	"github.com/constructionrag/ragcore/pkg/metrics"
	"github.com/constructionrag/ragcore/pkg/pgstore"
	"github.com/constructionrag/ragcore/pkg/resilience"
	"github.com/nats-io/nats.go"
)

var met = metrics.New()

var (
	mNatsDisconnects = met.Counter("ragcore_checklist_nats_disconnects_total", "NATS disconnect events")
	mNatsReconnects  = met.Counter("ragcore_checklist_nats_reconnects_total", "NATS reconnect events")
	mPendingJobs     = met.Gauge("ragcore_checklist_pending_jobs", "Undelivered messages queued on the job subscription")
)

// Config holds all environment-based configuration.
type Config struct {
	NatsURL          string
	PostgresDSN      string
	QdrantAddr       string
	QdrantCollection string
	ChatBaseURL      string
	ChatAPIKey       string
	EmbedBaseURL     string
	MetricsPort      int
}

func loadConfig() Config {
	return Config{
		NatsURL:          envOr("NATS_URL", nats.DefaultURL),
		PostgresDSN:      envOr("POSTGRES_DSN", "postgres://localhost:5432/ragcore"),
		QdrantAddr:       envOr("QDRANT_ADDR", "localhost:6334"),
		QdrantCollection: envOr("QDRANT_COLLECTION", "ragcore_chunks"),
		ChatBaseURL:      envOr("CHAT_BASE_URL", ""),
		ChatAPIKey:       envOr("CHAT_API_KEY", ""),
		EmbedBaseURL:     envOr("EMBED_BASE_URL", "http://localhost:11434"),
		MetricsPort:      9094,
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
		logger.Error("checklist worker exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	met.ServeAsync(cfg.MetricsPort)

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

	httpClient := &http.Client{Timeout: 60 * time.Second}
	limiters := resilience.NewServiceLimiters(resilience.LimiterOpts{RatePerSecond: 5, Burst: 10})
	chat := adapters.NewOpenAIChatClient(cfg.ChatAPIKey, cfg.ChatBaseURL, "",
		limiters.For("chat"), resilience.NewBreaker(resilience.DefaultBreakerOpts))
	embedder := adapters.NewHTTPEmbeddingClient(cfg.EmbedBaseURL, httpClient,
		limiters.For("embedding"), resilience.NewBreaker(resilience.DefaultBreakerOpts))

	core := retrieval.New(embedder, index, store, domain.DefaultConfig().Query.Retrieval)

	deps := checklist.Deps{Chat: chat, Core: core, Stages: store}
	orch := checklist.NewOrchestrator(deps)

	nc, err := nats.Connect(cfg.NatsURL,
		nats.DisconnectErrHandler(func(*nats.Conn, error) { mNatsDisconnects.Inc() }),
		nats.ReconnectHandler(func(*nats.Conn) { mNatsReconnects.Inc() }),
	)
	if err != nil {
		return fmt.Errorf("nats connect: %w", err)
	}
	defer nc.Drain()

	sub, err := checklist.StartConsumer(nc, orch, logger)
	if err != nil {
		return fmt.Errorf("start consumer: %w", err)
	}
	defer sub.Unsubscribe()

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	logger.Info("checklist worker started", "subject", checklist.JobSubject)
	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			return nil
		case <-ticker.C:
			if n, _, err := sub.Pending(); err == nil {
				mPendingJobs.Set(int64(n))
			}
		}
	}
}
