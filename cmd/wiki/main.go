// Command wiki consumes wiki-generation jobs off NATS and drives the
// Metadata Collect -> Overview -> Clustering -> Structure -> Page Retrieval
// -> Markdown pipeline for each one.
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
	"github.com/constructionrag/ragcore/engine/domain"
	"github.com/constructionrag/ragcore/engine/retrieval"
	"github.com/constructionrag/ragcore/engine/wiki"
	"github.com/constructionrag/ragcore/pkg/annindex"
	"github.com/constructionrag/ragcore/pkg/metrics"
	"github.com/constructionrag/ragcore/pkg/objectstore"
	"github.com/constructionrag/ragcore/pkg/pgstore"
	"github.com/constructionrag/ragcore/pkg/resilience"
	"github.com/nats-io/nats.go"
)

var met = metrics.New()

var (
	mNatsDisconnects = met.Counter("ragcore_wiki_nats_disconnects_total", "NATS disconnect events")
	mNatsReconnects  = met.Counter("ragcore_wiki_nats_reconnects_total", "NATS reconnect events")
	mPendingJobs     = met.Gauge("ragcore_wiki_pending_jobs", "Undelivered messages queued on the job subscription")
)

// Config holds all environment-based configuration.
type Config struct {
	NatsURL          string
	PostgresDSN      string
	QdrantAddr       string
	QdrantCollection string
	MinioEndpoint    string
	MinioAccessKey   string
	MinioSecretKey   string
	MinioUseSSL      bool
	MinioBucket      string
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
		MinioEndpoint:    envOr("MINIO_ENDPOINT", "localhost:9000"),
		MinioAccessKey:   envOr("MINIO_ACCESS_KEY", "minioadmin"),
		MinioSecretKey:   envOr("MINIO_SECRET_KEY", "minioadmin"),
		MinioUseSSL:      envOr("MINIO_USE_SSL", "") == "true",
		MinioBucket:      envOr("MINIO_BUCKET", "ragcore-documents"),
		ChatBaseURL:      envOr("CHAT_BASE_URL", ""),
		ChatAPIKey:       envOr("CHAT_API_KEY", ""),
		EmbedBaseURL:     envOr("EMBED_BASE_URL", "http://localhost:11434"),
		MetricsPort:      9093,
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
		logger.Error("wiki worker exited with error", "err", err)
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

	objects, err := objectstore.Open(ctx, objectstore.Config{
		Endpoint: cfg.MinioEndpoint, AccessKey: cfg.MinioAccessKey, SecretKey: cfg.MinioSecretKey,
		UseSSL: cfg.MinioUseSSL, Bucket: cfg.MinioBucket,
	})
	if err != nil {
		return fmt.Errorf("objectstore open: %w", err)
	}

	httpClient := &http.Client{Timeout: 60 * time.Second}
	limiters := resilience.NewServiceLimiters(resilience.LimiterOpts{RatePerSecond: 5, Burst: 10})
	chat := adapters.NewOpenAIChatClient(cfg.ChatAPIKey, cfg.ChatBaseURL, "",
		limiters.For("chat"), resilience.NewBreaker(resilience.DefaultBreakerOpts))
	embedder := adapters.NewHTTPEmbeddingClient(cfg.EmbedBaseURL, httpClient,
		limiters.For("embedding"), resilience.NewBreaker(resilience.DefaultBreakerOpts))

	core := retrieval.New(embedder, index, store, domain.DefaultConfig().Query.Retrieval)

	deps := wiki.Deps{
		Chunks:  store,
		Core:    core,
		Chat:    chat,
		Objects: objects,
		Stages:  store,
	}
	orch := wiki.NewOrchestrator(deps, domain.DefaultConfig().Wiki)

	nc, err := nats.Connect(cfg.NatsURL,
		nats.DisconnectErrHandler(func(*nats.Conn, error) { mNatsDisconnects.Inc() }),
		nats.ReconnectHandler(func(*nats.Conn) { mNatsReconnects.Inc() }),
	)
	if err != nil {
		return fmt.Errorf("nats connect: %w", err)
	}
	defer nc.Drain()

	sub, err := wiki.StartConsumer(nc, orch, logger)
	if err != nil {
		return fmt.Errorf("start consumer: %w", err)
	}
	defer sub.Unsubscribe()

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	logger.Info("wiki worker started", "subject", wiki.JobSubject)
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
