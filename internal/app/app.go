package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/nsqio/go-nsq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"taxrag/apps/ingestor/features/run"
	"taxrag/apps/ingestor/features/seed"
	"taxrag/apps/ingestor/features/stats"
	"taxrag/apps/ingestor/internal/config"
	"taxrag/apps/ingestor/internal/extract"
	"taxrag/apps/ingestor/internal/middleware"
	"taxrag/apps/ingestor/internal/text"
	"taxrag/apps/ingestor/internal/worker"
)

type App struct {
	Handler  http.Handler
	Pipeline *worker.Pipeline
	Seeder   *seed.Service
	Trigger  *worker.TriggerConsumer
	Registry *prometheus.Registry

	cfg *config.Config
}

func New(cfg *config.Config, deps *Dependencies) (*App, error) {
	tok, err := text.NewTiktoken(cfg.TokenizerEncoding)
	if err != nil {
		return nil, err
	}
	chunker, err := text.NewChunker(tok, cfg.ChunkMaxTokens, cfg.ChunkOverlap)
	if err != nil {
		return nil, err
	}

	fetcher := extract.NewFetcher(cfg.FetchTimeout(), cfg.FetchUserAgent, cfg.FetchMaxBytes)
	router := extract.NewSourceRouter(cfg.IRSBaseURL, cfg.CRABaseURL, fetcher)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := worker.NewMetrics(registry)

	opts := []worker.Option{
		worker.WithConcurrency(cfg.IngestionConcurrency),
		worker.WithMetrics(metrics),
	}

	var runRepo *run.PostgresRepo
	if deps.DB != nil {
		runRepo = run.NewPostgresRepo(deps.DB)
		opts = append(opts, worker.WithRunRecorder(runRepo))
	}
	if cfg.EnableResultEvents && deps.NSQProducer != nil {
		opts = append(opts, worker.WithPublisher(deps.NSQProducer))
	}

	collection := &retryingCollection{
		inner:    deps.Collection,
		attempts: cfg.BootstrapRetryAttempts,
		delay:    cfg.BootstrapRetryDelay(),
	}

	pipeline := worker.NewPipeline(deps.Queue, collection, worker.ItemDeps{
		Router:       router,
		Chunker:      chunker,
		Embedder:     deps.Embedder,
		Store:        deps.VectorStore,
		EmbedTimeout: cfg.EmbedTimeout(),
		VectorSize:   cfg.VectorSize,
	}, opts...)

	crawler := seed.NewCrawler(seed.WithUserAgent(cfg.FetchUserAgent))
	seeder := seed.NewService(crawler, deps.Queue, seed.Filter{
		PathPattern: cfg.SeedPathPattern,
		Exclusions:  cfg.SeedExclude,
		Hosts:       hostsOf(cfg.IRSBaseURL, cfg.CRABaseURL),
	})

	// Routes
	mux := http.NewServeMux()

	var runs stats.RunCounter
	if runRepo != nil {
		runs = runRepo
		runHandler := run.NewHandler(runRepo)
		mux.Handle("GET /runs", middleware.CorrelationID(http.HandlerFunc(runHandler.List)))
	}
	statsHandler := stats.NewHandler(deps.Queue, runs, deps.VectorStore)
	mux.Handle("GET /stats", middleware.CorrelationID(http.HandlerFunc(statsHandler.GetStats)))

	ingest := NewIngestHandler(pipeline, cfg.BatchLimit)
	mux.Handle("POST /ingest/run", middleware.CorrelationID(http.HandlerFunc(ingest.Run)))

	mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	return &App{
		Handler:  mux,
		Pipeline: pipeline,
		Seeder:   seeder,
		Trigger:  worker.NewTriggerConsumer(pipeline, cfg.BatchLimit),
		Registry: registry,
		cfg:      cfg,
	}, nil
}

// SitemapURLs lists the configured sitemaps, skipping unset ones.
func (a *App) SitemapURLs() []string {
	var out []string
	for _, u := range []string{a.cfg.IRSSitemapURL, a.cfg.CRASitemapURL} {
		if u != "" {
			out = append(out, u)
		}
	}
	return out
}

// Run serves HTTP and consumes ingest.trigger until ctx is done.
func (a *App) Run(ctx context.Context) error {
	consumer, err := nsq.NewConsumer(config.TopicIngestTrigger, config.ChannelIngestor, nsq.NewConfig())
	if err != nil {
		return fmt.Errorf("nsq consumer error: %w", err)
	}
	consumer.AddHandler(a.Trigger)
	if err := consumer.ConnectToNSQLookupd(a.cfg.NSQLookupd); err != nil {
		slog.Error("failed to connect to NSQLookupd, trigger consumer disabled", "error", err)
	} else {
		slog.Info("NSQ trigger consumer connected", "topic", config.TopicIngestTrigger)
	}
	defer consumer.Stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.ServerPort),
		Handler:           a.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown failed", "error", err)
		}
	}()

	slog.Info("server starting", "port", a.cfg.ServerPort)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// IngestHandler runs one batch per request.
type IngestHandler struct {
	runner       worker.BatchRunner
	defaultLimit int
}

func NewIngestHandler(r worker.BatchRunner, defaultLimit int) *IngestHandler {
	return &IngestHandler{runner: r, defaultLimit: defaultLimit}
}

// Run processes one batch. Item failures still answer 200; only fatal
// errors are reported as 5xx.
func (h *IngestHandler) Run(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit := h.defaultLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(ctx, w, "INVALID_ARGUMENT", "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	res, err := h.runner.ProcessBatch(ctx, limit)
	if err != nil {
		slog.ErrorContext(ctx, "batch failed", "error", err)
		writeError(ctx, w, "INTERNAL_ERROR", err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": res}); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func writeError(ctx context.Context, w http.ResponseWriter, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
		"correlationId": middleware.GetCorrelationID(ctx),
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}

func hostsOf(baseURLs ...string) []string {
	var hosts []string
	for _, b := range baseURLs {
		u, err := url.Parse(b)
		if err != nil || u.Host == "" {
			continue
		}
		hosts = append(hosts, u.Host)
	}
	return hosts
}
