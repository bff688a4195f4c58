package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/nsqio/go-nsq"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"

	"taxrag/apps/ingestor/features/workitem"
	badgerstore "taxrag/apps/ingestor/internal/adapter/badger"
	fsstore "taxrag/apps/ingestor/internal/adapter/firestore"
	"taxrag/apps/ingestor/internal/adapter/gemini"
	"taxrag/apps/ingestor/internal/adapter/openai"
	wstore "taxrag/apps/ingestor/internal/adapter/weaviate"
	"taxrag/apps/ingestor/internal/config"
	"taxrag/apps/ingestor/internal/vector"
	"taxrag/apps/ingestor/internal/worker"
)

var ErrUnknownProvider = errors.New("unknown embedding provider")

type Dependencies struct {
	// DB is set only for the postgres backend.
	DB          *sql.DB
	Queue       worker.Queue
	Weaviate    *weaviate.Client
	VectorStore *wstore.Store
	Collection  *vector.Collection
	Embedder    worker.Embedder
	// NSQProducer is nil unless result events are enabled.
	NSQProducer *nsq.Producer

	closers []func() error
}

// Close releases everything Bootstrap opened, last opened first.
func (d *Dependencies) Close() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func Bootstrap(ctx context.Context, cfg *config.Config) (*Dependencies, error) {
	deps := &Dependencies{}

	queue, db, closeQueue, err := OpenQueue(ctx, cfg)
	if err != nil {
		return nil, err
	}
	deps.Queue = queue
	deps.DB = db
	deps.closers = append(deps.closers, closeQueue)

	// Weaviate
	wCfg := weaviate.Config{Host: cfg.WeaviateHost, Scheme: cfg.WeaviateScheme}
	wClient, err := weaviate.NewClient(wCfg)
	if err != nil {
		_ = deps.Close()
		return nil, fmt.Errorf("weaviate client error: %w", err)
	}
	deps.Weaviate = wClient
	deps.VectorStore = wstore.NewStore(wClient, cfg.CollectionName)
	deps.Collection = vector.NewCollection(vector.NewWeaviateSchema(wClient), vector.CollectionSpec{
		Name:       cfg.CollectionName,
		VectorSize: cfg.VectorSize,
		Distance:   cfg.DistanceMetric,
	})

	embedder, closeEmbedder, err := NewEmbedder(ctx, cfg)
	if err != nil {
		_ = deps.Close()
		return nil, err
	}
	deps.Embedder = embedder
	deps.closers = append(deps.closers, closeEmbedder)

	if cfg.EnableResultEvents {
		producer, err := nsq.NewProducer(cfg.NSQDHost, nsq.NewConfig())
		if err != nil {
			_ = deps.Close()
			return nil, fmt.Errorf("nsq producer error: %w", err)
		}
		deps.NSQProducer = producer
		deps.closers = append(deps.closers, func() error {
			producer.Stop()
			return nil
		})
		createTopics(cfg.NSQDHTTP)
	}

	return deps, nil
}

// OpenQueue opens the Status Store selected by STATUS_STORE_BACKEND. The
// returned *sql.DB is nil for non-postgres backends.
func OpenQueue(ctx context.Context, cfg *config.Config) (worker.Queue, *sql.DB, func() error, error) {
	names := StatusNames(cfg)

	switch cfg.StatusStoreBackend {
	case config.BackendPostgres:
		db, err := OpenPostgres(ctx, cfg)
		if err != nil {
			return nil, nil, nil, err
		}
		repo, err := workitem.NewPostgresRepo(db, cfg.StatusTable, names, cfg.ClaimLease())
		if err != nil {
			db.Close()
			return nil, nil, nil, err
		}
		return repo, db, db.Close, nil

	case config.BackendFirestore:
		client, err := fsstore.NewClient(ctx, cfg.FirestoreProjectID)
		if err != nil {
			return nil, nil, nil, err
		}
		store := fsstore.NewStore(client, cfg.StatusTable, names, cfg.ClaimLease())
		return store, nil, store.Close, nil

	case config.BackendBadger:
		db, err := badgerstore.Open(cfg.BadgerPath)
		if err != nil {
			return nil, nil, nil, err
		}
		return badgerstore.NewStore(db, cfg.StatusTable, names, cfg.ClaimLease()), nil, db.Close, nil
	}
	return nil, nil, nil, fmt.Errorf("%w: STATUS_STORE_BACKEND=%q", config.ErrInvalidValue, cfg.StatusStoreBackend)
}

// OpenPostgres connects with retry and applies migrations.
func OpenPostgres(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}

	retryDelay := cfg.BootstrapRetryDelay()
	for i := 0; i < cfg.BootstrapRetryAttempts; i++ {
		if err := db.PingContext(ctx); err == nil {
			break
		}
		slog.Warn("failed to ping db, retrying...", "attempt", i+1)
		time.Sleep(retryDelay)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("migration driver error: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance(cfg.MigrationPath, "postgres", driver)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("migration instance error: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		db.Close()
		return nil, fmt.Errorf("migration up error: %w", err)
	}
	return db, nil
}

// NewEmbedder builds the client for EMBEDDING_PROVIDER.
func NewEmbedder(ctx context.Context, cfg *config.Config) (worker.Embedder, func() error, error) {
	noop := func() error { return nil }

	switch cfg.EmbeddingProvider {
	case config.ProviderGemini:
		e, err := gemini.NewEmbedder(ctx, cfg.GeminiAPIKey, cfg.EmbeddingModel)
		if err != nil {
			return nil, nil, fmt.Errorf("gemini embedder error: %w", err)
		}
		return e, e.Close, nil
	case config.ProviderOpenAI:
		e, err := openai.NewEmbedder(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.EmbeddingModel)
		if err != nil {
			return nil, nil, fmt.Errorf("openai embedder error: %w", err)
		}
		return e, noop, nil
	}
	return nil, nil, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.EmbeddingProvider)
}

func StatusNames(cfg *config.Config) worker.StatusNames {
	return worker.StatusNames{
		Pending:   cfg.StatusPending,
		Processed: cfg.StatusProcessed,
		Error:     cfg.StatusError,
	}
}

func createTopics(nsqdHTTP string) {
	create := func(topic string) {
		url := fmt.Sprintf("http://%s/topic/create?topic=%s", nsqdHTTP, topic)
		resp, err := http.Post(url, "application/json", nil) // #nosec G107 -- URL is built from internal NSQ config, not user input
		if err != nil {
			slog.Warn("failed to create NSQ topic", "topic", topic, "error", err)
			return
		}
		if closeErr := resp.Body.Close(); closeErr != nil {
			slog.Warn("failed to close NSQ topic creation response body", "error", closeErr)
		}
	}

	go func() {
		time.Sleep(2 * time.Second)
		create(config.TopicIngestTrigger)
		create(config.TopicIngestResult)
	}()
}

// EnsureCollectionWithRetry retries bootstrap while the vector store warms up.
func EnsureCollectionWithRetry(ctx context.Context, c worker.CollectionEnsurer, attempts int, delay time.Duration) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		if err = c.EnsureCollection(ctx); err == nil {
			return nil
		}
		slog.WarnContext(ctx, "failed to ensure collection, retrying...", "attempt", i+1, "error", err)
		if i < attempts-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	return err
}

// retryingCollection gives the pipeline a bootstrap that survives a cold
// vector store.
type retryingCollection struct {
	inner    worker.CollectionEnsurer
	attempts int
	delay    time.Duration
}

func (r *retryingCollection) EnsureCollection(ctx context.Context) error {
	return EnsureCollectionWithRetry(ctx, r.inner, r.attempts, r.delay)
}
