package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

var (
	ErrMissingRequired = errors.New("missing required configuration")
	ErrInvalidChunking = errors.New("invalid chunking configuration")
	ErrInvalidValue    = errors.New("invalid configuration value")
)

const (
	BackendPostgres  = "postgres"
	BackendFirestore = "firestore"
	BackendBadger    = "badger"

	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

var (
	sqlIdentifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	// Weaviate capitalises the first letter of every class name.
	className = regexp.MustCompile(`^[A-Z][_0-9A-Za-z]*$`)
)

var validDistances = map[string]bool{
	"cosine":     true,
	"dot":        true,
	"l2-squared": true,
	"hamming":    true,
	"manhattan":  true,
}

type Config struct {
	// Status store
	StatusStoreBackend string `envconfig:"STATUS_STORE_BACKEND" default:"postgres"`
	StatusTable        string `envconfig:"STATUS_TABLE" default:"work_items"` // postgres: must exist with the work_items layout
	StatusPending      string `envconfig:"STATUS_PENDING" default:"pending"`
	StatusProcessed    string `envconfig:"STATUS_PROCESSED" default:"processed"`
	StatusError        string `envconfig:"STATUS_ERROR" default:"error"`
	ClaimLeaseSeconds  int    `envconfig:"CLAIM_LEASE_SECONDS" default:"900"`

	DBHost string `envconfig:"DB_HOST" default:"postgres"`
	DBPort int    `envconfig:"DB_PORT" default:"5432"`
	DBUser string `envconfig:"DB_USER" default:"ingestor"`
	DBPass string `envconfig:"DB_PASS" default:"password"`
	DBName string `envconfig:"DB_NAME" default:"ingestor"`

	FirestoreProjectID string `envconfig:"FIRESTORE_PROJECT_ID"`
	BadgerPath         string `envconfig:"BADGER_PATH" default:"./data/queue"`

	// Vector store
	WeaviateHost   string `envconfig:"WEAVIATE_HOST" default:"localhost:8080"`
	WeaviateScheme string `envconfig:"WEAVIATE_SCHEME" default:"http"`
	CollectionName string `envconfig:"COLLECTION_NAME" default:"TaxKnowledgeBase"`
	VectorSize     int    `envconfig:"VECTOR_SIZE" default:"3072"`
	DistanceMetric string `envconfig:"DISTANCE_METRIC" default:"cosine"`

	// Embedding
	EmbeddingProvider   string `envconfig:"EMBEDDING_PROVIDER" default:"gemini"`
	EmbeddingModel      string `envconfig:"EMBEDDING_MODEL"` // provider default when empty
	GeminiAPIKey        string `envconfig:"GEMINI_API_KEY"`
	OpenAIAPIKey        string `envconfig:"OPENAI_API_KEY"`
	OpenAIBaseURL       string `envconfig:"OPENAI_BASE_URL" default:"https://api.openai.com/v1"`
	EmbedTimeoutSeconds int    `envconfig:"EMBED_TIMEOUT_SECONDS" default:"30"`

	// Chunking
	ChunkMaxTokens    int    `envconfig:"CHUNK_MAX_TOKENS" default:"500"`
	ChunkOverlap      int    `envconfig:"CHUNK_OVERLAP" default:"50"`
	TokenizerEncoding string `envconfig:"TOKENIZER_ENCODING" default:"cl100k_base"`

	// Sources
	IRSBaseURL      string   `envconfig:"IRS_BASE_URL" default:"https://www.irs.gov"`
	IRSSitemapURL   string   `envconfig:"IRS_SITEMAP_URL" default:"https://www.irs.gov/sitemap.xml"`
	CRABaseURL      string   `envconfig:"CRA_BASE_URL" default:"https://www.canada.ca"`
	CRASitemapURL   string   `envconfig:"CRA_SITEMAP_URL"`
	SeedPathPattern string   `envconfig:"SEED_PATH_PATTERN" default:"/taxtopics/"`
	SeedExclude     []string `envconfig:"SEED_EXCLUDE" default:"/es/,/zh-hans/,/zh-hant/,/ko/,/ru/,/vi/,/ht/,/fr/"`

	FetchTimeoutSeconds int    `envconfig:"FETCH_TIMEOUT_SECONDS" default:"10"`
	FetchUserAgent      string `envconfig:"FETCH_USER_AGENT" default:"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"`
	FetchMaxBytes       int64  `envconfig:"FETCH_MAX_BYTES" default:"5242880"` // 5MB

	// Pipeline
	BatchLimit           int  `envconfig:"BATCH_LIMIT" default:"5"`
	IngestionConcurrency int  `envconfig:"INGESTION_CONCURRENCY" default:"1"`
	EnableResultEvents   bool `envconfig:"ENABLE_RESULT_EVENTS" default:"false"`

	NSQLookupd string `envconfig:"NSQ_LOOKUPD" default:"nsqlookupd:4161"`
	NSQDHost   string `envconfig:"NSQD_HOST" default:"nsqd:4150"`
	NSQDHTTP   string `envconfig:"NSQD_HTTP" default:"nsqd:4151"`

	// Server
	ServerPort    int    `envconfig:"SERVER_PORT" default:"8081"`
	LogLevel      string `envconfig:"LOG_LEVEL" default:"info"`
	MigrationPath string `envconfig:"MIGRATION_PATH" default:"file://migrations"`

	// Resilience
	BootstrapRetryAttempts     int `envconfig:"BOOTSTRAP_RETRY_ATTEMPTS" default:"10"`
	BootstrapRetryDelaySeconds int `envconfig:"BOOTSTRAP_RETRY_DELAY_SECONDS" default:"2"`
}

func Load() (*Config, error) {
	// Ignore errors, as env vars might be set in the shell
	_ = godotenv.Load(".env")

	cwd, _ := os.Getwd()
	rootEnv := filepath.Join(cwd, "../../.env")
	_ = godotenv.Load(rootEnv)

	var cfg Config
	err := envconfig.Process("", &cfg)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if err := ValidateChunking(c.ChunkMaxTokens, c.ChunkOverlap); err != nil {
		return err
	}
	if c.TokenizerEncoding == "" {
		return fmt.Errorf("%w: TOKENIZER_ENCODING", ErrMissingRequired)
	}

	switch c.StatusStoreBackend {
	case BackendPostgres:
		if c.DBHost == "" {
			return fmt.Errorf("%w: DB_HOST", ErrMissingRequired)
		}
		if c.DBUser == "" {
			return fmt.Errorf("%w: DB_USER", ErrMissingRequired)
		}
		if c.DBName == "" {
			return fmt.Errorf("%w: DB_NAME", ErrMissingRequired)
		}
		if !sqlIdentifier.MatchString(c.StatusTable) {
			return fmt.Errorf("%w: STATUS_TABLE=%q is not a valid table name", ErrInvalidValue, c.StatusTable)
		}
	case BackendFirestore:
		if c.FirestoreProjectID == "" {
			return fmt.Errorf("%w: FIRESTORE_PROJECT_ID", ErrMissingRequired)
		}
	case BackendBadger:
		if c.BadgerPath == "" {
			return fmt.Errorf("%w: BADGER_PATH", ErrMissingRequired)
		}
	default:
		return fmt.Errorf("%w: STATUS_STORE_BACKEND=%q", ErrInvalidValue, c.StatusStoreBackend)
	}

	if c.ClaimLeaseSeconds <= 0 {
		return fmt.Errorf("%w: CLAIM_LEASE_SECONDS must be positive", ErrInvalidValue)
	}

	if c.StatusPending == "" || c.StatusProcessed == "" || c.StatusError == "" {
		return fmt.Errorf("%w: STATUS_PENDING/STATUS_PROCESSED/STATUS_ERROR", ErrMissingRequired)
	}
	if c.StatusPending == c.StatusProcessed || c.StatusPending == c.StatusError || c.StatusProcessed == c.StatusError {
		return fmt.Errorf("%w: status values must be distinct", ErrInvalidValue)
	}

	if c.CollectionName == "" {
		return fmt.Errorf("%w: COLLECTION_NAME", ErrMissingRequired)
	}
	if !className.MatchString(c.CollectionName) {
		return fmt.Errorf("%w: COLLECTION_NAME=%q must start with an uppercase letter", ErrInvalidValue, c.CollectionName)
	}
	if c.VectorSize <= 0 {
		return fmt.Errorf("%w: VECTOR_SIZE must be positive", ErrInvalidValue)
	}
	if !validDistances[strings.ToLower(c.DistanceMetric)] {
		return fmt.Errorf("%w: DISTANCE_METRIC=%q", ErrInvalidValue, c.DistanceMetric)
	}

	switch c.EmbeddingProvider {
	case ProviderGemini, ProviderOpenAI:
	default:
		return fmt.Errorf("%w: EMBEDDING_PROVIDER=%q", ErrInvalidValue, c.EmbeddingProvider)
	}

	if c.BatchLimit <= 0 {
		return fmt.Errorf("%w: BATCH_LIMIT must be positive", ErrInvalidValue)
	}
	return nil
}

// ValidateChunking rejects window parameters that would produce a zero or
// negative stride.
func ValidateChunking(maxTokens, overlap int) error {
	if maxTokens <= 0 {
		return fmt.Errorf("%w: max_tokens must be positive, got %d", ErrInvalidChunking, maxTokens)
	}
	if overlap < 0 {
		return fmt.Errorf("%w: overlap must not be negative, got %d", ErrInvalidChunking, overlap)
	}
	if overlap >= maxTokens {
		return fmt.Errorf("%w: overlap (%d) must be smaller than max_tokens (%d)", ErrInvalidChunking, overlap, maxTokens)
	}
	return nil
}

func (c *Config) FetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutSeconds) * time.Second
}

func (c *Config) EmbedTimeout() time.Duration {
	return time.Duration(c.EmbedTimeoutSeconds) * time.Second
}

func (c *Config) ClaimLease() time.Duration {
	return time.Duration(c.ClaimLeaseSeconds) * time.Second
}

func (c *Config) BootstrapRetryDelay() time.Duration {
	return time.Duration(c.BootstrapRetryDelaySeconds) * time.Second
}

func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		c.DBHost, c.DBPort, c.DBUser, c.DBPass, c.DBName)
}
