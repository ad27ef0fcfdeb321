package app

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/yungbote/docrag-backend/internal/platform/envutil"
	"github.com/yungbote/docrag-backend/internal/platform/logger"
)

const (
	VectorProviderWeaviate = "weaviate"
	VectorProviderQdrant   = "qdrant"
	VectorProviderMemory   = "memory"

	TaskStoreMemory   = "memory"
	TaskStoreRedis    = "redis"
	TaskStorePostgres = "postgres"
	TaskStoreSQLite   = "sqlite"
)

// Config is the process configuration. Values come from, in increasing
// precedence: built-in defaults, the YAML file named by CONFIG_FILE, and the
// environment (including .env and .env.local).
type Config struct {
	Env     string `yaml:"env"`
	Version string `yaml:"version"`
	LogMode string `yaml:"log_mode"`

	HTTPAddr    string   `yaml:"http_addr"`
	CORSOrigins []string `yaml:"allowed_cors_origins"`

	MetricsEnabled bool   `yaml:"metrics_enabled"`
	MetricsAddr    string `yaml:"metrics_addr"`

	VectorProvider     string `yaml:"vector_index_provider"`
	WeaviateURL        string `yaml:"weaviate_url"`
	WeaviateIndex      string `yaml:"weaviate_index"`
	WeaviateAPIKey     string `yaml:"weaviate_api_key"`
	WeaviateTextSearch string `yaml:"weaviate_text_search"`
	QdrantURL          string `yaml:"qdrant_url"`
	QdrantAPIKey       string `yaml:"qdrant_api_key"`
	QdrantCollection   string `yaml:"qdrant_collection"`
	QdrantVectorDim    int    `yaml:"qdrant_vector_dim"`
	VectorTimeoutSecs  int    `yaml:"vector_timeout_seconds"`

	EmbeddingServiceURL string  `yaml:"embedding_service_url"`
	EmbeddingModel      string  `yaml:"embedding_model"`
	EmbeddingTimeout    int     `yaml:"embedding_timeout_seconds"`
	EmbeddingRPS        float64 `yaml:"embedding_rps"`

	ChunkSize        int    `yaml:"ingestion_chunk_size"`
	ChunkOverlap     int    `yaml:"ingestion_chunk_overlap"`
	EmbedBatchSize   int    `yaml:"ingestion_embed_batch_size"`
	IngestionSource  string `yaml:"ingestion_default_source"`
	MaxAttempts      int    `yaml:"ingestion_max_attempts"`
	WatchPath        string `yaml:"ingestion_watch_path"`
	ProcessedPath    string `yaml:"ingestion_processed_path"`
	ScheduleInterval int    `yaml:"ingestion_schedule_interval"`
	WatchInbox       bool   `yaml:"ingestion_watch_enabled"`

	PublicPrincipal         string `yaml:"default_public_principal"`
	EnablePermissionFilters bool   `yaml:"enable_permission_filters"`
	DefaultTopK             int    `yaml:"retrieval_default_top_k"`

	RedisURL           string `yaml:"redis_url"`
	TaskStore          string `yaml:"task_store"`
	PostgresDSN        string `yaml:"postgres_dsn"`
	SQLitePath         string `yaml:"sqlite_path"`
	TaskResultTTL      int    `yaml:"task_result_ttl_seconds"`
	QueueKey           string `yaml:"ingestion_queue_key"`
	WorkerConcurrency  int    `yaml:"worker_concurrency"`
	TaskTimeLimit      int    `yaml:"task_time_limit_seconds"`
	DocumentLockTTLSec int    `yaml:"document_lock_ttl_seconds"`
}

func defaultConfig() Config {
	return Config{
		Env:                     "development",
		Version:                 "dev",
		LogMode:                 "development",
		HTTPAddr:                ":8000",
		MetricsAddr:             ":9090",
		VectorProvider:          VectorProviderWeaviate,
		WeaviateURL:             "http://localhost:8080",
		WeaviateIndex:           "rag_documents",
		QdrantCollection:        "rag_documents",
		VectorTimeoutSecs:       30,
		EmbeddingServiceURL:     "http://localhost:8001",
		EmbeddingModel:          "sentence-transformers/all-MiniLM-L6-v2",
		EmbeddingTimeout:        60,
		ChunkSize:               750,
		ChunkOverlap:            100,
		EmbedBatchSize:          32,
		IngestionSource:         "api",
		MaxAttempts:             4,
		WatchPath:               "./data/inbox",
		ProcessedPath:           "./data/processed",
		ScheduleInterval:        300,
		PublicPrincipal:         "public",
		EnablePermissionFilters: true,
		DefaultTopK:             5,
		TaskStore:               TaskStoreMemory,
		SQLitePath:              "./data/tasks.db",
		TaskResultTTL:           86400,
		QueueKey:                "ingestion",
		WorkerConcurrency:       2,
		TaskTimeLimit:           600,
		DocumentLockTTLSec:      900,
	}
}

type ConfigError struct {
	Key    string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid config %s: %s", e.Key, e.Reason)
}

// LoadConfig resolves the configuration. .env files never override variables
// already present in the environment.
func LoadConfig(log *logger.Logger) (Config, error) {
	if log == nil {
		log = logger.NewNop()
	}
	for _, f := range []string{".env", ".env.local"} {
		if err := godotenv.Load(f); err == nil {
			log.Debug("Loaded env file", "file", f)
		} else if !errors.Is(err, os.ErrNotExist) {
			log.Warn("Env file not loaded", "file", f, "error", err)
		}
	}

	cfg := defaultConfig()
	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := loadConfigFile(path, &cfg); err != nil {
			return Config{}, err
		}
		log.Info("Loaded config file", "path", path)
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadConfigFile(path string, cfg *Config) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Env = envutil.String("APP_ENV", cfg.Env)
	cfg.Version = envutil.String("APP_VERSION", cfg.Version)
	cfg.LogMode = envutil.String("LOG_MODE", cfg.LogMode)
	cfg.HTTPAddr = envutil.String("HTTP_ADDR", cfg.HTTPAddr)
	cfg.CORSOrigins = envutil.List("ALLOWED_CORS_ORIGINS", cfg.CORSOrigins)
	cfg.MetricsEnabled = envutil.Bool("METRICS_ENABLED", cfg.MetricsEnabled)
	cfg.MetricsAddr = envutil.String("METRICS_ADDR", cfg.MetricsAddr)

	cfg.VectorProvider = strings.ToLower(envutil.String("VECTOR_INDEX_PROVIDER", cfg.VectorProvider))
	cfg.WeaviateURL = envutil.String("WEAVIATE_URL", cfg.WeaviateURL)
	cfg.WeaviateIndex = envutil.String("WEAVIATE_INDEX", cfg.WeaviateIndex)
	cfg.WeaviateAPIKey = envutil.String("WEAVIATE_API_KEY", cfg.WeaviateAPIKey)
	cfg.WeaviateTextSearch = envutil.String("WEAVIATE_TEXT_SEARCH", cfg.WeaviateTextSearch)
	cfg.QdrantURL = envutil.String("QDRANT_URL", cfg.QdrantURL)
	cfg.QdrantAPIKey = envutil.String("QDRANT_API_KEY", cfg.QdrantAPIKey)
	cfg.QdrantCollection = envutil.String("QDRANT_COLLECTION", cfg.QdrantCollection)
	cfg.QdrantVectorDim = envutil.Int("QDRANT_VECTOR_DIM", cfg.QdrantVectorDim)
	cfg.VectorTimeoutSecs = envutil.Int("VECTOR_TIMEOUT_SECONDS", cfg.VectorTimeoutSecs)

	cfg.EmbeddingServiceURL = envutil.String("EMBEDDING_SERVICE_URL", cfg.EmbeddingServiceURL)
	cfg.EmbeddingModel = envutil.String("EMBEDDING_MODEL", cfg.EmbeddingModel)
	cfg.EmbeddingTimeout = envutil.Int("EMBEDDING_TIMEOUT_SECONDS", cfg.EmbeddingTimeout)
	cfg.EmbeddingRPS = envutil.Float("EMBEDDING_RPS", cfg.EmbeddingRPS)

	cfg.ChunkSize = envutil.Int("INGESTION_CHUNK_SIZE", cfg.ChunkSize)
	cfg.ChunkOverlap = envutil.Int("INGESTION_CHUNK_OVERLAP", cfg.ChunkOverlap)
	cfg.EmbedBatchSize = envutil.Int("INGESTION_EMBED_BATCH_SIZE", cfg.EmbedBatchSize)
	cfg.IngestionSource = envutil.String("INGESTION_DEFAULT_SOURCE", cfg.IngestionSource)
	cfg.MaxAttempts = envutil.Int("INGESTION_MAX_ATTEMPTS", cfg.MaxAttempts)
	cfg.WatchPath = envutil.String("INGESTION_WATCH_PATH", cfg.WatchPath)
	cfg.ProcessedPath = envutil.String("INGESTION_PROCESSED_PATH", cfg.ProcessedPath)
	cfg.ScheduleInterval = envutil.Int("INGESTION_SCHEDULE_INTERVAL", cfg.ScheduleInterval)
	cfg.WatchInbox = envutil.Bool("INGESTION_WATCH_ENABLED", cfg.WatchInbox)

	cfg.PublicPrincipal = envutil.String("DEFAULT_PUBLIC_PRINCIPAL", cfg.PublicPrincipal)
	cfg.EnablePermissionFilters = envutil.Bool("ENABLE_PERMISSION_FILTERS", cfg.EnablePermissionFilters)
	cfg.DefaultTopK = envutil.Int("RETRIEVAL_DEFAULT_TOP_K", cfg.DefaultTopK)

	cfg.RedisURL = envutil.String("REDIS_URL", cfg.RedisURL)
	cfg.TaskStore = strings.ToLower(envutil.String("TASK_STORE", cfg.TaskStore))
	cfg.PostgresDSN = envutil.String("POSTGRES_DSN", cfg.PostgresDSN)
	cfg.SQLitePath = envutil.String("SQLITE_PATH", cfg.SQLitePath)
	cfg.TaskResultTTL = envutil.Int("TASK_RESULT_TTL_SECONDS", cfg.TaskResultTTL)
	cfg.QueueKey = envutil.String("INGESTION_QUEUE_KEY", cfg.QueueKey)
	cfg.WorkerConcurrency = envutil.Int("WORKER_CONCURRENCY", cfg.WorkerConcurrency)
	cfg.TaskTimeLimit = envutil.Int("TASK_TIME_LIMIT_SECONDS", cfg.TaskTimeLimit)
	cfg.DocumentLockTTLSec = envutil.Int("DOCUMENT_LOCK_TTL_SECONDS", cfg.DocumentLockTTLSec)
}

func (c Config) Validate() error {
	switch c.VectorProvider {
	case VectorProviderWeaviate, VectorProviderQdrant, VectorProviderMemory:
	default:
		return &ConfigError{Key: "VECTOR_INDEX_PROVIDER", Reason: fmt.Sprintf("unsupported provider %q", c.VectorProvider)}
	}
	switch c.TaskStore {
	case TaskStoreMemory, TaskStoreSQLite:
	case TaskStoreRedis:
		if strings.TrimSpace(c.RedisURL) == "" {
			return &ConfigError{Key: "REDIS_URL", Reason: "required when TASK_STORE=redis"}
		}
	case TaskStorePostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			return &ConfigError{Key: "POSTGRES_DSN", Reason: "required when TASK_STORE=postgres"}
		}
	default:
		return &ConfigError{Key: "TASK_STORE", Reason: fmt.Sprintf("unsupported store %q", c.TaskStore)}
	}
	if c.ChunkSize < 0 || c.ChunkOverlap < 0 {
		return &ConfigError{Key: "INGESTION_CHUNK_SIZE", Reason: "chunk size and overlap must be non-negative"}
	}
	if c.EmbedBatchSize < 0 {
		return &ConfigError{Key: "INGESTION_EMBED_BATCH_SIZE", Reason: "must be non-negative"}
	}
	if c.ScheduleInterval < 0 {
		return &ConfigError{Key: "INGESTION_SCHEDULE_INTERVAL", Reason: "must be non-negative"}
	}
	return nil
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }
