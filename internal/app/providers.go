package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	goredis "github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/yungbote/docrag-backend/internal/db"
	"github.com/yungbote/docrag-backend/internal/index"
	"github.com/yungbote/docrag-backend/internal/ingestion/pipeline"
	"github.com/yungbote/docrag-backend/internal/jobs/queue"
	"github.com/yungbote/docrag-backend/internal/platform/logger"
	"github.com/yungbote/docrag-backend/internal/platform/memindex"
	"github.com/yungbote/docrag-backend/internal/platform/qdrant"
	"github.com/yungbote/docrag-backend/internal/platform/weaviate"
	"github.com/yungbote/docrag-backend/internal/tasks"
)

// SchemaEnsurer is implemented by index adapters that can create their
// collection or class on demand.
type SchemaEnsurer interface {
	EnsureSchema(ctx context.Context) error
}

type VectorProviderBootstrapErrorCode string

const (
	VectorProviderBootstrapErrorInvalidProvider VectorProviderBootstrapErrorCode = "invalid_provider"
	VectorProviderBootstrapErrorMissingURL      VectorProviderBootstrapErrorCode = "missing_url"
	VectorProviderBootstrapErrorInvalidURL      VectorProviderBootstrapErrorCode = "invalid_url"
	VectorProviderBootstrapErrorInvalidSetting  VectorProviderBootstrapErrorCode = "invalid_setting"
	VectorProviderBootstrapErrorInitFailed      VectorProviderBootstrapErrorCode = "provider_init_failed"
)

type VectorProviderBootstrapError struct {
	Code     VectorProviderBootstrapErrorCode
	Provider string
	Cause    error
}

func (e *VectorProviderBootstrapError) Error() string {
	if e == nil {
		return "vector provider bootstrap failed"
	}
	return fmt.Sprintf("vector provider bootstrap failed (code=%s provider=%q): %v", e.Code, e.Provider, e.Cause)
}

func (e *VectorProviderBootstrapError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func newVectorIndex(log *logger.Logger, cfg Config) (index.VectorIndex, error) {
	provider := strings.TrimSpace(strings.ToLower(cfg.VectorProvider))
	log.Info("Selecting vector index provider", "provider", provider)

	switch provider {
	case VectorProviderWeaviate:
		x, err := weaviate.New(log, weaviate.Config{
			URL:            cfg.WeaviateURL,
			APIKey:         cfg.WeaviateAPIKey,
			Index:          cfg.WeaviateIndex,
			Timeout:        seconds(cfg.VectorTimeoutSecs),
			TextSearchMode: cfg.WeaviateTextSearch,
		})
		if err != nil {
			return nil, classifyVectorProviderError(log, provider, err)
		}
		return x, nil
	case VectorProviderQdrant:
		x, err := qdrant.New(log, qdrant.Config{
			URL:        cfg.QdrantURL,
			APIKey:     cfg.QdrantAPIKey,
			Collection: cfg.QdrantCollection,
			VectorDim:  cfg.QdrantVectorDim,
			Timeout:    seconds(cfg.VectorTimeoutSecs),
		})
		if err != nil {
			return nil, classifyVectorProviderError(log, provider, err)
		}
		return x, nil
	case VectorProviderMemory:
		log.Warn("Using in-process vector index; contents are lost on restart")
		return memindex.New(), nil
	default:
		return nil, &VectorProviderBootstrapError{
			Code:     VectorProviderBootstrapErrorInvalidProvider,
			Provider: provider,
			Cause:    fmt.Errorf("unsupported vector provider %q", provider),
		}
	}
}

func classifyVectorProviderError(log *logger.Logger, provider string, err error) error {
	code := VectorProviderBootstrapErrorInitFailed
	var werr *weaviate.ConfigError
	var qerr *qdrant.ConfigError
	switch {
	case errors.As(err, &werr):
		switch werr.Code {
		case weaviate.ConfigErrorMissingURL:
			code = VectorProviderBootstrapErrorMissingURL
		case weaviate.ConfigErrorInvalidURL:
			code = VectorProviderBootstrapErrorInvalidURL
		default:
			code = VectorProviderBootstrapErrorInvalidSetting
		}
	case errors.As(err, &qerr):
		switch qerr.Code {
		case qdrant.ConfigErrorMissingURL:
			code = VectorProviderBootstrapErrorMissingURL
		case qdrant.ConfigErrorInvalidURL:
			code = VectorProviderBootstrapErrorInvalidURL
		default:
			code = VectorProviderBootstrapErrorInvalidSetting
		}
	}
	log.Error("Vector index provider bootstrap failed", "provider", provider, "error_code", code, "error", err)
	return &VectorProviderBootstrapError{Code: code, Provider: provider, Cause: err}
}

// newTaskStore returns the configured store and, for relational stores, the
// opened database so the caller can close it.
func newTaskStore(ctx context.Context, log *logger.Logger, cfg Config, rdb goredis.UniversalClient) (tasks.Store, *gorm.DB, error) {
	switch cfg.TaskStore {
	case TaskStoreMemory:
		return tasks.NewMemoryStore(), nil, nil
	case TaskStoreRedis:
		if rdb == nil {
			return nil, nil, &ConfigError{Key: "REDIS_URL", Reason: "required when TASK_STORE=redis"}
		}
		s, err := tasks.NewRedisStore(log, rdb, tasks.RedisStoreConfig{TTL: seconds(cfg.TaskResultTTL)})
		return s, nil, err
	case TaskStorePostgres, TaskStoreSQLite:
		dbCfg := db.Config{Driver: db.DriverPostgres, DSN: cfg.PostgresDSN}
		if cfg.TaskStore == TaskStoreSQLite {
			dbCfg = db.Config{Driver: db.DriverSQLite, DSN: cfg.SQLitePath, MaxOpenConns: 1}
		}
		gdb, err := db.Open(log, dbCfg)
		if err != nil {
			return nil, nil, err
		}
		s := tasks.NewGormStore(gdb, log)
		if err := s.AutoMigrate(ctx); err != nil {
			_ = db.Close(gdb)
			return nil, nil, fmt.Errorf("migrate task store: %w", err)
		}
		return s, gdb, nil
	default:
		return nil, nil, &ConfigError{Key: "TASK_STORE", Reason: fmt.Sprintf("unsupported store %q", cfg.TaskStore)}
	}
}

// newQueue prefers Redis when configured so API and worker processes can
// share one queue.
func newQueue(log *logger.Logger, cfg Config, rdb goredis.UniversalClient) (queue.Queue, error) {
	if rdb == nil {
		log.Info("Using in-process job queue")
		return queue.NewChannelQueue(queue.DefaultChannelBuffer), nil
	}
	return queue.NewRedisQueue(log, rdb, queue.RedisQueueConfig{Key: cfg.QueueKey})
}

func newLocker(log *logger.Logger, cfg Config, rdb goredis.UniversalClient) (pipeline.DocumentLocker, error) {
	if rdb == nil {
		return pipeline.NewMemoryLocker(), nil
	}
	return pipeline.NewRedisLocker(log, rdb, pipeline.RedisLockerConfig{TTL: seconds(cfg.DocumentLockTTLSec)})
}
