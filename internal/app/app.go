package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	redisclient "github.com/yungbote/docrag-backend/internal/clients/redis"
	"github.com/yungbote/docrag-backend/internal/db"
	"github.com/yungbote/docrag-backend/internal/domain"
	apihttp "github.com/yungbote/docrag-backend/internal/http"
	httpH "github.com/yungbote/docrag-backend/internal/http/handlers"
	"github.com/yungbote/docrag-backend/internal/index"
	"github.com/yungbote/docrag-backend/internal/ingestion/extractor"
	"github.com/yungbote/docrag-backend/internal/ingestion/inbox"
	"github.com/yungbote/docrag-backend/internal/ingestion/indexwriter"
	"github.com/yungbote/docrag-backend/internal/ingestion/pipeline"
	"github.com/yungbote/docrag-backend/internal/jobs/pipeline/ingest_document"
	"github.com/yungbote/docrag-backend/internal/jobs/pipeline/sync_ingestion_inbox"
	"github.com/yungbote/docrag-backend/internal/jobs/queue"
	"github.com/yungbote/docrag-backend/internal/jobs/runtime"
	"github.com/yungbote/docrag-backend/internal/jobs/worker"
	"github.com/yungbote/docrag-backend/internal/observability"
	"github.com/yungbote/docrag-backend/internal/platform/embedclient"
	"github.com/yungbote/docrag-backend/internal/platform/logger"
	"github.com/yungbote/docrag-backend/internal/retrieval"
	"github.com/yungbote/docrag-backend/internal/services"
	"github.com/yungbote/docrag-backend/internal/tasks"
)

const (
	// CLISource tags documents ingested through the command line.
	CLISource       = "cli"
	shutdownTimeout = 5 * time.Second
)

type App struct {
	Log     *logger.Logger
	Cfg     Config
	Metrics *observability.Metrics

	Redis *goredis.Client
	DB    *gorm.DB
	Index index.VectorIndex
	Tasks tasks.Store
	Queue queue.Queue

	Orchestrator *pipeline.Orchestrator
	Ingestion    services.IngestionService
	Retrieval    services.RetrievalService
	Inbox        *inbox.Syncer
	Scheduler    *inbox.Scheduler
	Worker       *worker.Worker
	Router       *gin.Engine

	otelShutdown func(context.Context) error
}

// New builds the logger and configuration from the environment and wires
// every component.
func New(ctx context.Context) (*App, error) {
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.NewService(logMode, "docrag")
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	log.Info("Loading configuration...")
	cfg, err := LoadConfig(log)
	if err != nil {
		log.Sync()
		return nil, err
	}
	a, err := Build(ctx, log, cfg)
	if err != nil {
		log.Sync()
		return nil, err
	}
	return a, nil
}

// Build wires the application from an explicit configuration.
func Build(ctx context.Context, log *logger.Logger, cfg Config) (a *App, err error) {
	if log == nil {
		log = logger.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a = &App{Log: log, Cfg: cfg}
	defer func() {
		if err != nil {
			a.Close()
			a = nil
		}
	}()

	if cfg.MetricsEnabled {
		a.Metrics = observability.NewMetrics()
	}
	a.otelShutdown = observability.InitOTel(ctx, log, observability.OtelConfigFromEnv("docrag", cfg.Env, cfg.Version))

	if strings.TrimSpace(cfg.RedisURL) != "" {
		if a.Redis, err = redisclient.NewClient(ctx, log, cfg.RedisURL); err != nil {
			return nil, fmt.Errorf("init redis: %w", err)
		}
	}
	// A nil *goredis.Client must not become a non-nil interface.
	var rdb goredis.UniversalClient
	if a.Redis != nil {
		rdb = a.Redis
	}

	if a.Index, err = newVectorIndex(log, cfg); err != nil {
		return nil, err
	}
	if a.Tasks, a.DB, err = newTaskStore(ctx, log, cfg, rdb); err != nil {
		return nil, fmt.Errorf("init task store: %w", err)
	}
	if a.Queue, err = newQueue(log, cfg, rdb); err != nil {
		return nil, fmt.Errorf("init queue: %w", err)
	}
	locker, err := newLocker(log, cfg, rdb)
	if err != nil {
		return nil, fmt.Errorf("init document locker: %w", err)
	}

	embedder, err := embedclient.New(log, embedclient.Config{
		BaseURL:      cfg.EmbeddingServiceURL,
		Model:        cfg.EmbeddingModel,
		Timeout:      seconds(cfg.EmbeddingTimeout),
		RateLimitRPS: cfg.EmbeddingRPS,
	})
	if err != nil {
		return nil, fmt.Errorf("init embedding client: %w", err)
	}

	retry := pipeline.DefaultRetryPolicy()
	if cfg.MaxAttempts > 0 {
		retry.MaxAttempts = cfg.MaxAttempts
	}
	a.Orchestrator = pipeline.New(log, embedder, indexwriter.New(log, a.Index, indexwriter.DefaultOptions()), locker, pipeline.Config{
		ChunkSize:       cfg.ChunkSize,
		ChunkOverlap:    cfg.ChunkOverlap,
		EmbedBatchSize:  cfg.EmbedBatchSize,
		EmbeddingModel:  cfg.EmbeddingModel,
		PublicPrincipal: cfg.PublicPrincipal,
		Retry:           retry,
	})
	engine := retrieval.NewEngine(log, embedder, a.Index, retrieval.Config{
		DefaultTopK:    cfg.DefaultTopK,
		EmbeddingModel: cfg.EmbeddingModel,
	})

	a.Ingestion = services.NewIngestionService(log, a.Tasks, a.Queue, services.IngestionConfig{
		DefaultSource:   cfg.IngestionSource,
		PublicPrincipal: cfg.PublicPrincipal,
		Metrics:         a.Metrics,
	})
	a.Retrieval = services.NewRetrievalService(log, engine, services.RetrievalConfig{
		EnablePermissionFilters: cfg.EnablePermissionFilters,
		PublicPrincipal:         cfg.PublicPrincipal,
	})
	if a.Inbox, err = inbox.NewSyncer(log, a.Ingestion, inbox.Config{
		WatchPath:     cfg.WatchPath,
		ProcessedPath: cfg.ProcessedPath,
	}); err != nil {
		return nil, fmt.Errorf("init inbox: %w", err)
	}

	registry := runtime.NewRegistry()
	for _, h := range []runtime.Handler{
		ingest_document.New(log, a.Orchestrator),
		sync_ingestion_inbox.New(log, a.Inbox),
	} {
		if err := registry.Register(h); err != nil {
			return nil, err
		}
	}
	a.Worker = worker.NewWorker(log, a.Queue, registry, a.Tasks, worker.Config{
		Concurrency: cfg.WorkerConcurrency,
		TimeLimit:   seconds(cfg.TaskTimeLimit),
	}).WithMetrics(a.Metrics)
	if cfg.ScheduleInterval > 0 {
		a.Scheduler = inbox.NewScheduler(log, a.Queue, seconds(cfg.ScheduleInterval))
	}

	a.Router = apihttp.NewRouter(apihttp.RouterConfig{
		Log:              log,
		Metrics:          a.Metrics,
		CORSOrigins:      cfg.CORSOrigins,
		ExposeMetrics:    cfg.MetricsEnabled && strings.TrimSpace(cfg.MetricsAddr) == "",
		DocumentHandler:  httpH.NewDocumentHandler(log, a.Ingestion),
		RetrievalHandler: httpH.NewRetrievalHandler(a.Retrieval),
		HealthHandler:    httpH.NewHealthHandler(),
	})
	log.Info("Application wired",
		"vector_provider", cfg.VectorProvider,
		"task_store", cfg.TaskStore,
		"redis", a.Redis != nil,
		"job_types", registry.Types(),
	)
	return a, nil
}

// Serve runs the HTTP API and, when withWorker is set, the background side
// in the same process. It blocks until ctx is done or a component fails.
func (a *App) Serve(ctx context.Context, withWorker bool) error {
	if a == nil || a.Router == nil {
		return fmt.Errorf("app not initialized")
	}
	g, gctx := errgroup.WithContext(ctx)
	a.Metrics.StartServer(gctx, a.Log, a.Cfg.MetricsAddr)
	g.Go(func() error {
		a.Log.Info("HTTP server listening", "addr", a.Cfg.HTTPAddr)
		return (&apihttp.Server{Engine: a.Router}).Serve(gctx, a.Cfg.HTTPAddr)
	})
	if withWorker {
		g.Go(func() error { return a.runBackground(gctx) })
	}
	return g.Wait()
}

// RunWorker runs the job worker pool, the inbox schedule and, when enabled,
// the inbox watcher.
func (a *App) RunWorker(ctx context.Context) error {
	if a == nil || a.Worker == nil {
		return fmt.Errorf("app not initialized")
	}
	if _, ok := a.Queue.(*queue.ChannelQueue); ok {
		a.Log.Warn("Worker running with an in-process queue; only inbox jobs will arrive (set REDIS_URL to share a queue)")
	}
	a.Metrics.StartServer(ctx, a.Log, a.Cfg.MetricsAddr)
	return a.runBackground(ctx)
}

func (a *App) runBackground(ctx context.Context) error {
	if err := a.Inbox.EnsurePaths(); err != nil {
		return fmt.Errorf("prepare inbox: %w", err)
	}
	if a.Scheduler != nil {
		if err := a.Scheduler.Start(); err != nil {
			return err
		}
		defer a.Scheduler.Stop()
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.Worker.Run(gctx) })
	if a.Cfg.WatchInbox {
		g.Go(func() error { return inbox.NewWatcher(a.Log, a.Inbox).Run(gctx) })
	}
	return g.Wait()
}

// EnsureSchema creates the index class or collection when the provider
// supports it.
func (a *App) EnsureSchema(ctx context.Context) error {
	se, ok := a.Index.(SchemaEnsurer)
	if !ok {
		a.Log.Info("Vector provider has no schema to ensure", "provider", a.Cfg.VectorProvider)
		return nil
	}
	return se.EnsureSchema(ctx)
}

// IngestFile extracts one document file and runs it through the orchestrator
// synchronously.
// The document id is the file name without its extension.
func (a *App) IngestFile(ctx context.Context, path string, principals []string) (pipeline.Result, services.TaskStatus, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return pipeline.Result{}, services.TaskStatus{}, err
	}
	name := filepath.Base(path)
	text, err := extractor.Extract(raw, name, "")
	if err != nil {
		return pipeline.Result{}, services.TaskStatus{}, fmt.Errorf("extract %s: %w", name, err)
	}
	return a.Ingestion.IngestNow(ctx, services.IngestInput{
		DocumentID:        strings.TrimSuffix(name, filepath.Ext(name)),
		Text:              text,
		Source:            CLISource,
		Metadata:          domain.Metadata{"filename": name},
		AllowedPrincipals: principals,
	}, a.Orchestrator)
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.Queue != nil {
		_ = a.Queue.Close()
	}
	if a.DB != nil {
		if err := db.Close(a.DB); err != nil {
			a.Log.Warn("Closing database failed", "error", err)
		}
	}
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	if a.otelShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := a.otelShutdown(ctx); err != nil {
			a.Log.Warn("otel shutdown failed", "error", err)
		}
		cancel()
	}
	a.Log.Sync()
}
