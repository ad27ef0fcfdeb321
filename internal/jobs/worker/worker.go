package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yungbote/docrag-backend/internal/jobs/queue"
	"github.com/yungbote/docrag-backend/internal/jobs/runtime"
	"github.com/yungbote/docrag-backend/internal/observability"
	"github.com/yungbote/docrag-backend/internal/platform/logger"
	"github.com/yungbote/docrag-backend/internal/tasks"
)

const (
	DefaultConcurrency = 2
	DefaultTimeLimit   = 600 * time.Second
)

type Config struct {
	Concurrency int
	// TimeLimit bounds a single job run.
	TimeLimit time.Duration
}

type Worker struct {
	log      *logger.Logger
	queue    queue.Queue
	registry *runtime.Registry
	tasks    tasks.Store
	cfg      Config
	metrics  *observability.Metrics
}

func NewWorker(baseLog *logger.Logger, q queue.Queue, registry *runtime.Registry, store tasks.Store, cfg Config) *Worker {
	if baseLog == nil {
		baseLog = logger.NewNop()
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.TimeLimit <= 0 {
		cfg.TimeLimit = DefaultTimeLimit
	}
	return &Worker{
		log:      baseLog.With("component", "JobWorker"),
		queue:    q,
		registry: registry,
		tasks:    store,
		cfg:      cfg,
	}
}

// WithMetrics records job outcomes on m. A nil m disables recording.
func (w *Worker) WithMetrics(m *observability.Metrics) *Worker {
	w.metrics = m
	return w
}

// Run starts the pool and blocks until ctx is done or the queue is closed.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info("Starting job worker pool", "concurrency", w.cfg.Concurrency, "time_limit", w.cfg.TimeLimit.String())
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < w.cfg.Concurrency; i++ {
		workerID := i + 1
		g.Go(func() error { return w.runLoop(gctx, workerID) })
	}
	return g.Wait()
}

func (w *Worker) runLoop(ctx context.Context, workerID int) error {
	for {
		job, err := w.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, queue.ErrQueueClosed) || ctx.Err() != nil {
				w.log.Info("Worker loop stopped", "worker_id", workerID)
				return nil
			}
			w.log.Warn("Dequeue failed", "worker_id", workerID, "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}
		w.dispatch(ctx, workerID, job)
	}
}

func (w *Worker) dispatch(ctx context.Context, workerID int, job queue.Job) {
	jobCtx, cancel := context.WithTimeout(ctx, w.cfg.TimeLimit)
	defer cancel()

	jc := runtime.NewContext(jobCtx, job, w.tasks, w.log.With("worker_id", workerID))
	h, ok := w.registry.Get(job.Type)
	if !ok {
		w.log.Warn("No handler registered for job_type",
			"worker_id", workerID,
			"job_type", job.Type,
			"task_id", job.TaskID,
		)
		jc.Fail("dispatch", &missingHandlerError{JobType: job.Type})
		w.metrics.ObserveJob(job.Type, "failed", 0)
		return
	}

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			w.metrics.ObserveJob(job.Type, "panic", time.Since(start))
			w.log.Error("Job handler panic",
				"worker_id", workerID,
				"job_type", job.Type,
				"task_id", job.TaskID,
				"panic", r,
			)
			jc.Fail("panic", errFromRecover(r))
		}
	}()

	if runErr := h.Run(jc); runErr != nil {
		// Handlers report their own failures; this covers the ones that don't.
		jc.Fail("run", runErr)
		w.metrics.ObserveJob(job.Type, "failed", time.Since(start))
		return
	}
	w.metrics.ObserveJob(job.Type, "succeeded", time.Since(start))
	w.log.Debug("Job finished", "job_type", job.Type, "task_id", job.TaskID, "duration_ms", time.Since(start).Milliseconds())
}

type missingHandlerError struct{ JobType string }

func (e *missingHandlerError) Error() string { return "no handler registered for job_type=" + e.JobType }

func errFromRecover(v any) error { return &panicError{Val: v} }

type panicError struct{ Val any }

func (e *panicError) Error() string { return fmt.Sprintf("%v", e.Val) }
