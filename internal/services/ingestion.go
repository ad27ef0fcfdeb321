package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/docrag-backend/internal/domain"
	"github.com/yungbote/docrag-backend/internal/ingestion/pipeline"
	"github.com/yungbote/docrag-backend/internal/jobs/pipeline/ingest_document"
	"github.com/yungbote/docrag-backend/internal/jobs/queue"
	"github.com/yungbote/docrag-backend/internal/observability"
	"github.com/yungbote/docrag-backend/internal/platform/apierr"
	"github.com/yungbote/docrag-backend/internal/platform/ctxutil"
	"github.com/yungbote/docrag-backend/internal/platform/logger"
	"github.com/yungbote/docrag-backend/internal/tasks"
)

const (
	DefaultIngestionSource = "api"
	failedWithoutDetail    = "Ingestion task failed."
)

type IngestInput struct {
	DocumentID        string
	Text              string
	Source            string
	Metadata          domain.Metadata
	AllowedPrincipals []string
	ChunkSize         int
	ChunkOverlap      *int
}

type EnqueueResult struct {
	DocumentID string `json:"document_id"`
	TaskID     string `json:"task_id"`
	Status     string `json:"status"`
}

type TaskStatus struct {
	TaskID          string           `json:"task_id"`
	State           domain.TaskState `json:"state"`
	Stage           domain.Stage     `json:"stage,omitempty"`
	DocumentID      string           `json:"document_id,omitempty"`
	Detail          string           `json:"detail,omitempty"`
	TotalChunks     int              `json:"total_chunks"`
	ProcessedChunks int              `json:"processed_chunks"`
	Attempt         int              `json:"attempt"`
}

type IngestionConfig struct {
	DefaultSource   string
	PublicPrincipal string
	// Metrics is optional.
	Metrics *observability.Metrics
}

type IngestionService interface {
	// Enqueue records a queued task and hands the document to the worker
	// pool. It returns before any chunking happens.
	Enqueue(ctx context.Context, in IngestInput) (EnqueueResult, error)
	// IngestNow runs the document through the orchestrator in the caller's
	// goroutine, still recording progress on a task.
	IngestNow(ctx context.Context, in IngestInput, ingester ingest_document.Ingester) (pipeline.Result, TaskStatus, error)
	Status(ctx context.Context, taskID string) (TaskStatus, error)
}

type ingestionService struct {
	log   *logger.Logger
	store tasks.Store
	queue queue.Queue
	cfg   IngestionConfig
	now   func() time.Time
}

func NewIngestionService(baseLog *logger.Logger, store tasks.Store, q queue.Queue, cfg IngestionConfig) IngestionService {
	if baseLog == nil {
		baseLog = logger.NewNop()
	}
	if strings.TrimSpace(cfg.DefaultSource) == "" {
		cfg.DefaultSource = DefaultIngestionSource
	}
	if strings.TrimSpace(cfg.PublicPrincipal) == "" {
		cfg.PublicPrincipal = domain.DefaultPublicPrincipal
	}
	return &ingestionService{
		log:   baseLog.With("service", "IngestionService"),
		store: store,
		queue: q,
		cfg:   cfg,
		now:   time.Now,
	}
}

func (s *ingestionService) prepare(ctx context.Context, in IngestInput) (ingest_document.Payload, *domain.IngestionTask, error) {
	docID := strings.TrimSpace(in.DocumentID)
	if docID == "" {
		docID = uuid.New().String()
	}
	source := strings.TrimSpace(in.Source)
	if source == "" {
		source = s.cfg.DefaultSource
	}
	p := ingest_document.Payload{
		DocumentID:        docID,
		Source:            source,
		Text:              in.Text,
		AllowedPrincipals: domain.NormalizePrincipals(in.AllowedPrincipals, s.cfg.PublicPrincipal),
		ChunkSize:         in.ChunkSize,
		ChunkOverlap:      in.ChunkOverlap,
	}
	if err := p.SetMetadata(in.Metadata); err != nil {
		return p, nil, apierr.BadRequest(apierr.CodeInvalidMetadata, fmt.Errorf("encode metadata: %w", err))
	}
	if td := ctxutil.GetTraceData(ctx); td != nil {
		p.TraceID = td.TraceID
		p.RequestID = td.RequestID
	}

	task := domain.NewIngestionTask(uuid.New().String(), docID, s.now().UTC())
	if err := s.store.Create(ctx, task); err != nil {
		return p, nil, apierr.Internal(apierr.CodeCreateTaskFailed, fmt.Errorf("create task: %w", err))
	}
	return p, task, nil
}

func (s *ingestionService) Enqueue(ctx context.Context, in IngestInput) (EnqueueResult, error) {
	p, task, err := s.prepare(ctx, in)
	if err != nil {
		return EnqueueResult{}, err
	}
	job, err := queue.NewJob(ingest_document.JobType, task.ID, p)
	if err != nil {
		return EnqueueResult{}, apierr.Internal(apierr.CodeEncodeJobFailed, err)
	}
	if err := s.queue.Enqueue(ctx, job); err != nil {
		detail := "queued: enqueue: " + err.Error()
		if uerr := s.store.Update(context.WithoutCancel(ctx), task.ID, func(t *domain.IngestionTask) error {
			return t.Fail(detail)
		}); uerr != nil {
			s.log.Warn("Marking unqueued task failed", "task_id", task.ID, "error", uerr)
		}
		s.cfg.Metrics.IncEnqueued(job.Type, "failed")
		return EnqueueResult{}, apierr.Unavailable(apierr.CodeEnqueueFailed, fmt.Errorf("enqueue ingestion: %w", err))
	}
	s.cfg.Metrics.IncEnqueued(job.Type, "ok")
	s.log.Info("Ingestion queued",
		"task_id", task.ID,
		"document_id", p.DocumentID,
		"source", p.Source,
		"chars", len(p.Text),
	)
	return EnqueueResult{DocumentID: p.DocumentID, TaskID: task.ID, Status: string(domain.TaskQueued)}, nil
}

func (s *ingestionService) IngestNow(ctx context.Context, in IngestInput, ingester ingest_document.Ingester) (pipeline.Result, TaskStatus, error) {
	p, task, err := s.prepare(ctx, in)
	if err != nil {
		return pipeline.Result{}, TaskStatus{}, err
	}
	res, runErr := ingester.Ingest(ctx, pipeline.Request{
		TaskID:            task.ID,
		DocumentID:        p.DocumentID,
		Source:            p.Source,
		Text:              p.Text,
		Metadata:          p.DecodedMetadata(),
		AllowedPrincipals: p.AllowedPrincipals,
		ChunkSize:         p.ChunkSize,
		ChunkOverlap:      p.ChunkOverlap,
	}, tasks.NewReporter(s.store, task.ID, s.log))
	status, err := s.Status(context.WithoutCancel(ctx), task.ID)
	if err != nil {
		return res, status, err
	}
	return res, status, runErr
}

func (s *ingestionService) Status(ctx context.Context, taskID string) (TaskStatus, error) {
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		return TaskStatus{}, apierr.NotFound(apierr.CodeTaskNotFound, tasks.ErrTaskNotFound)
	}
	t, err := s.store.Get(ctx, taskID)
	if errors.Is(err, tasks.ErrTaskNotFound) {
		return TaskStatus{}, apierr.NotFound(apierr.CodeTaskNotFound, err)
	}
	if err != nil {
		return TaskStatus{}, apierr.Internal(apierr.CodeLoadTaskFailed, err)
	}
	st := TaskStatus{
		TaskID:          t.ID,
		State:           t.State(),
		Stage:           t.Stage,
		DocumentID:      t.DocumentID,
		Detail:          t.Detail,
		TotalChunks:     t.TotalChunks,
		ProcessedChunks: t.ProcessedChunks,
		Attempt:         t.Attempt,
	}
	if st.State == domain.TaskFailed && st.Detail == "" {
		st.Detail = failedWithoutDetail
	}
	return st, nil
}
