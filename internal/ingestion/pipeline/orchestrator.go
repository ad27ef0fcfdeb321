// Package pipeline runs one document through chunk, embed and index, with
// whole-run retries and per-document serialization.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/yungbote/docrag-backend/internal/domain"
	"github.com/yungbote/docrag-backend/internal/ingestion/chunker"
	"github.com/yungbote/docrag-backend/internal/platform/ctxutil"
	"github.com/yungbote/docrag-backend/internal/platform/embedclient"
	"github.com/yungbote/docrag-backend/internal/platform/logger"
)

const DefaultEmbedBatchSize = 32

type Embedder interface {
	Embed(ctx context.Context, texts []string, model string) ([][]float32, error)
}

type Writer interface {
	DeleteDocument(ctx context.Context, documentID string) (int, error)
	UpsertBatch(ctx context.Context, chunks []domain.DocumentChunk, vectors [][]float32) error
}

type Config struct {
	ChunkSize       int
	ChunkOverlap    int
	EmbedBatchSize  int
	EmbeddingModel  string
	PublicPrincipal string
	Retry           RetryPolicy
}

func (c Config) withDefaults() Config {
	if c.ChunkSize == 0 {
		c.ChunkSize = chunker.DefaultSize
		if c.ChunkOverlap == 0 {
			c.ChunkOverlap = chunker.DefaultOverlap
		}
	}
	if c.EmbedBatchSize <= 0 {
		c.EmbedBatchSize = DefaultEmbedBatchSize
	}
	if strings.TrimSpace(c.PublicPrincipal) == "" {
		c.PublicPrincipal = domain.DefaultPublicPrincipal
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = DefaultRetryPolicy().MaxAttempts
	}
	return c
}

// Request is one ingestion. Zero ChunkSize and nil ChunkOverlap use the
// configured defaults.
type Request struct {
	TaskID            string
	DocumentID        string
	Source            string
	Text              string
	Metadata          domain.Metadata
	AllowedPrincipals []string
	ChunkSize         int
	ChunkOverlap      *int
}

type Result struct {
	TaskID     string
	DocumentID string
	Chunks     int
	Deleted    int
	Attempts   int
}

type Orchestrator struct {
	log      *logger.Logger
	embedder Embedder
	writer   Writer
	locker   DocumentLocker
	cfg      Config
	tracer   trace.Tracer
	sleep    func(ctx context.Context, d time.Duration) error
}

func New(log *logger.Logger, embedder Embedder, writer Writer, locker DocumentLocker, cfg Config) *Orchestrator {
	if log == nil {
		log = logger.NewNop()
	}
	if locker == nil {
		locker = NewMemoryLocker()
	}
	return &Orchestrator{
		log:      log.With("component", "IngestionOrchestrator"),
		embedder: embedder,
		writer:   writer,
		locker:   locker,
		cfg:      cfg.withDefaults(),
		tracer:   otel.Tracer("github.com/yungbote/docrag-backend/internal/ingestion/pipeline"),
		sleep:    sleepCtx,
	}
}

// Ingest runs the request to completion, retrying whole runs with backoff.
// A cancelled context stops the run between batches or during backoff and
// is not retried.
func (o *Orchestrator) Ingest(ctx context.Context, req Request, rep Reporter) (Result, error) {
	ctx = ctxutil.Default(ctx)
	if rep == nil {
		rep = NopReporter{}
	}
	req.DocumentID = strings.TrimSpace(req.DocumentID)
	res := Result{TaskID: req.TaskID, DocumentID: req.DocumentID}
	if req.DocumentID == "" {
		err := &RunError{TaskID: req.TaskID, Stage: domain.StageQueued, Cause: errors.New("document id required")}
		rep.Fail(context.WithoutCancel(ctx), err.Detail())
		return res, err
	}
	log := o.log.With("task_id", req.TaskID, "document_id", req.DocumentID)

	unlock, err := o.locker.Lock(ctx, req.DocumentID)
	if err != nil {
		runErr := &RunError{TaskID: req.TaskID, DocumentID: req.DocumentID, Stage: domain.StageQueued, Cause: fmt.Errorf("lock document: %w", err)}
		rep.Fail(context.WithoutCancel(ctx), runErr.Detail())
		return res, runErr
	}
	defer unlock()

	for attempt := 1; ; attempt++ {
		res.Attempts = attempt
		rep.Restart(ctx, attempt)

		n, deleted, err := o.runOnce(ctx, req, rep, attempt)
		if err == nil {
			res.Chunks = n
			res.Deleted = deleted
			log.Info("ingestion completed", "attempt", attempt, "chunks", n, "deleted", deleted)
			return res, nil
		}

		stage := domain.StageStarted
		var se *stageError
		if errors.As(err, &se) {
			stage = se.stage
			err = se.err
		}
		cancelled := ctx.Err() != nil
		if cancelled || !shouldRetry(o.cfg.Retry, attempt, err) {
			if cancelled && !errors.Is(err, ctx.Err()) {
				err = fmt.Errorf("%w: %v", ctx.Err(), err)
			}
			return res, o.fail(ctx, rep, req, stage, attempt, err)
		}

		wait := computeBackoff(o.cfg.Retry, attempt)
		log.Warn("ingestion attempt failed; retrying", "attempt", attempt, "stage", stage, "backoff", wait.String(), "error", err)
		if serr := o.sleep(ctx, wait); serr != nil {
			return res, o.fail(ctx, rep, req, stage, attempt, serr)
		}
	}
}

func (o *Orchestrator) fail(ctx context.Context, rep Reporter, req Request, stage domain.Stage, attempts int, cause error) error {
	runErr := &RunError{TaskID: req.TaskID, DocumentID: req.DocumentID, Stage: stage, Attempts: attempts, Cause: cause}
	rep.Fail(context.WithoutCancel(ctx), runErr.Detail())
	o.log.Error("ingestion failed", "task_id", req.TaskID, "document_id", req.DocumentID, "stage", stage, "attempts", attempts, "error", cause)
	return runErr
}

func (o *Orchestrator) runOnce(ctx context.Context, req Request, rep Reporter, attempt int) (chunks int, deleted int, err error) {
	ctx, span := o.tracer.Start(ctx, "ingestion.attempt", trace.WithAttributes(
		attribute.String("document_id", req.DocumentID),
		attribute.String("task_id", req.TaskID),
		attribute.Int("attempt", attempt),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.SetAttributes(attribute.Int("chunks", chunks))
		span.End()
	}()

	rep.Advance(ctx, domain.StageChunking, 0)
	records := o.buildChunks(req)
	rep.SetTotal(ctx, len(records))

	// Nothing to write: no embedder or index calls at all.
	if len(records) == 0 {
		rep.Advance(ctx, domain.StageFinalizing, 0)
		rep.Advance(ctx, domain.StageCompleted, 0)
		return 0, 0, nil
	}

	rep.Advance(ctx, domain.StageIndexing, 0)
	deleted, err = o.writer.DeleteDocument(ctx, req.DocumentID)
	if err != nil {
		return 0, 0, &stageError{stage: domain.StageIndexing, err: err}
	}

	processed := 0
	batch := o.cfg.EmbedBatchSize
	for start := 0; start < len(records); start += batch {
		if cerr := ctx.Err(); cerr != nil {
			return processed, deleted, &stageError{stage: domain.StageEmbedding, err: cerr}
		}
		end := start + batch
		if end > len(records) {
			end = len(records)
		}
		part := records[start:end]
		texts := make([]string, len(part))
		for i, c := range part {
			texts[i] = c.Text
		}

		rep.Advance(ctx, domain.StageEmbedding, processed)
		vectors, eerr := o.embedder.Embed(ctx, texts, o.cfg.EmbeddingModel)
		if eerr != nil {
			return processed, deleted, &stageError{stage: domain.StageEmbedding, err: eerr}
		}
		if len(vectors) != len(part) {
			return processed, deleted, &stageError{stage: domain.StageEmbedding, err: &embedclient.TransportError{
				Code:    embedclient.TransportErrorShapeMismatch,
				Op:      "embed",
				Message: fmt.Sprintf("expected %d embeddings, got %d", len(part), len(vectors)),
			}}
		}

		rep.Advance(ctx, domain.StageIndexing, processed)
		if werr := o.writer.UpsertBatch(ctx, part, vectors); werr != nil {
			return processed, deleted, &stageError{stage: domain.StageIndexing, err: werr}
		}
		processed = end
		rep.Advance(ctx, domain.StageIndexing, processed)
	}

	rep.Advance(ctx, domain.StageFinalizing, processed)
	rep.Advance(ctx, domain.StageCompleted, processed)
	return len(records), deleted, nil
}

func (o *Orchestrator) buildChunks(req Request) []domain.DocumentChunk {
	size, overlap := chunker.Params{Size: req.ChunkSize, Overlap: req.ChunkOverlap}.Resolve(chunker.Params{
		Size:    o.cfg.ChunkSize,
		Overlap: &o.cfg.ChunkOverlap,
	})
	texts := chunker.Chunk(req.Text, size, overlap)
	principals := domain.NormalizePrincipals(req.AllowedPrincipals, o.cfg.PublicPrincipal)

	out := make([]domain.DocumentChunk, 0, len(texts))
	for i, text := range texts {
		meta := domain.Metadata{"document_id": req.DocumentID, "chunk_index": i}
		for k, v := range req.Metadata {
			if k == "document_id" {
				continue
			}
			meta[k] = v
		}
		acl := make([]string, len(principals))
		copy(acl, principals)
		out = append(out, domain.DocumentChunk{
			ID:                uuid.NewString(),
			Text:              text,
			Source:            req.Source,
			DocumentID:        req.DocumentID,
			Metadata:          meta,
			AllowedPrincipals: acl,
		})
	}
	return out
}
