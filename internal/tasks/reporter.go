package tasks

import (
	"context"

	"github.com/yungbote/docrag-backend/internal/domain"
	"github.com/yungbote/docrag-backend/internal/platform/logger"
)

// Reporter writes orchestrator progress for one task into a Store. Write
// failures are logged and dropped so a flaky store never fails a run.
type Reporter struct {
	store  Store
	taskID string
	log    *logger.Logger
}

func NewReporter(store Store, taskID string, baseLog *logger.Logger) *Reporter {
	if baseLog == nil {
		baseLog = logger.NewNop()
	}
	return &Reporter{
		store:  store,
		taskID: taskID,
		log:    baseLog.With("component", "TaskReporter", "task_id", taskID),
	}
}

func (r *Reporter) Restart(ctx context.Context, attempt int) {
	r.apply(ctx, "restart", func(t *domain.IngestionTask) error { return t.Restart(attempt) })
}

func (r *Reporter) Advance(ctx context.Context, stage domain.Stage, processed int) {
	r.apply(ctx, "advance", func(t *domain.IngestionTask) error { return t.Advance(stage, processed) })
}

func (r *Reporter) SetTotal(ctx context.Context, total int) {
	r.apply(ctx, "set_total", func(t *domain.IngestionTask) error { return t.SetTotal(total) })
}

func (r *Reporter) Fail(ctx context.Context, detail string) {
	r.apply(ctx, "fail", func(t *domain.IngestionTask) error { return t.Fail(detail) })
}

func (r *Reporter) apply(ctx context.Context, op string, fn func(*domain.IngestionTask) error) {
	if r == nil || r.store == nil || r.taskID == "" {
		return
	}
	if err := r.store.Update(ctx, r.taskID, fn); err != nil {
		r.log.Warn("Task progress write failed", "op", op, "error", err)
	}
}
