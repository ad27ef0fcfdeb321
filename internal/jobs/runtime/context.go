package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/yungbote/docrag-backend/internal/domain"
	"github.com/yungbote/docrag-backend/internal/jobs/queue"
	"github.com/yungbote/docrag-backend/internal/platform/ctxutil"
	"github.com/yungbote/docrag-backend/internal/platform/logger"
	"github.com/yungbote/docrag-backend/internal/tasks"
)

/*
Context is the execution handle for one dequeued job.
It wraps:
	- Ctx: bounded by the worker's per-job time limit
	- Job: the queue message being handled
	- Tasks: the task store the job reports into (may be nil for jobs that
	  carry no task id, e.g. inbox sync)
Handlers never write task state directly outside their reporter; terminal
failure of the job itself goes through Fail.
*/
type Context struct {
	Ctx   context.Context
	Job   queue.Job
	Tasks tasks.Store
	Log   *logger.Logger
}

type envelope struct {
	TraceID   string `json:"trace_id"`
	RequestID string `json:"request_id"`
}

/*
NewContext builds a Context and restores trace data carried in the payload so
logs written by the handler correlate with the request that enqueued it.
*/
func NewContext(ctx context.Context, job queue.Job, store tasks.Store, baseLog *logger.Logger) *Context {
	if baseLog == nil {
		baseLog = logger.NewNop()
	}
	c := &Context{
		Ctx:   ctxutil.Default(ctx),
		Job:   job,
		Tasks: store,
		Log:   baseLog.With("job_type", job.Type, "task_id", job.TaskID),
	}
	c.applyTraceData()
	return c
}

func (c *Context) applyTraceData() {
	if len(c.Job.Payload) == 0 {
		return
	}
	var env envelope
	if err := json.Unmarshal(c.Job.Payload, &env); err != nil {
		return
	}
	traceID := strings.TrimSpace(env.TraceID)
	reqID := strings.TrimSpace(env.RequestID)
	if traceID == "" && reqID == "" {
		return
	}
	c.Ctx = ctxutil.WithTraceData(c.Ctx, &ctxutil.TraceData{TraceID: traceID, RequestID: reqID})
	c.Log = c.Log.With("trace_id", traceID, "request_id", reqID)
}

// Decode unmarshals the job payload into v.
func (c *Context) Decode(v any) error {
	if len(c.Job.Payload) == 0 {
		return fmt.Errorf("job %s: empty payload", c.Job.Type)
	}
	if err := json.Unmarshal(c.Job.Payload, v); err != nil {
		return fmt.Errorf("job %s: decode payload: %w", c.Job.Type, err)
	}
	return nil
}

/*
Fail marks the job's task as failed with "<stage>: <err>".
A task that already reached a terminal state is left untouched; the
orchestrator records its own failures before returning.
*/
func (c *Context) Fail(stage string, err error) {
	if c == nil {
		return
	}
	msg := "unexpected error"
	if err != nil {
		msg = err.Error()
	}
	c.Log.Warn("Job failed", "stage", stage, "error", msg)
	if c.Tasks == nil || c.Job.TaskID == "" {
		return
	}
	detail := stage + ": " + msg
	uerr := c.Tasks.Update(context.WithoutCancel(c.Ctx), c.Job.TaskID, func(t *domain.IngestionTask) error {
		return t.Fail(detail)
	})
	if uerr != nil && !errors.Is(uerr, domain.ErrTaskTerminal) {
		c.Log.Error("Recording job failure failed", "error", uerr)
	}
}
