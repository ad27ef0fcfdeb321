package pipeline

import (
	"fmt"

	"github.com/yungbote/docrag-backend/internal/domain"
)

// RunError is returned once an ingestion has exhausted its attempts or was
// cancelled. Stage is where the last attempt stopped.
type RunError struct {
	TaskID     string
	DocumentID string
	Stage      domain.Stage
	Attempts   int
	Cause      error
}

func (e *RunError) Error() string {
	if e == nil {
		return "ingestion failed"
	}
	return fmt.Sprintf("ingestion of document %s failed at %s after %d attempt(s): %v", e.DocumentID, e.Stage, e.Attempts, e.Cause)
}

func (e *RunError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Detail is the human-readable failure stored on the task.
func (e *RunError) Detail() string {
	if e == nil {
		return ""
	}
	return failureDetail(e.Stage, e.Cause)
}

func failureDetail(stage domain.Stage, err error) string {
	if err == nil {
		return string(stage)
	}
	return fmt.Sprintf("%s: %v", stage, err)
}

// stageError tags an attempt failure with the stage it happened in.
type stageError struct {
	stage domain.Stage
	err   error
}

func (e *stageError) Error() string { return failureDetail(e.stage, e.err) }
func (e *stageError) Unwrap() error { return e.err }
