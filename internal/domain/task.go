package domain

import (
	"errors"
	"fmt"
	"time"
)

// Stage is the fine-grained position of an ingestion run.
type Stage string

const (
	StageQueued     Stage = "queued"
	StageStarted    Stage = "started"
	StageChunking   Stage = "chunking"
	StageEmbedding  Stage = "embedding"
	StageIndexing   Stage = "indexing"
	StageFinalizing Stage = "finalizing"
	StageCompleted  Stage = "completed"
	StageFailed     Stage = "failed"
)

// TaskState is the coarse state reported to pollers.
type TaskState string

const (
	TaskQueued     TaskState = "queued"
	TaskStarted    TaskState = "started"
	TaskProcessing TaskState = "processing"
	TaskCompleted  TaskState = "completed"
	TaskFailed     TaskState = "failed"
)

var (
	ErrInvalidTransition = errors.New("invalid ingestion task transition")
	ErrTaskTerminal      = errors.New("ingestion task already terminal")
)

// embedding and indexing share a rank: the batch loop alternates them.
var stageRank = map[Stage]int{
	StageQueued:     0,
	StageStarted:    1,
	StageChunking:   2,
	StageEmbedding:  3,
	StageIndexing:   3,
	StageFinalizing: 4,
	StageCompleted:  5,
}

func (s Stage) Valid() bool {
	if s == StageFailed {
		return true
	}
	_, ok := stageRank[s]
	return ok
}

func (s Stage) Terminal() bool {
	return s == StageCompleted || s == StageFailed
}

// State maps a stage onto the pollable state.
func (s Stage) State() TaskState {
	switch s {
	case StageQueued, "":
		return TaskQueued
	case StageStarted:
		return TaskStarted
	case StageCompleted:
		return TaskCompleted
	case StageFailed:
		return TaskFailed
	default:
		return TaskProcessing
	}
}

// CanAdvance reports whether a run may move from one stage to another.
func CanAdvance(from, to Stage) bool {
	if from.Terminal() {
		return false
	}
	if to == StageFailed {
		return true
	}
	fr, ok := stageRank[from]
	if !ok {
		return false
	}
	tr, ok := stageRank[to]
	if !ok {
		return false
	}
	return tr >= fr
}

// IngestionTask is the persisted state of one ingestion request.
type IngestionTask struct {
	ID              string    `json:"task_id"`
	DocumentID      string    `json:"document_id"`
	Stage           Stage     `json:"stage"`
	Attempt         int       `json:"attempt"`
	TotalChunks     int       `json:"total_chunks"`
	ProcessedChunks int       `json:"processed_chunks"`
	Detail          string    `json:"detail,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func NewIngestionTask(id, documentID string, now time.Time) *IngestionTask {
	return &IngestionTask{
		ID:         id,
		DocumentID: documentID,
		Stage:      StageQueued,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func (t *IngestionTask) State() TaskState { return t.Stage.State() }

// Advance moves the task forward and records the processed count, which may
// not go backwards within an attempt.
func (t *IngestionTask) Advance(to Stage, processed int) error {
	if t.Stage.Terminal() {
		return ErrTaskTerminal
	}
	if to == StageFailed || !CanAdvance(t.Stage, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Stage, to)
	}
	if processed < t.ProcessedChunks {
		return fmt.Errorf("%w: processed %d -> %d", ErrInvalidTransition, t.ProcessedChunks, processed)
	}
	t.Stage = to
	t.ProcessedChunks = processed
	return nil
}

// SetTotal records the chunk count once chunking has finished.
func (t *IngestionTask) SetTotal(total int) error {
	if t.Stage.Terminal() {
		return ErrTaskTerminal
	}
	if total < 0 {
		return fmt.Errorf("%w: negative total %d", ErrInvalidTransition, total)
	}
	t.TotalChunks = total
	return nil
}

// Restart begins a new attempt. Only a retry may send a run back to started.
func (t *IngestionTask) Restart(attempt int) error {
	if t.Stage.Terminal() {
		return ErrTaskTerminal
	}
	if attempt <= t.Attempt {
		return fmt.Errorf("%w: attempt %d after %d", ErrInvalidTransition, attempt, t.Attempt)
	}
	t.Attempt = attempt
	t.Stage = StageStarted
	t.ProcessedChunks = 0
	t.TotalChunks = 0
	t.Detail = ""
	return nil
}

func (t *IngestionTask) Fail(detail string) error {
	if t.Stage.Terminal() {
		return ErrTaskTerminal
	}
	t.Stage = StageFailed
	t.Detail = detail
	return nil
}
