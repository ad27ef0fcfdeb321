// Package tasks persists ingestion task state so callers can poll it.
package tasks

import (
	"context"
	"errors"

	"github.com/yungbote/docrag-backend/internal/domain"
)

var (
	ErrTaskNotFound = errors.New("ingestion task not found")
	ErrTaskExists   = errors.New("ingestion task already exists")

	errTaskIDRequired = errors.New("ingestion task id required")
)

// Store holds ingestion tasks by id. Update loads the task, applies fn and
// persists the result only when fn returns nil; fn is expected to go through
// the domain lifecycle methods so illegal transitions surface as
// domain.ErrInvalidTransition or domain.ErrTaskTerminal.
type Store interface {
	Create(ctx context.Context, task *domain.IngestionTask) error
	Get(ctx context.Context, id string) (*domain.IngestionTask, error)
	Update(ctx context.Context, id string, fn func(*domain.IngestionTask) error) error
}

func cloneTask(t *domain.IngestionTask) *domain.IngestionTask {
	if t == nil {
		return nil
	}
	cp := *t
	return &cp
}
