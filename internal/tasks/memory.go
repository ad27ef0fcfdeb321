package tasks

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/yungbote/docrag-backend/internal/domain"
)

// MemoryStore keeps tasks in process. Used by the CLI and tests.
type MemoryStore struct {
	mu    sync.Mutex
	tasks map[string]*domain.IngestionTask
	now   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tasks: make(map[string]*domain.IngestionTask), now: time.Now}
}

func (s *MemoryStore) Create(ctx context.Context, task *domain.IngestionTask) error {
	if task == nil || strings.TrimSpace(task.ID) == "" {
		return errTaskIDRequired
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[task.ID]; ok {
		return ErrTaskExists
	}
	s.tasks[task.ID] = cloneTask(task)
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*domain.IngestionTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	return cloneTask(t), nil
}

func (s *MemoryStore) Update(ctx context.Context, id string, fn func(*domain.IngestionTask) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return ErrTaskNotFound
	}
	next := cloneTask(t)
	if err := fn(next); err != nil {
		return err
	}
	next.UpdatedAt = s.now()
	s.tasks[id] = next
	return nil
}
