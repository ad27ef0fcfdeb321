package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yungbote/docrag-backend/internal/domain"
	"github.com/yungbote/docrag-backend/internal/platform/logger"
)

const maxUpdateConflicts = 8

// IngestionTaskRow is the persisted form of a task. Result mirrors the full
// task snapshot so the row can be read without the domain package.
type IngestionTaskRow struct {
	ID              string         `gorm:"column:id;type:varchar(64);primaryKey" json:"task_id"`
	DocumentID      string         `gorm:"column:document_id;type:varchar(255);not null;index" json:"document_id"`
	Stage           string         `gorm:"column:stage;type:varchar(32);not null;index" json:"stage"`
	Attempt         int            `gorm:"column:attempt;not null;default:0" json:"attempt"`
	TotalChunks     int            `gorm:"column:total_chunks;not null;default:0" json:"total_chunks"`
	ProcessedChunks int            `gorm:"column:processed_chunks;not null;default:0" json:"processed_chunks"`
	Detail          string         `gorm:"column:detail;type:text" json:"detail,omitempty"`
	Result          datatypes.JSON `gorm:"column:result" json:"result,omitempty"`
	Version         int64          `gorm:"column:version;not null;default:0" json:"-"`
	CreatedAt       time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt       time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (IngestionTaskRow) TableName() string { return "ingestion_task" }

func rowFromTask(t *domain.IngestionTask) (*IngestionTaskRow, error) {
	snapshot, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("encode task snapshot: %w", err)
	}
	return &IngestionTaskRow{
		ID:              t.ID,
		DocumentID:      t.DocumentID,
		Stage:           string(t.Stage),
		Attempt:         t.Attempt,
		TotalChunks:     t.TotalChunks,
		ProcessedChunks: t.ProcessedChunks,
		Detail:          t.Detail,
		Result:          datatypes.JSON(snapshot),
		CreatedAt:       t.CreatedAt,
		UpdatedAt:       t.UpdatedAt,
	}, nil
}

func (r *IngestionTaskRow) task() *domain.IngestionTask {
	return &domain.IngestionTask{
		ID:              r.ID,
		DocumentID:      r.DocumentID,
		Stage:           domain.Stage(r.Stage),
		Attempt:         r.Attempt,
		TotalChunks:     r.TotalChunks,
		ProcessedChunks: r.ProcessedChunks,
		Detail:          r.Detail,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
}

// GormStore keeps tasks in the ingestion_task table. Updates are guarded by
// a row version so concurrent writers never interleave a read-modify-write.
type GormStore struct {
	db  *gorm.DB
	log *logger.Logger
	now func() time.Time
}

func NewGormStore(db *gorm.DB, baseLog *logger.Logger) *GormStore {
	if baseLog == nil {
		baseLog = logger.NewNop()
	}
	return &GormStore{
		db:  db,
		log: baseLog.With("repo", "IngestionTaskStore"),
		now: time.Now,
	}
}

// AutoMigrate creates or updates the ingestion_task table.
func (s *GormStore) AutoMigrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&IngestionTaskRow{})
}

func (s *GormStore) Create(ctx context.Context, task *domain.IngestionTask) error {
	if task == nil || strings.TrimSpace(task.ID) == "" {
		return errTaskIDRequired
	}
	row, err := rowFromTask(task)
	if err != nil {
		return err
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(row)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrTaskExists
	}
	return nil
}

func (s *GormStore) Get(ctx context.Context, id string) (*domain.IngestionTask, error) {
	row, err := s.load(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	return row.task(), nil
}

func (s *GormStore) Update(ctx context.Context, id string, fn func(*domain.IngestionTask) error) error {
	for i := 0; i < maxUpdateConflicts; i++ {
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			row, err := s.load(ctx, tx, id)
			if err != nil {
				return err
			}
			t := row.task()
			if err := fn(t); err != nil {
				return err
			}
			t.UpdatedAt = s.now()
			next, err := rowFromTask(t)
			if err != nil {
				return err
			}
			res := tx.Model(&IngestionTaskRow{}).
				Where("id = ? AND version = ?", id, row.Version).
				Updates(map[string]interface{}{
					"stage":            next.Stage,
					"attempt":          next.Attempt,
					"total_chunks":     next.TotalChunks,
					"processed_chunks": next.ProcessedChunks,
					"detail":           next.Detail,
					"result":           next.Result,
					"version":          row.Version + 1,
					"updated_at":       next.UpdatedAt,
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return errVersionConflict
			}
			return nil
		})
		if errors.Is(err, errVersionConflict) {
			s.log.Debug("Task update conflict, retrying", "task_id", id, "try", i+1)
			continue
		}
		return err
	}
	return fmt.Errorf("update task %s: %w", id, errVersionConflict)
}

var errVersionConflict = errors.New("ingestion task modified concurrently")

func (s *GormStore) load(ctx context.Context, tx *gorm.DB, id string) (*IngestionTaskRow, error) {
	var row IngestionTaskRow
	err := tx.WithContext(ctx).Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}
