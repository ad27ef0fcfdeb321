package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/docrag-backend/internal/domain"
	"github.com/yungbote/docrag-backend/internal/platform/logger"
)

const (
	DefaultRedisKeyPrefix = "docrag:task:"
	DefaultResultTTL      = 24 * time.Hour
)

type RedisStoreConfig struct {
	KeyPrefix string
	// TTL is the retention window of a task, refreshed on every write.
	TTL time.Duration
}

// RedisStore keeps one JSON value per task with a retention TTL.
type RedisStore struct {
	rdb    goredis.UniversalClient
	log    *logger.Logger
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

func NewRedisStore(log *logger.Logger, rdb goredis.UniversalClient, cfg RedisStoreConfig) (*RedisStore, error) {
	if rdb == nil {
		return nil, fmt.Errorf("redis client required")
	}
	if log == nil {
		log = logger.NewNop()
	}
	prefix := strings.TrimSpace(cfg.KeyPrefix)
	if prefix == "" {
		prefix = DefaultRedisKeyPrefix
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultResultTTL
	}
	return &RedisStore{
		rdb:    rdb,
		log:    log.With("repo", "RedisTaskStore"),
		prefix: prefix,
		ttl:    ttl,
		now:    time.Now,
	}, nil
}

func (s *RedisStore) key(id string) string { return s.prefix + id }

func (s *RedisStore) Create(ctx context.Context, task *domain.IngestionTask) error {
	if task == nil || strings.TrimSpace(task.ID) == "" {
		return errTaskIDRequired
	}
	raw, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}
	ok, err := s.rdb.SetNX(ctx, s.key(task.ID), raw, s.ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrTaskExists
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*domain.IngestionTask, error) {
	raw, err := s.rdb.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeTask(raw)
}

func (s *RedisStore) Update(ctx context.Context, id string, fn func(*domain.IngestionTask) error) error {
	key := s.key(id)
	txf := func(tx *goredis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, goredis.Nil) {
			return ErrTaskNotFound
		}
		if err != nil {
			return err
		}
		t, err := decodeTask(raw)
		if err != nil {
			return err
		}
		if err := fn(t); err != nil {
			return err
		}
		t.UpdatedAt = s.now()
		out, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("encode task: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, key, out, s.ttl)
			return nil
		})
		return err
	}
	for i := 0; i < maxUpdateConflicts; i++ {
		err := s.rdb.Watch(ctx, txf, key)
		if errors.Is(err, goredis.TxFailedErr) {
			s.log.Debug("Task update conflict, retrying", "task_id", id, "try", i+1)
			continue
		}
		return err
	}
	return fmt.Errorf("update task %s: %w", id, errVersionConflict)
}

func decodeTask(raw []byte) (*domain.IngestionTask, error) {
	var t domain.IngestionTask
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("decode task: %w", err)
	}
	return &t, nil
}
