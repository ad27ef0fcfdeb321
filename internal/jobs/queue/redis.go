package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/docrag-backend/internal/platform/logger"
)

const defaultBlockTimeout = 2 * time.Second

type RedisQueueConfig struct {
	Key string
	// BlockTimeout bounds each BRPOP so Dequeue notices Close promptly.
	BlockTimeout time.Duration
}

// RedisQueue is a FIFO list: producers LPUSH, consumers BRPOP.
type RedisQueue struct {
	rdb          goredis.UniversalClient
	log          *logger.Logger
	key          string
	blockTimeout time.Duration
	closed       chan struct{}
	closeOnce    sync.Once
}

func NewRedisQueue(log *logger.Logger, rdb goredis.UniversalClient, cfg RedisQueueConfig) (*RedisQueue, error) {
	if rdb == nil {
		return nil, fmt.Errorf("redis client required")
	}
	if log == nil {
		log = logger.NewNop()
	}
	key := strings.TrimSpace(cfg.Key)
	if key == "" {
		key = DefaultRedisKey
	}
	bt := cfg.BlockTimeout
	if bt <= 0 {
		bt = defaultBlockTimeout
	}
	return &RedisQueue{
		rdb:          rdb,
		log:          log.With("component", "RedisJobQueue", "key", key),
		key:          key,
		blockTimeout: bt,
		closed:       make(chan struct{}),
	}, nil
}

func (q *RedisQueue) Enqueue(ctx context.Context, job Job) error {
	if q.isClosed() {
		return ErrQueueClosed
	}
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	return q.rdb.LPush(ctx, q.key, raw).Err()
}

func (q *RedisQueue) Dequeue(ctx context.Context) (Job, error) {
	for {
		if q.isClosed() {
			return Job{}, ErrQueueClosed
		}
		if err := ctx.Err(); err != nil {
			return Job{}, err
		}
		res, err := q.rdb.BRPop(ctx, q.blockTimeout, q.key).Result()
		if errors.Is(err, goredis.Nil) {
			continue
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Job{}, ctxErr
			}
			return Job{}, err
		}
		// res is [key, value]
		if len(res) != 2 {
			continue
		}
		var job Job
		if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
			q.log.Warn("Dropping undecodable job", "error", err)
			continue
		}
		return job, nil
	}
}

func (q *RedisQueue) Close() error {
	q.closeOnce.Do(func() { close(q.closed) })
	return nil
}

func (q *RedisQueue) isClosed() bool {
	select {
	case <-q.closed:
		return true
	default:
		return false
	}
}
