package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/docrag-backend/internal/platform/logger"
)

// DocumentLocker serializes ingestion runs that target the same document so
// the delete-then-write sequence of one run never interleaves with another.
type DocumentLocker interface {
	Lock(ctx context.Context, documentID string) (unlock func(), err error)
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

// MemoryLocker is a keyed mutex for single-process deployments.
type MemoryLocker struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{locks: map[string]*keyLock{}}
}

func (l *MemoryLocker) Lock(ctx context.Context, documentID string) (func(), error) {
	l.mu.Lock()
	kl := l.locks[documentID]
	if kl == nil {
		kl = &keyLock{ch: make(chan struct{}, 1)}
		l.locks[documentID] = kl
	}
	kl.refs++
	l.mu.Unlock()

	select {
	case kl.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(documentID, kl)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-kl.ch
			l.release(documentID, kl)
		})
	}, nil
}

func (l *MemoryLocker) release(documentID string, kl *keyLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	kl.refs--
	if kl.refs == 0 {
		delete(l.locks, documentID)
	}
}

var (
	unlockScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)
	extendScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)
)

type RedisLockerConfig struct {
	KeyPrefix    string
	TTL          time.Duration
	PollInterval time.Duration
}

// RedisLocker holds a lease (SET NX PX) per document and keeps it alive
// while the holder runs.
type RedisLocker struct {
	log *logger.Logger
	rdb goredis.UniversalClient
	cfg RedisLockerConfig
}

func NewRedisLocker(log *logger.Logger, rdb goredis.UniversalClient, cfg RedisLockerConfig) (*RedisLocker, error) {
	if rdb == nil {
		return nil, fmt.Errorf("redis client required")
	}
	if log == nil {
		log = logger.NewNop()
	}
	if strings.TrimSpace(cfg.KeyPrefix) == "" {
		cfg.KeyPrefix = "docrag:lock:document:"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 10 * time.Minute
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 200 * time.Millisecond
	}
	return &RedisLocker{log: log.With("component", "RedisDocumentLocker"), rdb: rdb, cfg: cfg}, nil
}

func (l *RedisLocker) Lock(ctx context.Context, documentID string) (func(), error) {
	key := l.cfg.KeyPrefix + documentID
	token := uuid.NewString()
	for {
		ok, err := l.rdb.SetNX(ctx, key, token, l.cfg.TTL).Result()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("acquire document lock: %w", err)
		}
		if ok {
			break
		}
		if err := sleepCtx(ctx, l.cfg.PollInterval); err != nil {
			return nil, err
		}
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go l.keepAlive(key, token, stop, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := unlockScript.Run(rctx, l.rdb, []string{key}, token).Err(); err != nil && !errors.Is(err, goredis.Nil) {
				l.log.Warn("release document lock failed", "key", key, "error", err)
			}
		})
	}, nil
}

func (l *RedisLocker) keepAlive(key, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	t := time.NewTicker(l.cfg.TTL / 3)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			n, err := extendScript.Run(ctx, l.rdb, []string{key}, token, l.cfg.TTL.Milliseconds()).Int()
			cancel()
			if err != nil {
				l.log.Warn("extend document lock failed", "key", key, "error", err)
				continue
			}
			if n == 0 {
				l.log.Warn("document lock lost", "key", key)
				return
			}
		}
	}
}
