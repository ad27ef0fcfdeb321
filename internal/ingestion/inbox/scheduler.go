package inbox

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/yungbote/docrag-backend/internal/jobs/queue"
	"github.com/yungbote/docrag-backend/internal/platform/logger"
)

const (
	SyncJobType             = "sync_ingestion_inbox"
	DefaultScheduleInterval = 300 * time.Second
)

// Scheduler periodically puts an inbox sync job on the queue so the scan
// runs on a worker.
type Scheduler struct {
	log      *logger.Logger
	queue    queue.Queue
	cron     *cron.Cron
	interval time.Duration
}

func NewScheduler(baseLog *logger.Logger, q queue.Queue, interval time.Duration) *Scheduler {
	if baseLog == nil {
		baseLog = logger.NewNop()
	}
	if interval <= 0 {
		interval = DefaultScheduleInterval
	}
	return &Scheduler{
		log:      baseLog.With("component", "InboxScheduler"),
		queue:    q,
		cron:     cron.New(cron.WithLocation(time.UTC)),
		interval: interval,
	}
}

func (s *Scheduler) Spec() string {
	return fmt.Sprintf("@every %s", s.interval)
}

func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.Spec(), func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.RunNow(ctx); err != nil {
			s.log.Error("Scheduling inbox sync failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("schedule inbox sync: %w", err)
	}
	s.cron.Start()
	s.log.Info("Inbox sync scheduler started", "schedule", s.Spec())
	return nil
}

// Stop halts the schedule and waits for a running trigger to return.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.log.Info("Inbox sync scheduler stopped")
}

// RunNow enqueues one sync job immediately.
func (s *Scheduler) RunNow(ctx context.Context) error {
	job, err := queue.NewJob(SyncJobType, "", nil)
	if err != nil {
		return err
	}
	return s.queue.Enqueue(ctx, job)
}
