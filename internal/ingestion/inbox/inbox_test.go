package inbox

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/yungbote/docrag-backend/internal/jobs/queue"
	"github.com/yungbote/docrag-backend/internal/platform/logger"
	"github.com/yungbote/docrag-backend/internal/services"
)

type fakeEnqueuer struct {
	mu    sync.Mutex
	calls []services.IngestInput
	err   error
}

func (f *fakeEnqueuer) Enqueue(_ context.Context, in services.IngestInput) (services.EnqueueResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return services.EnqueueResult{}, f.err
	}
	f.calls = append(f.calls, in)
	return services.EnqueueResult{DocumentID: in.DocumentID, TaskID: "t-" + in.DocumentID}, nil
}

func (f *fakeEnqueuer) snapshot() []services.IngestInput {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]services.IngestInput(nil), f.calls...)
}

func newTestSyncer(t *testing.T, enq Enqueuer) (*Syncer, string, string) {
	t.Helper()
	root := t.TempDir()
	cfg := Config{WatchPath: filepath.Join(root, "inbox"), ProcessedPath: filepath.Join(root, "processed")}
	s, err := NewSyncer(logger.NewNop(), enq, cfg)
	if err != nil {
		t.Fatalf("NewSyncer: %v", err)
	}
	if err := s.EnsurePaths(); err != nil {
		t.Fatalf("EnsurePaths: %v", err)
	}
	return s, cfg.WatchPath, cfg.ProcessedPath
}

func writeFile(t *testing.T, dir, name string, data []byte) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestSyncQueuesTextFilesInOrder(t *testing.T) {
	enq := &fakeEnqueuer{}
	s, inbox, processed := newTestSyncer(t, enq)
	writeFile(t, inbox, "b.txt", []byte("second"))
	writeFile(t, inbox, "a.txt", []byte("first"))
	writeFile(t, inbox, "image.png", []byte{0x89, 0x50})
	writeFile(t, inbox, "broken.txt", []byte{0xff, 0xfe, 0xfd})

	n, err := s.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if n != 2 {
		t.Fatalf("queued: want=2 got=%d", n)
	}
	calls := enq.snapshot()
	if calls[0].DocumentID != "a" || calls[1].DocumentID != "b" {
		t.Fatalf("order: got=%s,%s", calls[0].DocumentID, calls[1].DocumentID)
	}
	if calls[0].Source != Source || calls[0].Text != "first" {
		t.Fatalf("input: %+v", calls[0])
	}
	if !reflect.DeepEqual(map[string]any(calls[0].Metadata), map[string]any{"filename": "a.txt"}) {
		t.Fatalf("metadata: got=%v", calls[0].Metadata)
	}

	for _, name := range []string{"a.txt", "b.txt"} {
		if _, err := os.Stat(filepath.Join(processed, name)); err != nil {
			t.Fatalf("%s not moved: %v", name, err)
		}
	}
	for _, name := range []string{"broken.txt", "image.png"} {
		if _, err := os.Stat(filepath.Join(inbox, name)); err != nil {
			t.Fatalf("%s should stay in inbox: %v", name, err)
		}
	}

	n, err = s.Sync(context.Background())
	if err != nil || n != 0 {
		t.Fatalf("second sync: n=%d err=%v", n, err)
	}
}

func TestSyncKeepsFileWhenEnqueueFails(t *testing.T) {
	enq := &fakeEnqueuer{err: errors.New("queue down")}
	s, inbox, _ := newTestSyncer(t, enq)
	writeFile(t, inbox, "a.txt", []byte("first"))

	n, err := s.Sync(context.Background())
	if err == nil || n != 0 {
		t.Fatalf("Sync: n=%d err=%v", n, err)
	}
	if _, err := os.Stat(filepath.Join(inbox, "a.txt")); err != nil {
		t.Fatalf("file should stay in inbox: %v", err)
	}
}

func TestSchedulerEnqueuesSyncJob(t *testing.T) {
	q := queue.NewChannelQueue(2)
	s := NewScheduler(logger.NewNop(), q, 0)
	if s.Spec() != "@every 5m0s" {
		t.Fatalf("spec: got=%q", s.Spec())
	}
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	if err := s.RunNow(context.Background()); err != nil {
		t.Fatalf("RunNow: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	job, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if job.Type != SyncJobType || job.TaskID != "" {
		t.Fatalf("job: %+v", job)
	}
}

func TestWatcherQueuesNewFiles(t *testing.T) {
	enq := &fakeEnqueuer{}
	s, inbox, processed := newTestSyncer(t, enq)
	w := NewWatcher(logger.NewNop(), s)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	// Give the watcher time to register before the file appears.
	time.Sleep(50 * time.Millisecond)
	tmp := filepath.Join(t.TempDir(), "notes.txt")
	if err := os.WriteFile(tmp, []byte("hello inbox"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.Rename(tmp, filepath.Join(inbox, "notes.txt")); err != nil {
		// t.TempDir may live on another filesystem; fall back to a direct write.
		writeFile(t, inbox, "notes.txt", []byte("hello inbox"))
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(filepath.Join(processed, "notes.txt")); err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	calls := enq.snapshot()
	if len(calls) != 1 || calls[0].DocumentID != "notes" || calls[0].Text != "hello inbox" {
		t.Fatalf("calls: %+v", calls)
	}
}
