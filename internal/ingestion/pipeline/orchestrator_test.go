package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/yungbote/docrag-backend/internal/domain"
	"github.com/yungbote/docrag-backend/internal/index"
	"github.com/yungbote/docrag-backend/internal/ingestion/indexwriter"
	"github.com/yungbote/docrag-backend/internal/platform/embedclient"
	"github.com/yungbote/docrag-backend/internal/platform/logger"
	"github.com/yungbote/docrag-backend/internal/platform/memindex"
)

type event struct {
	kind      string
	stage     domain.Stage
	processed int
	detail    string
}

type recordingReporter struct {
	mu     sync.Mutex
	events []event
}

func (r *recordingReporter) add(e event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingReporter) Restart(_ context.Context, attempt int) {
	r.add(event{kind: "restart", processed: attempt})
}

func (r *recordingReporter) Advance(_ context.Context, stage domain.Stage, processed int) {
	r.add(event{kind: "advance", stage: stage, processed: processed})
}

func (r *recordingReporter) SetTotal(_ context.Context, total int) {
	r.add(event{kind: "total", processed: total})
}

func (r *recordingReporter) Fail(_ context.Context, detail string) {
	r.add(event{kind: "fail", detail: detail})
}

func (r *recordingReporter) count(kind string) int {
	n := 0
	for _, e := range r.events {
		if e.kind == kind {
			n++
		}
	}
	return n
}

// applyTo replays the events onto a task so lifecycle rules are checked.
func (r *recordingReporter) applyTo(t *testing.T, task *domain.IngestionTask) {
	t.Helper()
	for _, e := range r.events {
		var err error
		switch e.kind {
		case "restart":
			err = task.Restart(e.processed)
		case "advance":
			err = task.Advance(e.stage, e.processed)
		case "total":
			err = task.SetTotal(e.processed)
		case "fail":
			err = task.Fail(e.detail)
		}
		if err != nil {
			t.Fatalf("replay %+v: %v", e, err)
		}
	}
}

type fakeEmbedder struct {
	mu       sync.Mutex
	calls    int
	failures int
	err      error
	short    bool
	onCall   func(call int)
}

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string, _ string) ([][]float32, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()
	if f.onCall != nil {
		f.onCall(call)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if call <= f.failures {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(len(texts[i])), 1}
	}
	if f.short {
		return out[:len(out)-1], nil
	}
	return out, nil
}

type harness struct {
	orch  *Orchestrator
	idx   *memindex.Index
	emb   *fakeEmbedder
	waits []time.Duration
}

func newHarness(t *testing.T, emb *fakeEmbedder, cfg Config) *harness {
	t.Helper()
	h := &harness{idx: memindex.New(), emb: emb}
	w := indexwriter.New(logger.NewNop(), h.idx, indexwriter.DefaultOptions())
	h.orch = New(logger.NewNop(), emb, w, nil, cfg)
	h.orch.sleep = func(ctx context.Context, d time.Duration) error {
		h.waits = append(h.waits, d)
		return ctx.Err()
	}
	return h
}

func TestIngestHappyPath(t *testing.T) {
	emb := &fakeEmbedder{}
	h := newHarness(t, emb, Config{ChunkSize: 2, ChunkOverlap: 0, EmbedBatchSize: 2})
	rep := &recordingReporter{}

	res, err := h.orch.Ingest(context.Background(), Request{
		TaskID:            "t-1",
		DocumentID:        "doc-1",
		Source:            "api",
		Text:              "one two three four five",
		Metadata:          domain.Metadata{"filename": "a.txt", "document_id": "spoofed"},
		AllowedPrincipals: []string{"group:eng", "group:eng"},
	}, rep)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if res.Chunks != 3 || res.Attempts != 1 {
		t.Fatalf("result: %+v", res)
	}
	if emb.calls != 2 {
		t.Fatalf("embed calls: want=2 got=%d", emb.calls)
	}
	if h.idx.Len() != 3 {
		t.Fatalf("indexed: want=3 got=%d", h.idx.Len())
	}

	task := domain.NewIngestionTask("t-1", "doc-1", time.Now())
	rep.applyTo(t, task)
	if task.Stage != domain.StageCompleted || task.ProcessedChunks != 3 || task.TotalChunks != 3 {
		t.Fatalf("final task: %+v", task)
	}

	hits, err := h.idx.SearchText(context.Background(), "five", index.SearchOptions{})
	if err != nil || len(hits) != 1 {
		t.Fatalf("search: hits=%d err=%v", len(hits), err)
	}
	meta := domain.DecodeMetadata(hits[0].Properties.Metadata)
	if meta["document_id"] != "doc-1" || meta["chunk_index"] != int64(2) || meta["filename"] != "a.txt" {
		t.Fatalf("metadata: got=%v", meta)
	}
	if got := hits[0].Properties.AllowedPrincipals; len(got) != 1 || got[0] != "group:eng" {
		t.Fatalf("principals: got=%v", got)
	}
}

func TestIngestDefaultsPublicPrincipal(t *testing.T) {
	h := newHarness(t, &fakeEmbedder{}, Config{})
	if _, err := h.orch.Ingest(context.Background(), Request{DocumentID: "doc-1", Text: "hello world"}, nil); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	f := index.ContainsAny(index.FieldAllowedPrincipals, []string{domain.DefaultPublicPrincipal})
	hits, _ := h.idx.SearchText(context.Background(), "hello", index.SearchOptions{Filter: &f})
	if len(hits) != 1 {
		t.Fatalf("public chunk not found")
	}
}

type recordingWriter struct {
	mu      sync.Mutex
	deletes []string
	batches [][]domain.DocumentChunk
}

func (w *recordingWriter) DeleteDocument(_ context.Context, documentID string) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.deletes = append(w.deletes, documentID)
	return 0, nil
}

func (w *recordingWriter) UpsertBatch(_ context.Context, chunks []domain.DocumentChunk, vectors [][]float32) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(chunks) != len(vectors) {
		return fmt.Errorf("chunks=%d vectors=%d", len(chunks), len(vectors))
	}
	cp := make([]domain.DocumentChunk, len(chunks))
	copy(cp, chunks)
	w.batches = append(w.batches, cp)
	return nil
}

func TestIngestEmptyTextSkipsEmbedderAndWriter(t *testing.T) {
	emb := &fakeEmbedder{}
	w := &recordingWriter{}
	orch := New(logger.NewNop(), emb, w, nil, Config{ChunkSize: 3})
	rep := &recordingReporter{}

	res, err := orch.Ingest(context.Background(), Request{TaskID: "t-1", DocumentID: "doc-1", Text: "   "}, rep)
	if err != nil {
		t.Fatalf("empty Ingest: %v", err)
	}
	if res.Chunks != 0 || res.Deleted != 0 {
		t.Fatalf("result: %+v", res)
	}
	if emb.calls != 0 {
		t.Fatalf("embed calls: want=0 got=%d", emb.calls)
	}
	if len(w.deletes) != 0 || len(w.batches) != 0 {
		t.Fatalf("writer calls: deletes=%v batches=%d", w.deletes, len(w.batches))
	}
	task := domain.NewIngestionTask("t-1", "doc-1", time.Now())
	rep.applyTo(t, task)
	if task.State() != domain.TaskCompleted || task.ProcessedChunks != 0 {
		t.Fatalf("final task: %+v", task)
	}
}

func TestIngestOverlappingWindowsEndToEnd(t *testing.T) {
	w := &recordingWriter{}
	orch := New(logger.NewNop(), &fakeEmbedder{}, w, nil, Config{})
	rep := &recordingReporter{}
	overlap := 1

	res, err := orch.Ingest(context.Background(), Request{
		TaskID:       "t-1",
		DocumentID:   "doc-1",
		Text:         "a b c d e f g h",
		ChunkSize:    3,
		ChunkOverlap: &overlap,
	}, rep)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if res.Chunks != 4 {
		t.Fatalf("chunks: want=4 got=%d", res.Chunks)
	}
	if len(w.deletes) != 1 || w.deletes[0] != "doc-1" {
		t.Fatalf("deletes: want=[doc-1] got=%v", w.deletes)
	}

	want := []string{"a b c", "c d e", "e f g", "g h"}
	var got []string
	seen := map[string]bool{}
	for _, batch := range w.batches {
		for _, c := range batch {
			got = append(got, c.Text)
			if c.ID == "" || seen[c.ID] {
				t.Fatalf("chunk id not unique: %q", c.ID)
			}
			seen[c.ID] = true
			if c.DocumentID != "doc-1" {
				t.Fatalf("document id: want=doc-1 got=%q", c.DocumentID)
			}
		}
	}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("chunks: want=%q got=%q", want, got)
	}

	task := domain.NewIngestionTask("t-1", "doc-1", time.Now())
	rep.applyTo(t, task)
	if task.State() != domain.TaskCompleted || task.ProcessedChunks != 4 || task.TotalChunks != 4 {
		t.Fatalf("final task: %+v", task)
	}
}

func TestIngestReplacesPriorGeneration(t *testing.T) {
	h := newHarness(t, &fakeEmbedder{}, Config{ChunkSize: 2})
	_, _ = h.orch.Ingest(context.Background(), Request{DocumentID: "doc-1", Text: "old old old old old old"}, nil)
	_, _ = h.orch.Ingest(context.Background(), Request{DocumentID: "doc-1", Text: "new text"}, nil)
	if h.idx.Len() != 1 {
		t.Fatalf("generations: want 1 chunk got=%d", h.idx.Len())
	}
	if hits, _ := h.idx.SearchText(context.Background(), "old", index.SearchOptions{}); len(hits) != 0 {
		t.Fatalf("stale chunks still searchable")
	}
}

func TestIngestRetriesWholeRun(t *testing.T) {
	emb := &fakeEmbedder{failures: 2, err: &embedclient.TransportError{Code: embedclient.TransportErrorBadStatus, Op: "embed", StatusCode: 503}}
	h := newHarness(t, emb, Config{ChunkSize: 2, Retry: RetryPolicy{MaxAttempts: 4, MinBackoff: time.Second, MaxBackoff: time.Minute}})
	rep := &recordingReporter{}
	res, err := h.orch.Ingest(context.Background(), Request{TaskID: "t", DocumentID: "doc-1", Text: "a b c"}, rep)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if res.Attempts != 3 || rep.count("restart") != 3 {
		t.Fatalf("attempts: result=%d restarts=%d", res.Attempts, rep.count("restart"))
	}
	if len(h.waits) != 2 {
		t.Fatalf("backoffs: want=2 got=%d", len(h.waits))
	}
	if h.waits[0] < 800*time.Millisecond || h.waits[0] > 1200*time.Millisecond {
		t.Fatalf("first backoff out of range: %s", h.waits[0])
	}
	if h.waits[1] < 1600*time.Millisecond || h.waits[1] > 2400*time.Millisecond {
		t.Fatalf("second backoff out of range: %s", h.waits[1])
	}
	task := domain.NewIngestionTask("t", "doc-1", time.Now())
	rep.applyTo(t, task)
	if task.Stage != domain.StageCompleted || task.Attempt != 3 {
		t.Fatalf("final task: %+v", task)
	}
}

func TestIngestExhaustionFailsWithStageDetail(t *testing.T) {
	emb := &fakeEmbedder{failures: 100, err: errors.New("embedding service down")}
	h := newHarness(t, emb, Config{ChunkSize: 2})
	rep := &recordingReporter{}
	_, err := h.orch.Ingest(context.Background(), Request{TaskID: "t", DocumentID: "doc-1", Text: "a b c"}, rep)
	var runErr *RunError
	if !errors.As(err, &runErr) {
		t.Fatalf("expected RunError, got=%T (%v)", err, err)
	}
	if runErr.Attempts != 4 || runErr.Stage != domain.StageEmbedding {
		t.Fatalf("run error: %+v", runErr)
	}
	if emb.calls != 4 {
		t.Fatalf("embed calls: want=4 got=%d", emb.calls)
	}
	if rep.count("fail") != 1 {
		t.Fatalf("fail reports: want=1 got=%d", rep.count("fail"))
	}
	last := rep.events[len(rep.events)-1]
	if last.detail != "embedding: embedding service down" {
		t.Fatalf("detail: got=%q", last.detail)
	}
	task := domain.NewIngestionTask("t", "doc-1", time.Now())
	rep.applyTo(t, task)
	if task.State() != domain.TaskFailed {
		t.Fatalf("state: want failed got=%s", task.State())
	}
}

func TestIngestShortEmbeddingIsTransportError(t *testing.T) {
	h := newHarness(t, &fakeEmbedder{short: true}, Config{ChunkSize: 1, Retry: RetryPolicy{MaxAttempts: 1}})
	_, err := h.orch.Ingest(context.Background(), Request{DocumentID: "doc-1", Text: "a b"}, nil)
	var te *embedclient.TransportError
	if !errors.As(err, &te) || te.Code != embedclient.TransportErrorShapeMismatch {
		t.Fatalf("expected shape mismatch TransportError, got=%v", err)
	}
	if h.idx.Len() != 0 {
		t.Fatalf("nothing should be written: %d", h.idx.Len())
	}
}

func TestIngestCancellationStopsWithoutRetry(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	emb := &fakeEmbedder{onCall: func(call int) {
		if call == 1 {
			cancel()
		}
	}}
	h := newHarness(t, emb, Config{ChunkSize: 1, EmbedBatchSize: 1})
	rep := &recordingReporter{}
	res, err := h.orch.Ingest(ctx, Request{DocumentID: "doc-1", Text: "a b c d"}, rep)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got=%v", err)
	}
	if res.Attempts != 1 || emb.calls != 1 {
		t.Fatalf("attempts=%d embed calls=%d", res.Attempts, emb.calls)
	}
	if len(h.waits) != 0 {
		t.Fatalf("cancelled run must not back off")
	}
	last := rep.events[len(rep.events)-1]
	if last.kind != "fail" || !strings.HasPrefix(last.detail, "embedding: ") {
		t.Fatalf("last event: %+v", last)
	}
}

func TestIngestRequiresDocumentID(t *testing.T) {
	h := newHarness(t, &fakeEmbedder{}, Config{})
	_, err := h.orch.Ingest(context.Background(), Request{Text: "x"}, nil)
	var runErr *RunError
	if !errors.As(err, &runErr) {
		t.Fatalf("expected RunError, got=%v", err)
	}
}

func TestIngestSerializesSameDocument(t *testing.T) {
	var mu sync.Mutex
	active, maxActive := 0, 0
	emb := &fakeEmbedder{onCall: func(int) {
		mu.Lock()
		active++
		if active > maxActive {
			maxActive = active
		}
		mu.Unlock()
		time.Sleep(5 * time.Millisecond)
		mu.Lock()
		active--
		mu.Unlock()
	}}
	h := newHarness(t, emb, Config{ChunkSize: 1, EmbedBatchSize: 1})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := h.orch.Ingest(context.Background(), Request{DocumentID: "doc-1", Text: fmt.Sprintf("v%d a b", i)}, nil)
			if err != nil {
				t.Errorf("Ingest: %v", err)
			}
		}(i)
	}
	wg.Wait()
	if maxActive != 1 {
		t.Fatalf("concurrent runs for one document: max=%d", maxActive)
	}
	if h.idx.Len() != 3 {
		t.Fatalf("exactly one generation should remain: got=%d", h.idx.Len())
	}
}

func TestComputeBackoff(t *testing.T) {
	p := RetryPolicy{MinBackoff: time.Second, MaxBackoff: 5 * time.Second, JitterFrac: 0}
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}
	for i, w := range want {
		if got := computeBackoff(p, i+1); got != w {
			t.Fatalf("attempt %d: want=%s got=%s", i+1, w, got)
		}
	}
	if !shouldRetry(RetryPolicy{MaxAttempts: 2}, 1, errors.New("x")) || shouldRetry(RetryPolicy{MaxAttempts: 2}, 2, errors.New("x")) {
		t.Fatalf("shouldRetry bounds")
	}
}
