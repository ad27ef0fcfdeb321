package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/yungbote/docrag-backend/internal/domain"
	"github.com/yungbote/docrag-backend/internal/ingestion/extractor"
	"github.com/yungbote/docrag-backend/internal/platform/logger"
	"github.com/yungbote/docrag-backend/internal/services"
)

// keywordEmbedder scores texts on two axes so vacation and payroll text land
// far apart.
func keywordEmbedder(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/embed" {
			http.NotFound(w, r)
			return
		}
		var req struct {
			Texts []string `json:"texts"`
			Model string   `json:"model"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		out := make([][]float32, 0, len(req.Texts))
		for _, text := range req.Texts {
			lower := strings.ToLower(text)
			v := []float32{0.01, 0.01}
			if strings.Contains(lower, "vacation") {
				v[0] = 1
			}
			if strings.Contains(lower, "salary") {
				v[1] = 1
			}
			out = append(out, v)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"embeddings": out, "model": req.Model})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T, embedURL string) Config {
	t.Helper()
	cfg := defaultConfig()
	cfg.VectorProvider = VectorProviderMemory
	cfg.TaskStore = TaskStoreMemory
	cfg.EmbeddingServiceURL = embedURL
	cfg.WatchPath = filepath.Join(t.TempDir(), "inbox")
	cfg.ProcessedPath = filepath.Join(t.TempDir(), "processed")
	cfg.ScheduleInterval = 0
	cfg.MaxAttempts = 1
	cfg.WorkerConcurrency = 1
	return cfg
}

func buildTestApp(t *testing.T, cfg Config) *App {
	t.Helper()
	a, err := Build(context.Background(), logger.NewNop(), cfg)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(a.Close)
	return a
}

func TestIngestFileThenRetrieve(t *testing.T) {
	a := buildTestApp(t, testConfig(t, keywordEmbedder(t).URL))
	ctx := context.Background()

	dir := t.TempDir()
	for name, text := range map[string]string{
		"handbook.txt": "Vacation policy: ask your manager two weeks ahead.",
		"payroll.txt":  "Salary is paid on the last business day.",
	} {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
		res, st, err := a.IngestFile(ctx, path, nil)
		if err != nil {
			t.Fatalf("IngestFile(%s): %v", name, err)
		}
		if res.Chunks != 1 || st.State != domain.TaskCompleted {
			t.Fatalf("%s: result=%+v status=%+v", name, res, st)
		}
	}

	chunks, err := a.Retrieval.Retrieve(ctx, "how many vacation days", 1, nil, nil)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(chunks) != 1 || chunks[0].DocumentID != "handbook" || chunks[0].Source != CLISource {
		t.Fatalf("chunks: %+v", chunks)
	}
	if chunks[0].Metadata["filename"] != "handbook.txt" {
		t.Fatalf("metadata: %v", chunks[0].Metadata)
	}

	// Filters are on, so a caller without the document's principal sees nothing.
	restricted := filepath.Join(dir, "secret.txt")
	_ = os.WriteFile(restricted, []byte("Vacation for executives."), 0o644)
	if _, _, err := a.IngestFile(ctx, restricted, []string{"group:exec"}); err != nil {
		t.Fatalf("IngestFile: %v", err)
	}
	chunks, _ = a.Retrieval.Retrieve(ctx, "vacation", 5, []string{"user:1"}, nil)
	if len(chunks) != 0 {
		t.Fatalf("principal filter leaked: %+v", chunks)
	}
	chunks, _ = a.Retrieval.Retrieve(ctx, "vacation", 5, []string{"group:exec"}, nil)
	if len(chunks) != 1 || chunks[0].DocumentID != "secret" {
		t.Fatalf("exec view: %+v", chunks)
	}
}

func TestIngestFileRejectsUnsupportedType(t *testing.T) {
	a := buildTestApp(t, testConfig(t, keywordEmbedder(t).URL))
	path := filepath.Join(t.TempDir(), "blob.exe")
	_ = os.WriteFile(path, []byte{0xff, 0xfe}, 0o644)
	_, _, err := a.IngestFile(context.Background(), path, nil)
	var exErr *extractor.Error
	if !errors.As(err, &exErr) || !exErr.Unsupported() {
		t.Fatalf("want unsupported file type got=%v", err)
	}
}

func TestIngestFileDecodesLatin1(t *testing.T) {
	a := buildTestApp(t, testConfig(t, keywordEmbedder(t).URL))
	path := filepath.Join(t.TempDir(), "menu.txt")
	_ = os.WriteFile(path, []byte{'c', 'a', 'f', 0xE9, ' ', 'o', 'p', 'e', 'n'}, 0o644)
	res, _, err := a.IngestFile(context.Background(), path, nil)
	if err != nil {
		t.Fatalf("IngestFile: %v", err)
	}
	if res.DocumentID != "menu" || res.Chunks != 1 {
		t.Fatalf("result: want=menu/1 got=%q/%d", res.DocumentID, res.Chunks)
	}
}

func TestWorkerProcessesQueuedDocument(t *testing.T) {
	a := buildTestApp(t, testConfig(t, keywordEmbedder(t).URL))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.RunWorker(ctx) }()
	defer func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("RunWorker: %v", err)
		}
	}()

	res, err := a.Ingestion.Enqueue(ctx, services.IngestInput{DocumentID: "faq", Text: "Vacation requests go through the portal."})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for {
		st, err := a.Ingestion.Status(ctx, res.TaskID)
		if err != nil {
			t.Fatalf("Status: %v", err)
		}
		if st.State == domain.TaskCompleted {
			if st.TotalChunks != 1 || st.ProcessedChunks != 1 {
				t.Fatalf("status: %+v", st)
			}
			break
		}
		if st.State == domain.TaskFailed || time.Now().After(deadline) {
			t.Fatalf("task did not complete: %+v", st)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestEnsureSchemaMemoryProvider(t *testing.T) {
	a := buildTestApp(t, testConfig(t, keywordEmbedder(t).URL))
	if err := a.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
}

func TestBuildRejectsBadVectorConfig(t *testing.T) {
	cfg := testConfig(t, "http://embed.local")
	cfg.VectorProvider = VectorProviderQdrant
	cfg.QdrantURL = "qdrant:6333"
	_, err := Build(context.Background(), logger.NewNop(), cfg)
	var be *VectorProviderBootstrapError
	if !errors.As(err, &be) || be.Code != VectorProviderBootstrapErrorInvalidURL || be.Provider != VectorProviderQdrant {
		t.Fatalf("want invalid_url bootstrap error, got=%v", err)
	}
}

func TestBuildWithSQLiteTaskStore(t *testing.T) {
	cfg := testConfig(t, keywordEmbedder(t).URL)
	cfg.TaskStore = TaskStoreSQLite
	cfg.SQLitePath = filepath.Join(t.TempDir(), "tasks.db")
	a := buildTestApp(t, cfg)
	if a.DB == nil {
		t.Fatalf("sqlite store should open a database")
	}
	res, err := a.Ingestion.Enqueue(context.Background(), services.IngestInput{Text: "hello"})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	st, err := a.Ingestion.Status(context.Background(), res.TaskID)
	if err != nil || st.State != domain.TaskQueued {
		t.Fatalf("status: %+v err=%v", st, err)
	}
}
