package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"testing"

	"github.com/yungbote/docrag-backend/internal/index"
	"github.com/yungbote/docrag-backend/internal/platform/logger"
	"github.com/yungbote/docrag-backend/internal/platform/vectorhttp"
)

func TestIndexUpsertRequestShape(t *testing.T) {
	var captured map[string]any
	x := newTestIndex(t, func(r *http.Request) (*http.Response, error) {
		if r.Method != http.MethodPut {
			t.Fatalf("method: want=%s got=%s", http.MethodPut, r.Method)
		}
		if r.URL.Path != "/collections/docrag/points" || r.URL.RawQuery != "wait=true" {
			t.Fatalf("url: got=%s", r.URL)
		}
		if r.Header.Get("api-key") != "k" {
			t.Fatalf("api-key header missing")
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		return okResponse(t, map[string]any{"status": "acknowledged"}), nil
	})

	err := x.Upsert(context.Background(), []index.Object{
		{ID: "chunk-1", Vector: []float32{1, 2, 3}, Properties: index.Properties{ChunkID: "chunk-1", DocumentID: "doc-1", AllowedPrincipals: []string{"public"}}},
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	points, ok := captured["points"].([]any)
	if !ok || len(points) != 1 {
		t.Fatalf("points: got=%v", captured["points"])
	}
	first := points[0].(map[string]any)
	if first["id"] != PointID("chunk-1") {
		t.Fatalf("point id mismatch: got=%v", first["id"])
	}
	payload := first["payload"].(map[string]any)
	if payload[index.FieldDocumentID] != "doc-1" || payload[index.FieldChunkID] != "chunk-1" {
		t.Fatalf("payload: got=%v", payload)
	}
}

func TestIndexUpsertDimensionMismatch(t *testing.T) {
	x := newTestIndex(t, func(*http.Request) (*http.Response, error) {
		t.Fatalf("no request expected")
		return nil, nil
	})
	err := x.Upsert(context.Background(), []index.Object{{ID: "a", Vector: []float32{1}}})
	var opErr *vectorhttp.OperationError
	if !errors.As(err, &opErr) || opErr.Code != vectorhttp.OperationErrorValidation {
		t.Fatalf("expected validation error, got=%v", err)
	}
}

func TestIndexDeleteWhereCountsThenDeletes(t *testing.T) {
	var paths []string
	var deleteBody map[string]any
	x := newTestIndex(t, func(r *http.Request) (*http.Response, error) {
		paths = append(paths, r.URL.Path)
		switch r.URL.Path {
		case "/collections/docrag/points/count":
			return okResponse(t, map[string]any{"count": 7}), nil
		case "/collections/docrag/points/delete":
			_ = json.NewDecoder(r.Body).Decode(&deleteBody)
			return okResponse(t, map[string]any{"status": "completed"}), nil
		}
		t.Fatalf("unexpected path %s", r.URL.Path)
		return nil, nil
	})
	n, err := x.DeleteWhere(context.Background(), index.Equal(index.FieldDocumentID, "doc-1"))
	if err != nil || n != 7 {
		t.Fatalf("DeleteWhere: n=%d err=%v", n, err)
	}
	if len(paths) != 2 {
		t.Fatalf("calls: %v", paths)
	}
	must := deleteBody["filter"].(map[string]any)["must"].([]any)
	cond := must[0].(map[string]any)
	if cond["key"] != index.FieldDocumentID || cond["match"].(map[string]any)["value"] != "doc-1" {
		t.Fatalf("delete filter: %v", deleteBody)
	}
}

func TestIndexDeleteWhereSkipsEmptyMatch(t *testing.T) {
	calls := 0
	x := newTestIndex(t, func(r *http.Request) (*http.Response, error) {
		calls++
		return okResponse(t, map[string]any{"count": 0}), nil
	})
	n, err := x.DeleteWhere(context.Background(), index.Equal(index.FieldDocumentID, "doc-1"))
	if err != nil || n != 0 || calls != 1 {
		t.Fatalf("DeleteWhere: n=%d err=%v calls=%d", n, err, calls)
	}
}

func TestIndexSearchVectorScoresAndFilter(t *testing.T) {
	var captured map[string]any
	x := newTestIndex(t, func(r *http.Request) (*http.Response, error) {
		if r.URL.Path != "/collections/docrag/points/search" {
			t.Fatalf("path: got=%q", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&captured)
		return okResponse(t, []map[string]any{
			{"id": "p-1", "score": 0.8, "payload": map[string]any{"chunk_id": "c-1", "text": "hello", "allowed_principals": []any{"public"}}},
			{"id": 42, "score": -0.2, "payload": map[string]any{"text": "bye"}},
		}), nil
	})
	f := index.And(index.Equal(index.FieldSource, "api"), index.ContainsAny(index.FieldAllowedPrincipals, []string{"public", "user:1"}))
	hits, err := x.SearchVector(context.Background(), []float32{1, 2, 3}, index.SearchOptions{Limit: 2, Filter: &f})
	if err != nil {
		t.Fatalf("SearchVector: %v", err)
	}
	if captured["limit"] != float64(2) {
		t.Fatalf("limit: got=%v", captured["limit"])
	}
	must := captured["filter"].(map[string]any)["must"].([]any)
	if len(must) != 2 {
		t.Fatalf("must: got=%v", must)
	}
	anyVals := must[1].(map[string]any)["match"].(map[string]any)["any"].([]any)
	if len(anyVals) != 2 {
		t.Fatalf("contains any: got=%v", anyVals)
	}
	if len(hits) != 2 {
		t.Fatalf("hits: %d", len(hits))
	}
	if hits[0].ObjectID != "p-1" || hits[0].Properties.ChunkID != "c-1" || !near(*hits[0].Certainty, 0.9) || hits[0].Distance != nil {
		t.Fatalf("first hit: %+v", hits[0])
	}
	if hits[1].ObjectID != "42" || !near(*hits[1].Certainty, 0.4) {
		t.Fatalf("second hit: %+v certainty=%v", hits[1], *hits[1].Certainty)
	}
}

func TestIndexSearchTextScrollHasNoScore(t *testing.T) {
	var captured map[string]any
	x := newTestIndex(t, func(r *http.Request) (*http.Response, error) {
		if r.URL.Path != "/collections/docrag/points/scroll" {
			t.Fatalf("path: got=%q", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&captured)
		return okResponse(t, map[string]any{"points": []map[string]any{
			{"id": "p-1", "payload": map[string]any{"chunk_id": "c-1", "text": "solar power"}},
		}}), nil
	})
	f := index.ContainsAny(index.FieldAllowedPrincipals, []string{"public"})
	hits, err := x.SearchText(context.Background(), "solar", index.SearchOptions{Filter: &f})
	if err != nil {
		t.Fatalf("SearchText: %v", err)
	}
	must := captured["filter"].(map[string]any)["must"].([]any)
	text := must[0].(map[string]any)
	if text["key"] != index.FieldText || text["match"].(map[string]any)["text"] != "solar" {
		t.Fatalf("text condition: %v", text)
	}
	if len(must) != 2 {
		t.Fatalf("acl condition missing: %v", must)
	}
	if len(hits) != 1 || hits[0].Certainty != nil || hits[0].Distance != nil {
		t.Fatalf("hits: %+v", hits)
	}
}

func TestIndexEnvelopeStatusError(t *testing.T) {
	x := newTestIndex(t, func(*http.Request) (*http.Response, error) {
		raw := []byte(`{"result":null,"status":{"error":"collection not ready"}}`)
		return &http.Response{StatusCode: 200, Header: make(http.Header), Body: io.NopCloser(bytes.NewReader(raw))}, nil
	})
	_, err := x.SearchVector(context.Background(), []float32{1, 2, 3}, index.SearchOptions{})
	var opErr *vectorhttp.OperationError
	if !errors.As(err, &opErr) || opErr.Message != "collection not ready" {
		t.Fatalf("status error: %v", err)
	}
}

func TestEnsureSchemaCreatesCollectionAndIndexes(t *testing.T) {
	var calls []string
	x := newTestIndex(t, func(r *http.Request) (*http.Response, error) {
		calls = append(calls, r.Method+" "+r.URL.Path)
		if r.Method == http.MethodGet {
			raw := []byte(`{"status":{"error":"Not found"}}`)
			return &http.Response{StatusCode: 404, Header: make(http.Header), Body: io.NopCloser(bytes.NewReader(raw))}, nil
		}
		return okResponse(t, true), nil
	})
	if err := x.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	if len(calls) != 6 || calls[1] != "PUT /collections/docrag" || calls[5] != "PUT /collections/docrag/index" {
		t.Fatalf("calls: %v", calls)
	}
}

func TestEnsureSchemaRejectsDimensionMismatch(t *testing.T) {
	x := newTestIndex(t, func(*http.Request) (*http.Response, error) {
		return okResponse(t, map[string]any{"config": map[string]any{"params": map[string]any{"vectors": map[string]any{"size": 1536, "distance": "Dot"}}}}), nil
	})
	err := x.EnsureSchema(context.Background())
	var opErr *vectorhttp.OperationError
	if !errors.As(err, &opErr) || opErr.Code != vectorhttp.OperationErrorValidation {
		t.Fatalf("mismatch: %v", err)
	}
}

func near(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func newTestIndex(t *testing.T, roundTrip func(*http.Request) (*http.Response, error)) *Index {
	t.Helper()
	x, err := New(newTestLogger(t), Config{URL: "http://qdrant.local", APIKey: "k", Collection: "docrag", VectorDim: 3})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	x.http.HTTP = &http.Client{Transport: roundTripFunc(roundTrip)}
	return x
}

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	t.Cleanup(func() {
		log.Sync()
	})
	return log
}

func okResponse(t *testing.T, result any) *http.Response {
	t.Helper()
	payload := map[string]any{
		"result": result,
		"status": "ok",
		"time":   0.001,
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal response: %v", err)
	}
	return &http.Response{
		StatusCode: http.StatusOK,
		Header:     make(http.Header),
		Body:       io.NopCloser(bytes.NewReader(raw)),
	}
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}
