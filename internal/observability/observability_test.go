package observability

import (
	"bytes"
	"context"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestMetricsExposition(t *testing.T) {
	m := NewMetrics()
	m.ObserveAPI("POST", "/v1/documents", "202", 30*time.Millisecond)
	m.ObserveAPI("POST", "/v1/documents", "202", 10*time.Millisecond)
	m.ObserveJob("ingest_document", "succeeded", 2*time.Second)
	m.IncEnqueued("ingest_document", "ok")
	m.ApiInflightInc()
	m.ApiInflightDec()

	if got := m.apiRequests.Value("POST", "/v1/documents", "202"); got != 2 {
		t.Fatalf("api requests: want=2 got=%v", got)
	}
	var buf bytes.Buffer
	if err := m.WritePrometheus(&buf); err != nil {
		t.Fatalf("WritePrometheus: %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		`docrag_api_requests_total{method="POST",route="/v1/documents",status="202"} 2.000000`,
		`docrag_api_request_duration_seconds_bucket{method="POST",route="/v1/documents",status="202",le="0.025"} 1`,
		`docrag_api_request_duration_seconds_count{method="POST",route="/v1/documents",status="202"} 2`,
		`docrag_job_runs_total{job_type="ingest_document",status="succeeded"} 1.000000`,
		`docrag_api_inflight_requests 0.000000`,
		"# TYPE docrag_job_duration_seconds histogram",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("exposition missing %q\n%s", want, out)
		}
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveAPI("GET", "/", "200", time.Millisecond)
	m.ObserveJob("x", "failed", time.Millisecond)
	m.ApiInflightInc()
	m.ObserveAPIError("/v1/retrieve", "invalid_query")
	if err := m.WritePrometheus(&bytes.Buffer{}); err != nil {
		t.Fatalf("WritePrometheus: %v", err)
	}
}

func TestObserveAPIErrorSkipsEmptyCode(t *testing.T) {
	m := NewMetrics()
	m.ObserveAPIError("/v1/retrieve", "invalid_query")
	m.ObserveAPIError("/v1/retrieve", "invalid_query")
	m.ObserveAPIError("/v1/retrieve", "")
	if got := m.apiErrors.Value("/v1/retrieve", "invalid_query"); got != 2 {
		t.Fatalf("api errors: want=2 got=%v", got)
	}
	if got := m.apiErrors.Value("/v1/retrieve", ""); got != 0 {
		t.Fatalf("empty code: want=0 got=%v", got)
	}
}

func TestLabelEscaping(t *testing.T) {
	got := labelString([]string{"path"}, []string{"a\"b\\c\nd"})
	want := `{path="a\"b\\c\nd"}`
	if got != want {
		t.Fatalf("labels: want=%s got=%s", want, got)
	}
	if got := labelString([]string{"a", "b"}, []string{"x"}); got != `{a="x",b="unknown"}` {
		t.Fatalf("missing label: got=%s", got)
	}
}

func TestOtelHeaders(t *testing.T) {
	got := otelHeaders(" authorization=Bearer x , bad, =v, k= ,x-team=rag")
	want := map[string]string{"authorization": "Bearer x", "x-team": "rag"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("headers: want=%v got=%v", want, got)
	}
	if otelHeaders("") != nil {
		t.Fatalf("empty headers should be nil")
	}
}

func TestInitOTelDisabled(t *testing.T) {
	shutdown := InitOTel(context.Background(), nil, OtelConfig{Enabled: false})
	if shutdown == nil {
		t.Fatalf("shutdown must be non-nil")
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}
