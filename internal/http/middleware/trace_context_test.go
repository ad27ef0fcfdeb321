package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/yungbote/docrag-backend/internal/platform/ctxutil"
)

func traceRouter(mw ...gin.HandlerFunc) (*gin.Engine, *ctxutil.TraceData) {
	seen := &ctxutil.TraceData{}
	r := gin.New()
	r.Use(mw...)
	r.Use(AttachTraceContext())
	r.GET("/v1/ping", func(c *gin.Context) {
		if td := ctxutil.GetTraceData(c.Request.Context()); td != nil {
			*seen = *td
		}
		c.Status(http.StatusNoContent)
	})
	return r, seen
}

func isHex32(s string) bool {
	if len(s) != 32 {
		return false
	}
	return strings.Trim(s, "0123456789abcdef") == ""
}

func TestTraceContextUsesServerSpan(t *testing.T) {
	gin.SetMode(gin.TestMode)
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	r, seen := traceRouter(otelgin.Middleware("docrag-test", otelgin.WithTracerProvider(tp)))

	req := httptest.NewRequest(http.MethodGet, "/v1/ping", nil)
	req.Header.Set(headerTraceID, "0123456789abcdef0123456789abcdef")
	req.Header.Set(headerRequestID, "req-7")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("spans: want=1 got=%d", len(spans))
	}
	want := spans[0].SpanContext().TraceID().String()
	if got := rec.Header().Get(headerTraceID); got != want {
		t.Fatalf("trace header: want=%s got=%s", want, got)
	}
	if seen.TraceID != want || seen.RequestID != "req-7" {
		t.Fatalf("context trace data: %+v", seen)
	}
	found := false
	for _, kv := range spans[0].Attributes() {
		if string(kv.Key) == "docrag.request_id" && kv.Value.AsString() == "req-7" {
			found = true
		}
	}
	if !found {
		t.Fatalf("span missing docrag.request_id: %v", spans[0].Attributes())
	}
}

func TestTraceContextHeaderFallbacks(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r, seen := traceRouter()

	cases := []struct {
		name      string
		traceID   string
		requestID string
		wantTrace string
		keepReqID bool
	}{
		{"valid trace header kept", "0123456789ABCDEF0123456789ABCDEF", "job:42_a.b-c", "0123456789abcdef0123456789abcdef", true},
		{"malformed trace header replaced", "not-a-trace", "req 1", "", false},
		{"zero trace id replaced", "00000000000000000000000000000000", strings.Repeat("r", maxRequestIDLen+1), "", false},
		{"no headers", "", "", "", false},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/v1/ping", nil)
		if tc.traceID != "" {
			req.Header.Set(headerTraceID, tc.traceID)
		}
		if tc.requestID != "" {
			req.Header.Set(headerRequestID, tc.requestID)
		}
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)

		gotTrace := rec.Header().Get(headerTraceID)
		switch {
		case tc.wantTrace != "" && gotTrace != tc.wantTrace:
			t.Fatalf("%s: trace want=%s got=%s", tc.name, tc.wantTrace, gotTrace)
		case tc.wantTrace == "" && (!isHex32(gotTrace) || gotTrace == tc.traceID):
			t.Fatalf("%s: want generated trace id got=%q", tc.name, gotTrace)
		}
		gotReq := rec.Header().Get(headerRequestID)
		if tc.keepReqID && gotReq != tc.requestID {
			t.Fatalf("%s: request id want=%s got=%s", tc.name, tc.requestID, gotReq)
		}
		if !tc.keepReqID && (gotReq == "" || gotReq == tc.requestID) {
			t.Fatalf("%s: want generated request id got=%q", tc.name, gotReq)
		}
		if seen.TraceID != gotTrace || seen.RequestID != gotReq {
			t.Fatalf("%s: context %+v does not match headers", tc.name, seen)
		}
	}
}
