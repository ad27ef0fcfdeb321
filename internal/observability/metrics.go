package observability

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/yungbote/docrag-backend/internal/platform/logger"
)

// Metrics holds the service's Prometheus series. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	apiRequests  *CounterVec
	apiLatency   *HistogramVec
	apiInflight  *Gauge
	apiErrors    *CounterVec
	jobRuns      *CounterVec
	jobLatency   *HistogramVec
	queueEnqueue *CounterVec
}

func NewMetrics() *Metrics {
	return &Metrics{
		apiRequests: NewCounterVec("docrag_api_requests_total", "Total API requests by method/route/status.", []string{"method", "route", "status"}),
		apiLatency: NewHistogramVec(
			"docrag_api_request_duration_seconds",
			"API request latency in seconds by method/route/status.",
			[]string{"method", "route", "status"},
			[]float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		),
		apiInflight: NewGauge("docrag_api_inflight_requests", "In-flight API requests."),
		apiErrors:   NewCounterVec("docrag_api_errors_total", "API error responses by route/code.", []string{"route", "code"}),
		jobRuns:     NewCounterVec("docrag_job_runs_total", "Background job runs by type/status.", []string{"job_type", "status"}),
		jobLatency: NewHistogramVec(
			"docrag_job_duration_seconds",
			"Background job duration in seconds by type/status.",
			[]string{"job_type", "status"},
			[]float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		),
		queueEnqueue: NewCounterVec("docrag_jobs_enqueued_total", "Jobs put on the queue by type/status.", []string{"job_type", "status"}),
	}
}

// StartServer serves /metrics on addr until ctx is done.
func (m *Metrics) StartServer(ctx context.Context, log *logger.Logger, addr string) {
	if m == nil {
		return
	}
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           http.HandlerFunc(m.WriteHTTP),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = srv.Shutdown(shutdownCtx)
		cancel()
	}()
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if log != nil {
				log.Error("metrics server failed", "error", err, "addr", addr)
			}
		}
	}()
}

func (m *Metrics) WriteHTTP(w http.ResponseWriter, r *http.Request) {
	if m == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	_ = m.WritePrometheus(w)
}

func (m *Metrics) WritePrometheus(w io.Writer) error {
	if m == nil {
		return nil
	}
	for _, c := range []interface{ WritePrometheus(io.Writer) error }{
		m.apiRequests, m.apiLatency, m.apiInflight, m.apiErrors, m.jobRuns, m.jobLatency, m.queueEnqueue,
	} {
		if err := c.WritePrometheus(w); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) ObserveAPI(method, route, status string, dur time.Duration) {
	if m == nil {
		return
	}
	if method == "" {
		method = "UNKNOWN"
	}
	if route == "" {
		route = "unknown"
	}
	if status == "" {
		status = "0"
	}
	m.apiRequests.Inc(method, route, status)
	m.apiLatency.Observe(dur.Seconds(), method, route, status)
}

// ObserveAPIError counts an error envelope by its code.
func (m *Metrics) ObserveAPIError(route, code string) {
	if m == nil || code == "" {
		return
	}
	if route == "" {
		route = "unknown"
	}
	m.apiErrors.Inc(route, code)
}

func (m *Metrics) ApiInflightInc() {
	if m == nil {
		return
	}
	m.apiInflight.Inc()
}

func (m *Metrics) ApiInflightDec() {
	if m == nil {
		return
	}
	m.apiInflight.Dec()
}

// ObserveJob records one job outcome: "succeeded", "failed" or "panic".
func (m *Metrics) ObserveJob(jobType, status string, dur time.Duration) {
	if m == nil {
		return
	}
	m.jobRuns.Inc(jobType, status)
	m.jobLatency.Observe(dur.Seconds(), jobType, status)
}

func (m *Metrics) IncEnqueued(jobType, status string) {
	if m == nil {
		return
	}
	m.queueEnqueue.Inc(jobType, status)
}
