// Package embedclient talks to the batch embedding service
// (POST /v1/embed {texts, model} -> {embeddings, model}).
package embedclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/yungbote/docrag-backend/internal/platform/ctxutil"
	"github.com/yungbote/docrag-backend/internal/platform/logger"
)

const (
	DefaultTimeout    = 60 * time.Second
	maxErrorBodyBytes = 1024
	maxBodyBytes      = 64 << 20
)

type Config struct {
	BaseURL string
	Model   string
	Timeout time.Duration
	// RateLimitRPS caps outgoing requests per second; 0 disables the limiter.
	RateLimitRPS float64
}

type Client struct {
	log     *logger.Logger
	baseURL string
	model   string
	http    *http.Client
	limiter *rate.Limiter
}

type embedRequest struct {
	Texts []string `json:"texts"`
	Model string   `json:"model"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
	Model      string      `json:"model"`
}

func New(log *logger.Logger, cfg Config) (*Client, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("embedding service url required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c := &Client{
		log:     log.With("client", "EmbeddingClient"),
		baseURL: base,
		model:   strings.TrimSpace(cfg.Model),
		http:    &http.Client{Timeout: timeout},
	}
	if cfg.RateLimitRPS > 0 {
		burst := int(cfg.RateLimitRPS)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), burst)
	}
	return c, nil
}

// WithHTTPClient swaps the underlying HTTP client. Used by tests.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	if hc != nil {
		c.http = hc
	}
	return c
}

func (c *Client) Model() string { return c.model }

// Embed returns one vector per input text, in input order. An empty model
// falls back to the configured default.
func (c *Client) Embed(ctx context.Context, texts []string, model string) ([][]float32, error) {
	const op = "embed"
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	ctx = ctxutil.Default(ctx)
	if strings.TrimSpace(model) == "" {
		model = c.model
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, transportErr(op, TransportErrorRateLimitWait, "rate limiter wait failed", err)
		}
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(embedRequest{Texts: texts, Model: model}); err != nil {
		return nil, transportErr(op, TransportErrorEncodeFailed, "encode request failed", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/embed", &buf)
	if err != nil {
		return nil, transportErr(op, TransportErrorRequestFailed, "build request failed", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classifyHTTPCallError(op, "embedding request failed", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, classifyHTTPCallError(op, "read response failed", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &TransportError{
			Code:       TransportErrorBadStatus,
			Op:         op,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("embedding http status=%d body=%q", resp.StatusCode, truncateBody(raw)),
		}
	}

	var out embedResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, &TransportError{
			Code:       TransportErrorDecodeFailed,
			Op:         op,
			StatusCode: resp.StatusCode,
			Message:    "decode response failed",
			Cause:      err,
		}
	}
	if len(out.Embeddings) != len(texts) {
		return nil, &TransportError{
			Code:       TransportErrorShapeMismatch,
			Op:         op,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("expected %d embeddings, got %d", len(texts), len(out.Embeddings)),
		}
	}
	for i, v := range out.Embeddings {
		if len(v) == 0 {
			return nil, &TransportError{
				Code:       TransportErrorShapeMismatch,
				Op:         op,
				StatusCode: resp.StatusCode,
				Message:    fmt.Sprintf("embedding %d is empty", i),
			}
		}
	}

	c.log.Debug("embedded batch", "texts", len(texts), "model", model, "duration_ms", time.Since(start).Milliseconds())
	return out.Embeddings, nil
}

func classifyHTTPCallError(op, message string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return transportErr(op, TransportErrorTimeout, message, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return transportErr(op, TransportErrorTimeout, message, err)
	}
	return transportErr(op, TransportErrorRequestFailed, message, err)
}

func truncateBody(raw []byte) string {
	if len(raw) <= maxErrorBodyBytes {
		return string(raw)
	}
	return string(raw[:maxErrorBodyBytes]) + "..."
}
