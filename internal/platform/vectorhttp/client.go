// Package vectorhttp holds the JSON-over-HTTP plumbing shared by the remote
// vector index adapters.
package vectorhttp

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

	"github.com/yungbote/docrag-backend/internal/platform/ctxutil"
)

const (
	DefaultTimeout    = 30 * time.Second
	maxErrorBodyBytes = 1024
	maxBodyBytes      = 32 << 20
)

type Client struct {
	Backend string
	BaseURL string
	HTTP    *http.Client
	Header  http.Header
}

func NewClient(backend, baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		Backend: backend,
		BaseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		HTTP:    &http.Client{Timeout: timeout},
		Header:  http.Header{},
	}
}

// DoJSON sends in (when non-nil) as JSON and returns the raw response body.
// Non-2xx responses become *OperationError with StatusCode set.
func (c *Client) DoJSON(ctx context.Context, op, method, path string, in any) ([]byte, error) {
	var body io.Reader
	if in != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(in); err != nil {
			return nil, Err(c.Backend, op, OperationErrorEncodeFailed, "encode request failed", err)
		}
		body = &buf
	}

	req, err := http.NewRequestWithContext(ctxutil.Default(ctx), method, c.BaseURL+path, body)
	if err != nil {
		return nil, Err(c.Backend, op, OperationErrorTransportFailed, "build request failed", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, vals := range c.Header {
		for _, v := range vals {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, c.ClassifyCallError(op, c.Backend+" request failed", err)
	}
	defer resp.Body.Close()

	raw, readErr := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if readErr != nil {
		return nil, Err(c.Backend, op, OperationErrorDecodeFailed, "read response failed", readErr)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return raw, &OperationError{
			Backend:    c.Backend,
			Code:       OperationErrorQueryFailed,
			Operation:  op,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("%s http status=%d body=%q", c.Backend, resp.StatusCode, TruncateBody(raw)),
		}
	}
	return raw, nil
}

// Decode unmarshals raw into out, mapping failures to decode errors.
func (c *Client) Decode(op string, raw []byte, out any) error {
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return Err(c.Backend, op, OperationErrorDecodeFailed, "decode "+c.Backend+" response failed", err)
	}
	return nil
}

// ClassifyCallError separates timeouts from other transport failures.
func (c *Client) ClassifyCallError(op, message string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Err(c.Backend, op, OperationErrorTimeout, message, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Err(c.Backend, op, OperationErrorTimeout, message, err)
	}
	return Err(c.Backend, op, OperationErrorTransportFailed, message, err)
}

// StatusCode extracts the HTTP status from an OperationError, or 0.
func StatusCode(err error) int {
	var opErr *OperationError
	if errors.As(err, &opErr) {
		return opErr.StatusCode
	}
	return 0
}

func TruncateBody(raw []byte) string {
	if len(raw) <= maxErrorBodyBytes {
		return string(raw)
	}
	return string(raw[:maxErrorBodyBytes]) + "..."
}
