package embedclient

import "fmt"

type TransportErrorCode string

const (
	TransportErrorEncodeFailed  TransportErrorCode = "encode_failed"
	TransportErrorDecodeFailed  TransportErrorCode = "decode_failed"
	TransportErrorRequestFailed TransportErrorCode = "transport_failed"
	TransportErrorTimeout       TransportErrorCode = "timeout"
	TransportErrorBadStatus     TransportErrorCode = "bad_status"
	TransportErrorShapeMismatch TransportErrorCode = "shape_mismatch"
	TransportErrorRateLimitWait TransportErrorCode = "rate_limit_wait"
)

// TransportError is returned for every failure talking to the embedding
// service. Nothing is retried at this layer.
type TransportError struct {
	Code       TransportErrorCode
	Op         string
	StatusCode int
	Message    string
	Cause      error
}

func (e *TransportError) Error() string {
	if e == nil {
		return "embedding request failed"
	}
	msg := e.Message
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("embedding %s failed (code=%s status=%d): %s", e.Op, e.Code, e.StatusCode, msg)
	}
	return fmt.Sprintf("embedding %s failed (code=%s): %s", e.Op, e.Code, msg)
}

func (e *TransportError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func transportErr(op string, code TransportErrorCode, msg string, cause error) error {
	return &TransportError{Code: code, Op: op, Message: msg, Cause: cause}
}
