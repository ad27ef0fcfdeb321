package vectorhttp

import "fmt"

type OperationErrorCode string

const (
	OperationErrorValidation        OperationErrorCode = "validation_failed"
	OperationErrorUnsupportedFilter OperationErrorCode = "unsupported_filter"
	OperationErrorEncodeFailed      OperationErrorCode = "encode_failed"
	OperationErrorDecodeFailed      OperationErrorCode = "decode_failed"
	OperationErrorTransportFailed   OperationErrorCode = "transport_failed"
	OperationErrorTimeout           OperationErrorCode = "timeout"
	OperationErrorQueryFailed       OperationErrorCode = "query_failed"
)

// OperationError is the single error type surfaced by the HTTP index
// adapters. Backend names the remote system ("weaviate", "qdrant").
type OperationError struct {
	Backend    string
	Code       OperationErrorCode
	Operation  string
	StatusCode int
	Message    string
	Cause      error
}

func (e *OperationError) Error() string {
	if e == nil {
		return "index operation failed"
	}
	backend := e.Backend
	if backend == "" {
		backend = "index"
	}
	head := fmt.Sprintf("%s operation failed (op=%s code=%s status=%d)", backend, e.Operation, e.Code, e.StatusCode)
	switch {
	case e.Message != "":
		return head + ": " + e.Message
	case e.Cause != nil:
		return fmt.Sprintf("%s: %v", head, e.Cause)
	default:
		return head
	}
}

func (e *OperationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Err builds an OperationError for backend.
func Err(backend, op string, code OperationErrorCode, msg string, cause error) error {
	return &OperationError{Backend: backend, Code: code, Operation: op, Message: msg, Cause: cause}
}
