// Package apierr carries an HTTP status and a stable error code from the
// service layer to the JSON error envelope.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Codes returned in the "code" field of the error envelope.
const (
	CodeInvalidRequest   = "invalid_request"
	CodeInvalidQuery     = "invalid_query"
	CodeInvalidFilter    = "invalid_filter"
	CodeInvalidTopK      = "invalid_top_k"
	CodeInvalidMetadata  = "invalid_metadata"
	CodeInvalidFile      = "invalid_file"
	CodeInvalidMultipart = "invalid_multipart_form"
	CodeInvalidPrincipal = "invalid_allowed_principals"
	CodeTaskNotFound     = "task_not_found"
	CodeCreateTaskFailed = "create_task_failed"
	CodeEncodeJobFailed  = "encode_job_failed"
	CodeEnqueueFailed    = "enqueue_failed"
	CodeLoadTaskFailed   = "load_task_failed"
	CodeRetrievalFailed  = "retrieval_failed"
	CodeInternal         = "internal_error"
)

type Error struct {
	Status int
	Code   string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	switch {
	case e.Err != nil && e.Code != "":
		return e.Code + ": " + e.Err.Error()
	case e.Err != nil:
		return e.Err.Error()
	case e.Code != "":
		return e.Code
	case e.Status != 0:
		return fmt.Sprintf("api error (%d %s)", e.Status, http.StatusText(e.Status))
	}
	return "api error"
}

func (e *Error) Unwrap() error { return e.Err }

// Message is the client-facing text: the wrapped error, else the code.
func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.Code != "" {
		return e.Code
	}
	return http.StatusText(e.Status)
}

func New(status int, code string, err error) *Error {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	if code == "" {
		code = CodeInternal
	}
	return &Error{Status: status, Code: code, Err: err}
}

func BadRequest(code string, err error) *Error { return New(http.StatusBadRequest, code, err) }

func NotFound(code string, err error) *Error { return New(http.StatusNotFound, code, err) }

// Upstream is a failure of a dependency the request relied on (embedder,
// vector index).
func Upstream(code string, err error) *Error { return New(http.StatusBadGateway, code, err) }

func Unavailable(code string, err error) *Error {
	return New(http.StatusServiceUnavailable, code, err)
}

func Internal(code string, err error) *Error { return New(http.StatusInternalServerError, code, err) }

// As returns the outermost *Error in err's chain.
func As(err error) (*Error, bool) {
	var ae *Error
	if errors.As(err, &ae) && ae != nil {
		return ae, true
	}
	return nil, false
}

// StatusOf returns the status carried by err, or fallback.
func StatusOf(err error, fallback int) int {
	if ae, ok := As(err); ok && ae.Status != 0 {
		return ae.Status
	}
	return fallback
}

// CodeOf returns the code carried by err, or fallback.
func CodeOf(err error, fallback string) string {
	if ae, ok := As(err); ok && ae.Code != "" {
		return ae.Code
	}
	return fallback
}
