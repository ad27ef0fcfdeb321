// Package extractor turns uploaded files into plain text for ingestion.
package extractor

import (
	"fmt"
	"mime"
	"path/filepath"
	"strings"
)

type ErrorCode string

const (
	ErrorUnsupportedType ErrorCode = "unsupported_file_type"
	ErrorEmptyFile       ErrorCode = "empty_file"
	ErrorUnreadable      ErrorCode = "unreadable_document"
	ErrorNoText          ErrorCode = "no_extractable_text"
)

type Error struct {
	Code    ErrorCode
	Kind    string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return "extraction failed"
	}
	msg := strings.TrimSpace(e.Message)
	if msg == "" {
		msg = string(e.Code)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Unsupported reports whether the file type itself was rejected, as opposed
// to a supported file that could not be read.
func (e *Error) Unsupported() bool {
	return e != nil && e.Code == ErrorUnsupportedType
}

var textExtensions = map[string]bool{
	".txt":      true,
	".md":       true,
	".markdown": true,
	".json":     true,
	".yaml":     true,
	".yml":      true,
	".log":      true,
}

var textContentTypes = []string{"text/", "application/json", "application/xml"}

type handler func(raw []byte) (string, error)

var documentHandlers = map[string]handler{
	".pdf":  extractPDF,
	".docx": extractDOCX,
	".csv":  func(raw []byte) (string, error) { return extractCSV(raw, ',') },
	".tsv":  func(raw []byte) (string, error) { return extractCSV(raw, '\t') },
}

// Extract returns the text of an uploaded file. Document formats are picked
// by extension (.pdf .docx .csv .tsv); everything else must be a text
// extension or carry a text-like content type.
func Extract(raw []byte, filename, contentType string) (string, error) {
	if len(raw) == 0 {
		return "", &Error{Code: ErrorEmptyFile, Message: "uploaded file was empty"}
	}
	ext := strings.ToLower(filepath.Ext(strings.TrimSpace(filename)))
	if h, ok := documentHandlers[ext]; ok {
		return h(raw)
	}
	if IsText(ext, contentType) {
		return decodeText(raw), nil
	}
	return "", &Error{
		Code:    ErrorUnsupportedType,
		Kind:    ext,
		Message: "unsupported file type; upload one of TXT, MD, CSV, TSV, JSON, YAML, LOG, PDF or DOCX",
	}
}

// IsText reports whether a file with this extension and content type is
// read as plain text.
func IsText(ext, contentType string) bool {
	if textExtensions[strings.ToLower(ext)] {
		return true
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mt = strings.ToLower(strings.TrimSpace(contentType))
	}
	if mt == "" {
		return false
	}
	for _, prefix := range textContentTypes {
		if strings.HasPrefix(mt, prefix) {
			return true
		}
	}
	return false
}

// Supported reports whether Extract would accept the file name and content
// type at all.
func Supported(filename, contentType string) bool {
	ext := strings.ToLower(filepath.Ext(strings.TrimSpace(filename)))
	if _, ok := documentHandlers[ext]; ok {
		return true
	}
	return IsText(ext, contentType)
}
