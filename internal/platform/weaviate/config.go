package weaviate

import (
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode"
)

const (
	DefaultIndex = "rag_documents"
	// TextSearchNearText asks the class vectorizer to embed the query. It
	// needs a text2vec module on the class; EnsureSchema creates classes
	// with vectorizer "none".
	TextSearchNearText = "near_text"
	// TextSearchBM25 uses the keyword index. Default.
	TextSearchBM25 = "bm25"
)

type Config struct {
	URL            string
	APIKey         string
	Index          string
	Timeout        time.Duration
	TextSearchMode string
}

type ConfigErrorCode string

const (
	ConfigErrorMissingURL      ConfigErrorCode = "missing_url"
	ConfigErrorInvalidURL      ConfigErrorCode = "invalid_url"
	ConfigErrorInvalidTextMode ConfigErrorCode = "invalid_text_search_mode"
)

type ConfigError struct {
	Code  ConfigErrorCode
	Value string
	Cause error
}

func (e *ConfigError) Error() string {
	if e == nil {
		return "invalid weaviate config"
	}
	switch e.Code {
	case ConfigErrorMissingURL:
		return "WEAVIATE_URL is required"
	case ConfigErrorInvalidURL:
		return fmt.Sprintf("invalid WEAVIATE_URL=%q; expected absolute URL like http://weaviate:8080", e.Value)
	case ConfigErrorInvalidTextMode:
		return fmt.Sprintf("invalid WEAVIATE_TEXT_SEARCH=%q; expected %s or %s", e.Value, TextSearchNearText, TextSearchBM25)
	default:
		return "invalid weaviate config"
	}
}

func (e *ConfigError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func ValidateConfig(cfg Config) error {
	if strings.TrimSpace(cfg.URL) == "" {
		return &ConfigError{Code: ConfigErrorMissingURL}
	}
	parsed, err := url.Parse(cfg.URL)
	if err != nil || strings.TrimSpace(parsed.Scheme) == "" || strings.TrimSpace(parsed.Host) == "" {
		return &ConfigError{Code: ConfigErrorInvalidURL, Value: cfg.URL, Cause: err}
	}
	switch strings.TrimSpace(cfg.TextSearchMode) {
	case "", TextSearchNearText, TextSearchBM25:
	default:
		return &ConfigError{Code: ConfigErrorInvalidTextMode, Value: cfg.TextSearchMode}
	}
	return nil
}

// ClassName returns the Weaviate class for an index name. Weaviate class
// names always start with an upper-case letter.
func ClassName(index string) string {
	index = strings.TrimSpace(index)
	if index == "" {
		index = DefaultIndex
	}
	r := []rune(index)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}
