// Package indexwriter persists chunk vectors into the vector index and
// removes previous generations of a document.
package indexwriter

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/yungbote/docrag-backend/internal/domain"
	"github.com/yungbote/docrag-backend/internal/index"
	"github.com/yungbote/docrag-backend/internal/platform/logger"
)

const (
	DefaultBatchSize = 20
	MaxBatchSize     = 20
)

var (
	errLengthMismatch   = errors.New("chunks and vectors differ in length")
	errMissingDocument  = errors.New("chunk has no document id")
	errMissingPrincipal = errors.New("chunk has no allowed principals")
)

// IndexWriteError wraps any failure writing to or deleting from the index.
type IndexWriteError struct {
	Op         string
	DocumentID string
	Cause      error
}

func (e *IndexWriteError) Error() string {
	if e == nil {
		return "index write failed"
	}
	if e.DocumentID != "" {
		return fmt.Sprintf("index %s failed (document_id=%s): %v", e.Op, e.DocumentID, e.Cause)
	}
	return fmt.Sprintf("index %s failed: %v", e.Op, e.Cause)
}

func (e *IndexWriteError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

type Options struct {
	// BatchSize bounds each upsert request. Values outside 1..MaxBatchSize
	// fall back to DefaultBatchSize.
	BatchSize int
	// BestEffortDelete logs delete failures and reports 0 removed instead of
	// returning an error.
	BestEffortDelete bool
}

func DefaultOptions() Options {
	return Options{BatchSize: DefaultBatchSize, BestEffortDelete: true}
}

type Writer struct {
	log  *logger.Logger
	idx  index.VectorIndex
	opts Options
}

func New(log *logger.Logger, idx index.VectorIndex, opts Options) *Writer {
	if log == nil {
		log = logger.NewNop()
	}
	if opts.BatchSize <= 0 || opts.BatchSize > MaxBatchSize {
		opts.BatchSize = DefaultBatchSize
	}
	return &Writer{log: log.With("component", "IndexWriter"), idx: idx, opts: opts}
}

// DeleteDocument removes every chunk of documentID and returns how many the
// index reported removed.
func (w *Writer) DeleteDocument(ctx context.Context, documentID string) (int, error) {
	documentID = strings.TrimSpace(documentID)
	if documentID == "" {
		return 0, &IndexWriteError{Op: "delete", Cause: errMissingDocument}
	}
	n, err := w.idx.DeleteWhere(ctx, index.Equal(index.FieldDocumentID, documentID))
	if err != nil {
		if w.opts.BestEffortDelete {
			w.log.Warn("delete prior chunks failed; continuing", "document_id", documentID, "error", err)
			return 0, nil
		}
		return 0, &IndexWriteError{Op: "delete", DocumentID: documentID, Cause: err}
	}
	if n > 0 {
		w.log.Debug("deleted prior chunks", "document_id", documentID, "count", n)
	}
	return n, nil
}

// UpsertBatch writes chunk/vector pairs keyed by chunk id.
func (w *Writer) UpsertBatch(ctx context.Context, chunks []domain.DocumentChunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return &IndexWriteError{
			Op:    "upsert",
			Cause: fmt.Errorf("%w: chunks=%d vectors=%d", errLengthMismatch, len(chunks), len(vectors)),
		}
	}
	if len(chunks) == 0 {
		return nil
	}

	objects := make([]index.Object, 0, len(chunks))
	for i, c := range chunks {
		if strings.TrimSpace(c.DocumentID) == "" {
			return &IndexWriteError{Op: "upsert", Cause: fmt.Errorf("%w: chunk %q", errMissingDocument, c.ID)}
		}
		if len(c.AllowedPrincipals) == 0 {
			return &IndexWriteError{Op: "upsert", DocumentID: c.DocumentID, Cause: fmt.Errorf("%w: chunk %q", errMissingPrincipal, c.ID)}
		}
		meta, err := domain.EncodeMetadata(c.Metadata)
		if err != nil {
			return &IndexWriteError{Op: "upsert", DocumentID: c.DocumentID, Cause: err}
		}
		principals := make([]string, len(c.AllowedPrincipals))
		copy(principals, c.AllowedPrincipals)
		objects = append(objects, index.Object{
			ID:     c.ID,
			Vector: vectors[i],
			Properties: index.Properties{
				ChunkID:           c.ID,
				Text:              c.Text,
				Source:            c.Source,
				DocumentID:        c.DocumentID,
				Metadata:          meta,
				AllowedPrincipals: principals,
			},
		})
	}

	for start := 0; start < len(objects); start += w.opts.BatchSize {
		end := start + w.opts.BatchSize
		if end > len(objects) {
			end = len(objects)
		}
		if err := w.idx.Upsert(ctx, objects[start:end]); err != nil {
			return &IndexWriteError{Op: "upsert", DocumentID: chunks[start].DocumentID, Cause: err}
		}
	}
	return nil
}
