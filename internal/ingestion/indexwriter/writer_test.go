package indexwriter

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/yungbote/docrag-backend/internal/domain"
	"github.com/yungbote/docrag-backend/internal/index"
	"github.com/yungbote/docrag-backend/internal/platform/logger"
	"github.com/yungbote/docrag-backend/internal/platform/memindex"
)

type fakeIndex struct {
	index.VectorIndex
	upserts   [][]index.Object
	deleteErr error
	upsertErr error
	deleted   []index.Filter
}

func (f *fakeIndex) Upsert(_ context.Context, objects []index.Object) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.upserts = append(f.upserts, objects)
	return nil
}

func (f *fakeIndex) DeleteWhere(_ context.Context, filter index.Filter) (int, error) {
	f.deleted = append(f.deleted, filter)
	if f.deleteErr != nil {
		return 0, f.deleteErr
	}
	return 3, nil
}

func makeChunks(n int) ([]domain.DocumentChunk, [][]float32) {
	chunks := make([]domain.DocumentChunk, n)
	vecs := make([][]float32, n)
	for i := range chunks {
		chunks[i] = domain.DocumentChunk{
			ID:                fmt.Sprintf("c-%d", i),
			Text:              fmt.Sprintf("text %d", i),
			Source:            "api",
			DocumentID:        "doc-1",
			Metadata:          domain.Metadata{"chunk_index": i, "lang": "fr"},
			AllowedPrincipals: []string{"public"},
		}
		vecs[i] = []float32{float32(i), 1}
	}
	return chunks, vecs
}

func TestUpsertBatchSplitsIntoSubBatches(t *testing.T) {
	idx := &fakeIndex{}
	w := New(logger.NewNop(), idx, Options{BatchSize: 500})
	chunks, vecs := makeChunks(45)
	if err := w.UpsertBatch(context.Background(), chunks, vecs); err != nil {
		t.Fatalf("UpsertBatch: %v", err)
	}
	if len(idx.upserts) != 3 {
		t.Fatalf("sub-batches: want=3 got=%d", len(idx.upserts))
	}
	if len(idx.upserts[0]) != 20 || len(idx.upserts[2]) != 5 {
		t.Fatalf("sub-batch sizes: got=%d,%d", len(idx.upserts[0]), len(idx.upserts[2]))
	}
	first := idx.upserts[0][0]
	if first.ID != "c-0" || first.Properties.ChunkID != "c-0" {
		t.Fatalf("object id: got=%q chunk_id=%q", first.ID, first.Properties.ChunkID)
	}
	if first.Properties.Metadata != `{"chunk_index":0,"lang":"fr"}` {
		t.Fatalf("metadata: got=%s", first.Properties.Metadata)
	}
}

func TestUpsertBatchValidation(t *testing.T) {
	w := New(logger.NewNop(), &fakeIndex{}, DefaultOptions())
	chunks, vecs := makeChunks(2)

	err := w.UpsertBatch(context.Background(), chunks, vecs[:1])
	var iwe *IndexWriteError
	if !errors.As(err, &iwe) || !errors.Is(err, errLengthMismatch) {
		t.Fatalf("length mismatch: got=%v", err)
	}

	noDoc := append([]domain.DocumentChunk(nil), chunks...)
	noDoc[1].DocumentID = ""
	if err := w.UpsertBatch(context.Background(), noDoc, vecs); !errors.Is(err, errMissingDocument) {
		t.Fatalf("missing document: got=%v", err)
	}

	noACL := append([]domain.DocumentChunk(nil), chunks...)
	noACL[0].AllowedPrincipals = nil
	if err := w.UpsertBatch(context.Background(), noACL, vecs); !errors.Is(err, errMissingPrincipal) {
		t.Fatalf("missing principals: got=%v", err)
	}
}

func TestUpsertBatchWrapsIndexFailure(t *testing.T) {
	cause := errors.New("index down")
	w := New(logger.NewNop(), &fakeIndex{upsertErr: cause}, DefaultOptions())
	chunks, vecs := makeChunks(1)
	err := w.UpsertBatch(context.Background(), chunks, vecs)
	var iwe *IndexWriteError
	if !errors.As(err, &iwe) {
		t.Fatalf("expected IndexWriteError, got=%T", err)
	}
	if iwe.DocumentID != "doc-1" || !errors.Is(err, cause) {
		t.Fatalf("wrapped error: %+v", iwe)
	}
}

func TestDeleteDocumentBestEffort(t *testing.T) {
	idx := &fakeIndex{deleteErr: errors.New("timeout")}
	w := New(logger.NewNop(), idx, DefaultOptions())
	n, err := w.DeleteDocument(context.Background(), "doc-1")
	if err != nil || n != 0 {
		t.Fatalf("best effort: n=%d err=%v", n, err)
	}
	if len(idx.deleted) != 1 {
		t.Fatalf("delete calls: want=1 got=%d", len(idx.deleted))
	}
	f := idx.deleted[0]
	if f.Operator != index.OpEqual || f.Field != index.FieldDocumentID || f.Value != "doc-1" {
		t.Fatalf("delete filter: got=%+v", f)
	}
}

func TestDeleteDocumentStrict(t *testing.T) {
	w := New(logger.NewNop(), &fakeIndex{deleteErr: errors.New("timeout")}, Options{BestEffortDelete: false})
	_, err := w.DeleteDocument(context.Background(), "doc-1")
	var iwe *IndexWriteError
	if !errors.As(err, &iwe) || iwe.Op != "delete" {
		t.Fatalf("strict delete: got=%v", err)
	}
}

func TestWriterAgainstMemoryIndex(t *testing.T) {
	idx := memindex.New()
	w := New(logger.NewNop(), idx, DefaultOptions())
	chunks, vecs := makeChunks(4)
	if err := w.UpsertBatch(context.Background(), chunks, vecs); err != nil {
		t.Fatalf("UpsertBatch: %v", err)
	}
	n, err := w.DeleteDocument(context.Background(), "doc-1")
	if err != nil || n != 4 {
		t.Fatalf("DeleteDocument: n=%d err=%v", n, err)
	}
	if idx.Len() != 0 {
		t.Fatalf("remaining: %d", idx.Len())
	}
}
