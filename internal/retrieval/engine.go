// Package retrieval answers permission-filtered similarity queries.
package retrieval

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/yungbote/docrag-backend/internal/domain"
	"github.com/yungbote/docrag-backend/internal/index"
	"github.com/yungbote/docrag-backend/internal/platform/ctxutil"
	"github.com/yungbote/docrag-backend/internal/platform/logger"
)

const (
	DefaultTopK   = 5
	UnknownSource = "unknown"

	ModeVector = "vector"
	ModeText   = "text"
)

type Embedder interface {
	Embed(ctx context.Context, texts []string, model string) ([][]float32, error)
}

// RetrievalError reports an index failure during search. Mode says which
// search path was taken.
type RetrievalError struct {
	Mode  string
	Cause error
}

func (e *RetrievalError) Error() string {
	if e == nil {
		return "retrieval failed"
	}
	return fmt.Sprintf("retrieval (%s search) failed: %v", e.Mode, e.Cause)
}

func (e *RetrievalError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

type Query struct {
	Text       string
	TopK       int
	Principals []string
	Filter     *index.Filter
}

type Config struct {
	DefaultTopK    int
	EmbeddingModel string
}

type Engine struct {
	log      *logger.Logger
	embedder Embedder
	idx      index.VectorIndex
	cfg      Config
	tracer   trace.Tracer
}

func NewEngine(log *logger.Logger, embedder Embedder, idx index.VectorIndex, cfg Config) *Engine {
	if log == nil {
		log = logger.NewNop()
	}
	if cfg.DefaultTopK <= 0 {
		cfg.DefaultTopK = DefaultTopK
	}
	return &Engine{
		log:      log.With("component", "RetrievalEngine"),
		embedder: embedder,
		idx:      idx,
		cfg:      cfg,
		tracer:   otel.Tracer("github.com/yungbote/docrag-backend/internal/retrieval"),
	}
}

// Retrieve returns at most TopK chunks in index order. Embedding failures
// fall back to the index's text search; index failures are returned as
// *RetrievalError.
func (e *Engine) Retrieve(ctx context.Context, q Query) ([]domain.DocumentChunk, error) {
	ctx = ctxutil.Default(ctx)
	topK := q.TopK
	if topK <= 0 {
		topK = e.cfg.DefaultTopK
	}
	opts := index.SearchOptions{Limit: topK, Filter: BuildFilter(q.Filter, q.Principals)}

	ctx, span := e.tracer.Start(ctx, "retrieval.retrieve", trace.WithAttributes(
		attribute.Int("top_k", topK),
		attribute.Int("principals", len(q.Principals)),
	))
	defer span.End()

	mode := ModeVector
	var (
		hits []index.Hit
		err  error
	)
	vector := e.embedQuery(ctx, q.Text)
	if vector == nil {
		mode = ModeText
		hits, err = e.idx.SearchText(ctx, q.Text, opts)
	} else {
		hits, err = e.idx.SearchVector(ctx, vector, opts)
	}
	span.SetAttributes(attribute.String("mode", mode))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, &RetrievalError{Mode: mode, Cause: err}
	}

	if len(hits) > topK {
		hits = hits[:topK]
	}
	out := make([]domain.DocumentChunk, 0, len(hits))
	for _, h := range hits {
		out = append(out, toChunk(h))
	}
	span.SetAttributes(attribute.Int("results", len(out)))
	return out, nil
}

func (e *Engine) embedQuery(ctx context.Context, text string) []float32 {
	if e.embedder == nil {
		return nil
	}
	vecs, err := e.embedder.Embed(ctx, []string{text}, e.cfg.EmbeddingModel)
	if err != nil {
		e.log.Warn("query embedding failed; falling back to text search", "error", err)
		return nil
	}
	if len(vecs) == 0 || len(vecs[0]) == 0 {
		e.log.Warn("query embedding empty; falling back to text search")
		return nil
	}
	return vecs[0]
}

func toChunk(h index.Hit) domain.DocumentChunk {
	p := h.Properties
	id := strings.TrimSpace(p.ChunkID)
	if id == "" {
		id = h.ObjectID
	}
	source := p.Source
	if source == "" {
		source = UnknownSource
	}
	principals := make([]string, len(p.AllowedPrincipals))
	copy(principals, p.AllowedPrincipals)
	return domain.DocumentChunk{
		ID:                id,
		Text:              p.Text,
		Source:            source,
		DocumentID:        p.DocumentID,
		Metadata:          domain.DecodeMetadata(p.Metadata),
		AllowedPrincipals: principals,
		Score:             NormalizeScore(h.Certainty, h.Distance),
	}
}
