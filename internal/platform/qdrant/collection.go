package qdrant

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/yungbote/docrag-backend/internal/index"
	"github.com/yungbote/docrag-backend/internal/platform/vectorhttp"
)

// EnsureSchema creates the collection (cosine, VectorDim) when missing and
// makes sure the payload indexes used by filters and text search exist.
// On an existing collection it records the configured distance.
func (x *Index) EnsureSchema(ctx context.Context) error {
	const op = "ensure_schema"
	var info struct {
		Config struct {
			Params struct {
				Vectors struct {
					Size     int    `json:"size"`
					Distance string `json:"distance"`
				} `json:"vectors"`
			} `json:"params"`
		} `json:"config"`
	}
	err := x.call(ctx, op, http.MethodGet, x.collectionPath(""), nil, &info)
	switch {
	case err == nil:
		size := info.Config.Params.Vectors.Size
		if x.cfg.VectorDim > 0 && size != 0 && size != x.cfg.VectorDim {
			return &vectorhttp.OperationError{
				Backend:   backend,
				Code:      vectorhttp.OperationErrorValidation,
				Operation: op,
				Message: fmt.Sprintf(
					"qdrant collection %q vector size mismatch: expected=%d actual=%d",
					x.cfg.Collection, x.cfg.VectorDim, size,
				),
			}
		}
		if d := strings.TrimSpace(info.Config.Params.Vectors.Distance); d != "" {
			x.distance = d
		}
	case vectorhttp.StatusCode(err) == http.StatusNotFound:
		if x.cfg.VectorDim <= 0 {
			return vectorhttp.Err(backend, op, vectorhttp.OperationErrorValidation,
				fmt.Sprintf("collection %q missing and QDRANT_VECTOR_DIM unset", x.cfg.Collection), err)
		}
		if err := x.call(ctx, op, http.MethodPut, x.collectionPath(""), map[string]any{
			"vectors": map[string]any{"size": x.cfg.VectorDim, "distance": "Cosine"},
		}, nil); err != nil {
			return err
		}
		x.log.Info("qdrant collection created", "collection", x.cfg.Collection, "vector_dim", x.cfg.VectorDim)
	default:
		return err
	}

	indexes := []struct {
		field  string
		schema any
	}{
		{index.FieldDocumentID, "keyword"},
		{index.FieldAllowedPrincipals, "keyword"},
		{index.FieldSource, "keyword"},
		{index.FieldText, map[string]any{"type": "text", "tokenizer": "word", "lowercase": true}},
	}
	for _, ix := range indexes {
		if err := x.call(ctx, op, http.MethodPut, x.collectionPath("/index?wait=true"), map[string]any{
			"field_name":   ix.field,
			"field_schema": ix.schema,
		}, nil); err != nil {
			return err
		}
	}
	return nil
}
