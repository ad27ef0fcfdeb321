package weaviate

import (
	"context"
	"net/http"

	"github.com/yungbote/docrag-backend/internal/index"
	"github.com/yungbote/docrag-backend/internal/platform/vectorhttp"
)

type classProperty struct {
	Name         string   `json:"name"`
	DataType     []string `json:"dataType"`
	Tokenization string   `json:"tokenization,omitempty"`
}

// Identifier properties are filtered by exact value, so they use field
// tokenization: "user:42" stays one token and never matches "user:7".
const tokenizationField = "field"

func classDefinition(class string) map[string]any {
	text := func(name string) classProperty { return classProperty{Name: name, DataType: []string{"text"}} }
	ident := func(name string) classProperty {
		return classProperty{Name: name, DataType: []string{"text"}, Tokenization: tokenizationField}
	}
	return map[string]any{
		"class":           class,
		"description":     "Document chunks with access-control principals",
		"vectorizer":      "none",
		"vectorIndexType": "hnsw",
		"vectorIndexConfig": map[string]any{
			"distance": "cosine",
		},
		"properties": []classProperty{
			ident(index.FieldChunkID),
			text(index.FieldText),
			ident(index.FieldSource),
			ident(index.FieldDocumentID),
			text(index.FieldMetadata),
			{Name: index.FieldAllowedPrincipals, DataType: []string{"text[]"}, Tokenization: tokenizationField},
		},
	}
}

// EnsureSchema creates the class when it does not exist yet. A concurrent
// creator winning the race (422) counts as success.
func (x *Index) EnsureSchema(ctx context.Context) error {
	const op = "ensure_schema"
	_, err := x.http.DoJSON(ctx, op, http.MethodGet, "/v1/schema/"+x.class, nil)
	if err == nil {
		x.log.Debug("weaviate class present", "class", x.class)
		return nil
	}
	if vectorhttp.StatusCode(err) != http.StatusNotFound {
		return err
	}
	_, err = x.http.DoJSON(ctx, op, http.MethodPost, "/v1/schema", classDefinition(x.class))
	if err != nil {
		if vectorhttp.StatusCode(err) == http.StatusUnprocessableEntity {
			x.log.Info("weaviate class already exists", "class", x.class)
			return nil
		}
		return err
	}
	x.log.Info("weaviate class created", "class", x.class)
	return nil
}
