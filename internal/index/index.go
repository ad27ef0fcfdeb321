// Package index defines the contract between the ingestion/retrieval core
// and a vector-capable index. Adapters live under internal/platform.
package index

import "context"

// Property names stored on every index object.
const (
	FieldChunkID           = "chunk_id"
	FieldText              = "text"
	FieldSource            = "source"
	FieldDocumentID        = "document_id"
	FieldMetadata          = "metadata"
	FieldAllowedPrincipals = "allowed_principals"
)

// Properties is the stored property bag. Metadata is the serialized form
// (see domain.EncodeMetadata); AllowedPrincipals stays a list so the index
// can evaluate contains-any natively.
type Properties struct {
	ChunkID           string   `json:"chunk_id"`
	Text              string   `json:"text"`
	Source            string   `json:"source"`
	DocumentID        string   `json:"document_id"`
	Metadata          string   `json:"metadata"`
	AllowedPrincipals []string `json:"allowed_principals"`
}

// Map returns the properties keyed by field name.
func (p Properties) Map() map[string]any {
	principals := make([]string, len(p.AllowedPrincipals))
	copy(principals, p.AllowedPrincipals)
	return map[string]any{
		FieldChunkID:           p.ChunkID,
		FieldText:              p.Text,
		FieldSource:            p.Source,
		FieldDocumentID:        p.DocumentID,
		FieldMetadata:          p.Metadata,
		FieldAllowedPrincipals: principals,
	}
}

// Object is one upsert unit, keyed by ID.
type Object struct {
	ID         string
	Vector     []float32
	Properties Properties
}

// Hit is one search result. Certainty and Distance are whatever relevance
// signals the backend exposes; either or both may be nil.
type Hit struct {
	ObjectID   string
	Properties Properties
	Certainty  *float64
	Distance   *float64
}

type SearchOptions struct {
	Limit  int
	Filter *Filter
}

// VectorIndex is the external index as seen by the core.
type VectorIndex interface {
	Upsert(ctx context.Context, objects []Object) error
	// DeleteWhere removes every object matching filter and returns how many
	// were removed (0 when the backend cannot tell).
	DeleteWhere(ctx context.Context, filter Filter) (int, error)
	SearchVector(ctx context.Context, vector []float32, opts SearchOptions) ([]Hit, error)
	SearchText(ctx context.Context, query string, opts SearchOptions) ([]Hit, error)
}
