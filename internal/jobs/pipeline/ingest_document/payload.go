package ingest_document

import (
	"encoding/json"

	"github.com/yungbote/docrag-backend/internal/domain"
)

// Payload is the queued form of one ingestion request. Metadata travels as
// its canonical JSON encoding so integer values survive the round trip.
type Payload struct {
	DocumentID        string          `json:"document_id"`
	Source            string          `json:"source"`
	Text              string          `json:"text"`
	Metadata          json.RawMessage `json:"metadata,omitempty"`
	AllowedPrincipals []string        `json:"allowed_principals,omitempty"`
	ChunkSize         int             `json:"chunk_size,omitempty"`
	ChunkOverlap      *int            `json:"chunk_overlap,omitempty"`
	TraceID           string          `json:"trace_id,omitempty"`
	RequestID         string          `json:"request_id,omitempty"`
}

func (p *Payload) SetMetadata(m domain.Metadata) error {
	raw, err := domain.EncodeMetadata(m)
	if err != nil {
		return err
	}
	p.Metadata = json.RawMessage(raw)
	return nil
}

func (p Payload) DecodedMetadata() domain.Metadata {
	if len(p.Metadata) == 0 {
		return domain.Metadata{}
	}
	return domain.DecodeMetadata(string(p.Metadata))
}
