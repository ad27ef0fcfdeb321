// Package qdrant implements index.VectorIndex on Qdrant's REST API.
package qdrant

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/yungbote/docrag-backend/internal/index"
	"github.com/yungbote/docrag-backend/internal/platform/logger"
	"github.com/yungbote/docrag-backend/internal/platform/vectorhttp"
)

const backend = "qdrant"

var pointIDNamespaceUUID = uuid.MustParse("0f1705d1-2c3f-4e40-b2f4-f855f7d3c8e8")

type Index struct {
	log      *logger.Logger
	cfg      Config
	distance string
	http     *vectorhttp.Client
}

var _ index.VectorIndex = (*Index)(nil)

type qdrantEnvelope struct {
	Result json.RawMessage `json:"result"`
	Status json.RawMessage `json:"status"`
	Time   float64         `json:"time"`
}

type qdrantPoint struct {
	ID      json.RawMessage `json:"id"`
	Score   *float64        `json:"score"`
	Payload map[string]any  `json:"payload"`
}

func New(log *logger.Logger, cfg Config) (*Index, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	client := vectorhttp.NewClient(backend, cfg.URL, cfg.Timeout)
	if key := strings.TrimSpace(cfg.APIKey); key != "" {
		client.Header.Set("api-key", key)
	}
	x := &Index{
		log:      log.With("service", "QdrantIndex"),
		cfg:      cfg,
		distance: "Cosine",
		http:     client,
	}
	log.Info(
		"Qdrant index selected",
		"provider", backend,
		"url", client.BaseURL,
		"collection", cfg.Collection,
		"vector_dim", cfg.VectorDim,
	)
	return x, nil
}

// PointID maps a chunk id onto a Qdrant point id. UUID chunk ids are used
// verbatim, anything else gets a name-based UUID.
func PointID(chunkID string) string {
	if id, err := uuid.Parse(chunkID); err == nil {
		return id.String()
	}
	return uuid.NewSHA1(pointIDNamespaceUUID, []byte(chunkID)).String()
}

func (x *Index) Upsert(ctx context.Context, objects []index.Object) error {
	const op = "upsert"
	if len(objects) == 0 {
		return nil
	}
	points := make([]map[string]any, 0, len(objects))
	for _, o := range objects {
		id := strings.TrimSpace(o.ID)
		if id == "" {
			return vectorhttp.Err(backend, op, vectorhttp.OperationErrorValidation, "object id is required", nil)
		}
		if len(o.Vector) == 0 {
			return vectorhttp.Err(backend, op, vectorhttp.OperationErrorValidation, fmt.Sprintf("object %q has empty vector", id), nil)
		}
		if x.cfg.VectorDim > 0 && len(o.Vector) != x.cfg.VectorDim {
			return vectorhttp.Err(backend, op, vectorhttp.OperationErrorValidation,
				fmt.Sprintf("object %q dimension mismatch: expected=%d got=%d", id, x.cfg.VectorDim, len(o.Vector)), nil)
		}
		points = append(points, map[string]any{
			"id":      PointID(id),
			"vector":  o.Vector,
			"payload": o.Properties.Map(),
		})
	}
	return x.call(ctx, op, http.MethodPut, x.collectionPath("/points?wait=true"), map[string]any{"points": points}, nil)
}

// DeleteWhere counts the matching points before deleting them; Qdrant's
// delete response carries no count.
func (x *Index) DeleteWhere(ctx context.Context, filter index.Filter) (int, error) {
	const op = "delete"
	translated, err := translateFilter(filter)
	if err != nil {
		return 0, err
	}
	var counted struct {
		Count int `json:"count"`
	}
	if err := x.call(ctx, op, http.MethodPost, x.collectionPath("/points/count"), map[string]any{
		"filter": translated.asMap(),
		"exact":  true,
	}, &counted); err != nil {
		return 0, err
	}
	if counted.Count == 0 {
		return 0, nil
	}
	if err := x.call(ctx, op, http.MethodPost, x.collectionPath("/points/delete?wait=true"), map[string]any{
		"filter": translated.asMap(),
	}, nil); err != nil {
		return 0, err
	}
	return counted.Count, nil
}

func (x *Index) SearchVector(ctx context.Context, vector []float32, opts index.SearchOptions) ([]index.Hit, error) {
	const op = "search_vector"
	if len(vector) == 0 {
		return nil, vectorhttp.Err(backend, op, vectorhttp.OperationErrorValidation, "query vector required", nil)
	}
	if x.cfg.VectorDim > 0 && len(vector) != x.cfg.VectorDim {
		return nil, vectorhttp.Err(backend, op, vectorhttp.OperationErrorValidation,
			fmt.Sprintf("query vector dimension mismatch: expected=%d got=%d", x.cfg.VectorDim, len(vector)), nil)
	}
	req := map[string]any{
		"vector":       vector,
		"limit":        limitOrDefault(opts.Limit),
		"with_payload": true,
		"with_vector":  false,
	}
	if opts.Filter != nil {
		translated, err := translateFilter(*opts.Filter)
		if err != nil {
			return nil, err
		}
		req["filter"] = translated.asMap()
	}
	var points []qdrantPoint
	if err := x.call(ctx, op, http.MethodPost, x.collectionPath("/points/search"), req, &points); err != nil {
		return nil, err
	}
	out := make([]index.Hit, 0, len(points))
	for _, p := range points {
		hit := toHit(p)
		if p.Score != nil {
			hit.Certainty = x.certainty(*p.Score)
		}
		out = append(out, hit)
	}
	return out, nil
}

// SearchText scrolls points whose text matches the full-text condition.
// Scroll has no ranking, so hits carry no relevance signal.
func (x *Index) SearchText(ctx context.Context, query string, opts index.SearchOptions) ([]index.Hit, error) {
	const op = "search_text"
	query = strings.TrimSpace(query)
	if query == "" {
		return []index.Hit{}, nil
	}
	filter := translatedFilter{Must: []any{qdrantTextCondition(index.FieldText, query)}}
	if opts.Filter != nil {
		extra, err := translateFilter(*opts.Filter)
		if err != nil {
			return nil, err
		}
		filter.Must = append(filter.Must, extra.asMap())
	}
	var page struct {
		Points []qdrantPoint `json:"points"`
	}
	if err := x.call(ctx, op, http.MethodPost, x.collectionPath("/points/scroll"), map[string]any{
		"filter":       filter.asMap(),
		"limit":        limitOrDefault(opts.Limit),
		"with_payload": true,
		"with_vector":  false,
	}, &page); err != nil {
		return nil, err
	}
	out := make([]index.Hit, 0, len(page.Points))
	for _, p := range page.Points {
		out = append(out, toHit(p))
	}
	return out, nil
}

func (x *Index) call(ctx context.Context, op, method, path string, in, out any) error {
	raw, err := x.http.DoJSON(ctx, op, method, path, in)
	if err != nil {
		return err
	}
	var envelope qdrantEnvelope
	if err := x.http.Decode(op, raw, &envelope); err != nil {
		return err
	}
	if statusErr := parseEnvelopeStatus(envelope.Status); statusErr != "" {
		return &vectorhttp.OperationError{
			Backend:   backend,
			Code:      vectorhttp.OperationErrorQueryFailed,
			Operation: op,
			Message:   statusErr,
		}
	}
	if out == nil || len(envelope.Result) == 0 || string(envelope.Result) == "null" {
		return nil
	}
	return x.http.Decode(op, envelope.Result, out)
}

func parseEnvelopeStatus(raw json.RawMessage) string {
	status := strings.TrimSpace(string(raw))
	if status == "" || status == "null" {
		return ""
	}
	var statusString string
	if err := json.Unmarshal(raw, &statusString); err == nil {
		if strings.EqualFold(statusString, "ok") {
			return ""
		}
		return fmt.Sprintf("qdrant status=%q", statusString)
	}
	var statusObject struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &statusObject); err == nil && strings.TrimSpace(statusObject.Error) != "" {
		return strings.TrimSpace(statusObject.Error)
	}
	return fmt.Sprintf("qdrant status=%s", status)
}

// certainty maps a Qdrant score into [0,1]. Cosine similarity is shifted
// like Weaviate's certainty; distance metrics are inverted.
func (x *Index) certainty(score float64) *float64 {
	var v float64
	switch strings.ToLower(x.distance) {
	case "euclid", "manhattan":
		if score < 0 {
			score = -score
		}
		v = 1.0 / (1.0 + score)
	case "dot":
		v = score
	default:
		v = (1 + score) / 2
	}
	return &v
}

func toHit(p qdrantPoint) index.Hit {
	return index.Hit{
		ObjectID:   decodePointID(p.ID),
		Properties: propertiesFromPayload(p.Payload),
	}
}

func propertiesFromPayload(payload map[string]any) index.Properties {
	str := func(k string) string {
		if s, ok := payload[k].(string); ok {
			return s
		}
		return ""
	}
	var principals []string
	switch v := payload[index.FieldAllowedPrincipals].(type) {
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				principals = append(principals, s)
			}
		}
	case string:
		principals = []string{v}
	}
	return index.Properties{
		ChunkID:           str(index.FieldChunkID),
		Text:              str(index.FieldText),
		Source:            str(index.FieldSource),
		DocumentID:        str(index.FieldDocumentID),
		Metadata:          str(index.FieldMetadata),
		AllowedPrincipals: principals,
	}
}

func decodePointID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var idString string
	if err := json.Unmarshal(raw, &idString); err == nil {
		return strings.TrimSpace(idString)
	}
	var idNumber int64
	if err := json.Unmarshal(raw, &idNumber); err == nil {
		return fmt.Sprintf("%d", idNumber)
	}
	return strings.TrimSpace(string(raw))
}

func limitOrDefault(n int) int {
	if n <= 0 {
		return 10
	}
	return n
}

func (x *Index) collectionPath(suffix string) string {
	path := "/collections/" + x.cfg.Collection
	if strings.TrimSpace(suffix) == "" {
		return path
	}
	return path + suffix
}
