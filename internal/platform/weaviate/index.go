// Package weaviate implements index.VectorIndex on Weaviate's REST batch
// endpoints and GraphQL Get queries.
package weaviate

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/yungbote/docrag-backend/internal/index"
	"github.com/yungbote/docrag-backend/internal/platform/logger"
	"github.com/yungbote/docrag-backend/internal/platform/vectorhttp"
)

const backend = "weaviate"

var objectIDNamespace = uuid.MustParse("6b1c3f0e-8f4e-4d39-9a63-2f0f6c1d7a52")

type Index struct {
	log      *logger.Logger
	cfg      Config
	class    string
	textMode string
	http     *vectorhttp.Client
}

var _ index.VectorIndex = (*Index)(nil)

func New(log *logger.Logger, cfg Config) (*Index, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	client := vectorhttp.NewClient(backend, cfg.URL, cfg.Timeout)
	if key := strings.TrimSpace(cfg.APIKey); key != "" {
		client.Header.Set("Authorization", "Bearer "+key)
	}
	mode := strings.TrimSpace(cfg.TextSearchMode)
	if mode == "" {
		mode = TextSearchBM25
	}
	x := &Index{
		log:      log.With("service", "WeaviateIndex"),
		cfg:      cfg,
		class:    ClassName(cfg.Index),
		textMode: mode,
		http:     client,
	}
	log.Info("Weaviate index selected", "provider", backend, "url", client.BaseURL, "class", x.class, "text_search", mode)
	return x, nil
}

// ObjectID maps a chunk id onto the UUID Weaviate requires. UUID chunk ids
// are used verbatim.
func ObjectID(chunkID string) string {
	if id, err := uuid.Parse(chunkID); err == nil {
		return id.String()
	}
	return uuid.NewSHA1(objectIDNamespace, []byte(chunkID)).String()
}

type batchObject struct {
	Class      string         `json:"class"`
	ID         string         `json:"id"`
	Properties map[string]any `json:"properties"`
	Vector     []float32      `json:"vector,omitempty"`
}

type batchResult struct {
	ID     string `json:"id"`
	Result struct {
		Errors *struct {
			Error []struct {
				Message string `json:"message"`
			} `json:"error"`
		} `json:"errors"`
	} `json:"result"`
}

func (x *Index) Upsert(ctx context.Context, objects []index.Object) error {
	const op = "upsert"
	if len(objects) == 0 {
		return nil
	}
	batch := make([]batchObject, 0, len(objects))
	for _, o := range objects {
		if strings.TrimSpace(o.ID) == "" {
			return vectorhttp.Err(backend, op, vectorhttp.OperationErrorValidation, "object id is required", nil)
		}
		if len(o.Vector) == 0 {
			return vectorhttp.Err(backend, op, vectorhttp.OperationErrorValidation, fmt.Sprintf("object %q has empty vector", o.ID), nil)
		}
		batch = append(batch, batchObject{
			Class:      x.class,
			ID:         ObjectID(o.ID),
			Properties: o.Properties.Map(),
			Vector:     o.Vector,
		})
	}

	raw, err := x.http.DoJSON(ctx, op, http.MethodPost, "/v1/batch/objects", map[string]any{"objects": batch})
	if err != nil {
		return err
	}
	var results []batchResult
	if err := x.http.Decode(op, raw, &results); err != nil {
		return err
	}
	var msgs []string
	for _, r := range results {
		if r.Result.Errors == nil {
			continue
		}
		for _, e := range r.Result.Errors.Error {
			msgs = append(msgs, fmt.Sprintf("%s: %s", r.ID, e.Message))
		}
	}
	if len(msgs) > 0 {
		return &vectorhttp.OperationError{
			Backend:   backend,
			Code:      vectorhttp.OperationErrorQueryFailed,
			Operation: op,
			Message:   fmt.Sprintf("%d of %d objects rejected: %s", len(msgs), len(batch), strings.Join(msgs, "; ")),
		}
	}
	return nil
}

func (x *Index) DeleteWhere(ctx context.Context, filter index.Filter) (int, error) {
	const op = "delete"
	where, err := translateFilter(filter)
	if err != nil {
		return 0, err
	}
	req := map[string]any{
		"match":  map[string]any{"class": x.class, "where": where},
		"output": "minimal",
		"dryRun": false,
	}
	raw, err := x.http.DoJSON(ctx, op, http.MethodDelete, "/v1/batch/objects", req)
	if err != nil {
		return 0, err
	}
	var resp struct {
		Results struct {
			Matches    int `json:"matches"`
			Successful int `json:"successful"`
			Failed     int `json:"failed"`
		} `json:"results"`
	}
	if err := x.http.Decode(op, raw, &resp); err != nil {
		return 0, err
	}
	if resp.Results.Failed > 0 {
		return resp.Results.Successful, &vectorhttp.OperationError{
			Backend:   backend,
			Code:      vectorhttp.OperationErrorQueryFailed,
			Operation: op,
			Message:   fmt.Sprintf("%d of %d matching objects failed to delete", resp.Results.Failed, resp.Results.Matches),
		}
	}
	return resp.Results.Successful, nil
}

func (x *Index) SearchVector(ctx context.Context, vector []float32, opts index.SearchOptions) ([]index.Hit, error) {
	if len(vector) == 0 {
		return nil, vectorhttp.Err(backend, "search_vector", vectorhttp.OperationErrorValidation, "query vector required", nil)
	}
	parts := make([]string, len(vector))
	for i, v := range vector {
		parts[i] = strconv.FormatFloat(float64(v), 'g', -1, 32)
	}
	return x.get(ctx, "search_vector", "nearVector: {vector: ["+strings.Join(parts, ", ")+"]}", opts)
}

func (x *Index) SearchText(ctx context.Context, query string, opts index.SearchOptions) ([]index.Hit, error) {
	q := gqlValue(query)
	if x.textMode == TextSearchNearText {
		return x.get(ctx, "search_text", "nearText: {concepts: ["+q+"]}", opts)
	}
	return x.get(ctx, "search_text", "bm25: {query: "+q+"}", opts)
}

type graphQLResponse struct {
	Data struct {
		Get map[string][]map[string]json.RawMessage `json:"Get"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

type additional struct {
	ID        string   `json:"id"`
	Certainty *float64 `json:"certainty"`
	Distance  *float64 `json:"distance"`
}

func (x *Index) get(ctx context.Context, op, search string, opts index.SearchOptions) ([]index.Hit, error) {
	args := []string{search}
	if opts.Filter != nil {
		where, err := translateFilter(*opts.Filter)
		if err != nil {
			return nil, err
		}
		args = append(args, "where: "+where.graphQL())
	}
	if opts.Limit > 0 {
		args = append(args, "limit: "+strconv.Itoa(opts.Limit))
	}
	fields := strings.Join([]string{
		index.FieldChunkID, index.FieldText, index.FieldSource, index.FieldDocumentID,
		index.FieldMetadata, index.FieldAllowedPrincipals,
		"_additional { id certainty distance }",
	}, " ")
	query := fmt.Sprintf("{ Get { %s(%s) { %s } } }", x.class, strings.Join(args, ", "), fields)

	raw, err := x.http.DoJSON(ctx, op, http.MethodPost, "/v1/graphql", map[string]string{"query": query})
	if err != nil {
		return nil, err
	}
	var resp graphQLResponse
	if err := x.http.Decode(op, raw, &resp); err != nil {
		return nil, err
	}
	if len(resp.Errors) > 0 {
		msgs := make([]string, 0, len(resp.Errors))
		for _, e := range resp.Errors {
			msgs = append(msgs, e.Message)
		}
		return nil, &vectorhttp.OperationError{
			Backend:   backend,
			Code:      vectorhttp.OperationErrorQueryFailed,
			Operation: op,
			Message:   strings.Join(msgs, "; "),
		}
	}

	rows := resp.Data.Get[x.class]
	out := make([]index.Hit, 0, len(rows))
	for _, row := range rows {
		var add additional
		if rawAdd, ok := row["_additional"]; ok {
			if err := json.Unmarshal(rawAdd, &add); err != nil {
				return nil, vectorhttp.Err(backend, op, vectorhttp.OperationErrorDecodeFailed, "decode _additional failed", err)
			}
		}
		props, err := decodeProperties(row)
		if err != nil {
			return nil, vectorhttp.Err(backend, op, vectorhttp.OperationErrorDecodeFailed, "decode properties failed", err)
		}
		out = append(out, index.Hit{
			ObjectID:   add.ID,
			Properties: props,
			Certainty:  add.Certainty,
			Distance:   add.Distance,
		})
	}
	return out, nil
}

func decodeProperties(row map[string]json.RawMessage) (index.Properties, error) {
	var p index.Properties
	str := func(field string, dst *string) error {
		raw, ok := row[field]
		if !ok || string(raw) == "null" {
			return nil
		}
		return json.Unmarshal(raw, dst)
	}
	for field, dst := range map[string]*string{
		index.FieldChunkID:    &p.ChunkID,
		index.FieldText:       &p.Text,
		index.FieldSource:     &p.Source,
		index.FieldDocumentID: &p.DocumentID,
		index.FieldMetadata:   &p.Metadata,
	} {
		if err := str(field, dst); err != nil {
			return p, fmt.Errorf("%s: %w", field, err)
		}
	}
	if raw, ok := row[index.FieldAllowedPrincipals]; ok && string(raw) != "null" {
		if err := json.Unmarshal(raw, &p.AllowedPrincipals); err != nil {
			return p, fmt.Errorf("%s: %w", index.FieldAllowedPrincipals, err)
		}
	}
	return p, nil
}
