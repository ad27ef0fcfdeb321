package domain

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Metadata is the open property bag carried by a chunk. Values are limited
// to what JSON can represent: strings, numbers, bools, nested maps and lists.
//
// The vector index stores metadata as a single text property, so the
// EncodeMetadata/DecodeMetadata pair is the only place the bag crosses the
// index boundary.
type Metadata map[string]any

// Clone returns a shallow copy; nil stays an empty map.
func (m Metadata) Clone() Metadata {
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// EncodeMetadata serializes metadata to its stored string form. Non-ASCII
// text is kept as-is and HTML characters are not escaped.
func EncodeMetadata(m Metadata) (string, error) {
	if m == nil {
		m = Metadata{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(m); err != nil {
		return "", err
	}
	return strings.TrimRight(buf.String(), "\n"), nil
}

// DecodeMetadata parses the stored string form. A value that does not decode
// to a JSON object is preserved under the single key "raw".
func DecodeMetadata(raw string) Metadata {
	if strings.TrimSpace(raw) == "" {
		return Metadata{}
	}
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil || m == nil {
		return Metadata{"raw": raw}
	}
	if dec.More() {
		return Metadata{"raw": raw}
	}
	return Metadata(normalizeNumbers(m).(map[string]any))
}

// normalizeNumbers turns json.Number into int64 when integral, else float64,
// so decoded metadata compares equal to what callers originally stored.
func normalizeNumbers(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, inner := range t {
			t[k] = normalizeNumbers(inner)
		}
		return t
	case []any:
		for i, inner := range t {
			t[i] = normalizeNumbers(inner)
		}
		return t
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	default:
		return v
	}
}
