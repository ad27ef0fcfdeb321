package domain

import "strings"

// DefaultPublicPrincipal is the sentinel granted to chunks ingested without
// an explicit audience.
const DefaultPublicPrincipal = "public"

// DocumentChunk is a word-bounded slice of a source document and the unit
// of retrieval. Score is nil until the chunk comes back from a search.
type DocumentChunk struct {
	ID                string   `json:"id"`
	Text              string   `json:"text"`
	Source            string   `json:"source"`
	DocumentID        string   `json:"document_id,omitempty"`
	Metadata          Metadata `json:"metadata"`
	AllowedPrincipals []string `json:"allowed_principals"`
	Score             *float64 `json:"score,omitempty"`
}

// NormalizePrincipals trims and de-duplicates principal tokens, keeping the
// first occurrence order. An empty result falls back to public.
func NormalizePrincipals(principals []string, public string) []string {
	out := make([]string, 0, len(principals))
	seen := make(map[string]struct{}, len(principals))
	for _, p := range principals {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	if len(out) == 0 {
		public = strings.TrimSpace(public)
		if public == "" {
			public = DefaultPublicPrincipal
		}
		out = append(out, public)
	}
	return out
}
