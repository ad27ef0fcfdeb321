// Package memindex is an in-process index.VectorIndex used for local runs
// and tests.
package memindex

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/yungbote/docrag-backend/internal/index"
)

type entry struct {
	seq    uint64
	vector []float32
	props  index.Properties
}

type Index struct {
	mu      sync.RWMutex
	seq     uint64
	objects map[string]*entry
}

var _ index.VectorIndex = (*Index)(nil)

func New() *Index {
	return &Index{objects: map[string]*entry{}}
}

func (x *Index) Upsert(ctx context.Context, objects []index.Object) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, o := range objects {
		if strings.TrimSpace(o.ID) == "" {
			return fmt.Errorf("memindex: object id required")
		}
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	for _, o := range objects {
		vec := make([]float32, len(o.Vector))
		copy(vec, o.Vector)
		props := o.Properties
		props.AllowedPrincipals = append([]string(nil), o.Properties.AllowedPrincipals...)
		if prev, ok := x.objects[o.ID]; ok {
			prev.vector = vec
			prev.props = props
			continue
		}
		x.seq++
		x.objects[o.ID] = &entry{seq: x.seq, vector: vec, props: props}
	}
	return nil
}

func (x *Index) DeleteWhere(ctx context.Context, filter index.Filter) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := filter.Validate(); err != nil {
		return 0, err
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	n := 0
	for id, e := range x.objects {
		if filter.Matches(e.props.Map()) {
			delete(x.objects, id)
			n++
		}
	}
	return n, nil
}

// SearchVector ranks by cosine similarity. Certainty is (1+cos)/2 and
// distance is 1-cos, matching a cosine-configured remote index.
func (x *Index) SearchVector(ctx context.Context, vector []float32, opts index.SearchOptions) ([]index.Hit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(vector) == 0 {
		return nil, fmt.Errorf("memindex: query vector required")
	}
	cands, err := x.candidates(opts.Filter)
	if err != nil {
		return nil, err
	}
	type scored struct {
		e   *entry
		id  string
		cos float64
	}
	ranked := make([]scored, 0, len(cands))
	for id, e := range cands {
		if len(e.vector) != len(vector) {
			continue
		}
		ranked = append(ranked, scored{e: e, id: id, cos: cosine(vector, e.vector)})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].cos == ranked[j].cos {
			return ranked[i].e.seq < ranked[j].e.seq
		}
		return ranked[i].cos > ranked[j].cos
	})
	ranked = ranked[:limit(len(ranked), opts.Limit)]

	out := make([]index.Hit, 0, len(ranked))
	for _, r := range ranked {
		certainty := (1 + r.cos) / 2
		distance := 1 - r.cos
		out = append(out, index.Hit{
			ObjectID:   r.id,
			Properties: r.e.props,
			Certainty:  &certainty,
			Distance:   &distance,
		})
	}
	return out, nil
}

// SearchText ranks by the share of query terms present in the chunk text.
// Chunks sharing no term are not returned.
func (x *Index) SearchText(ctx context.Context, query string, opts index.SearchOptions) ([]index.Hit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	terms := tokenize(query)
	if len(terms) == 0 {
		return []index.Hit{}, nil
	}
	cands, err := x.candidates(opts.Filter)
	if err != nil {
		return nil, err
	}
	type scored struct {
		e     *entry
		id    string
		score float64
	}
	ranked := make([]scored, 0, len(cands))
	for id, e := range cands {
		have := tokenize(e.props.Text)
		hits := 0
		for t := range terms {
			if _, ok := have[t]; ok {
				hits++
			}
		}
		if hits == 0 {
			continue
		}
		ranked = append(ranked, scored{e: e, id: id, score: float64(hits) / float64(len(terms))})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].score == ranked[j].score {
			return ranked[i].e.seq < ranked[j].e.seq
		}
		return ranked[i].score > ranked[j].score
	})
	ranked = ranked[:limit(len(ranked), opts.Limit)]

	out := make([]index.Hit, 0, len(ranked))
	for _, r := range ranked {
		certainty := r.score
		out = append(out, index.Hit{ObjectID: r.id, Properties: r.e.props, Certainty: &certainty})
	}
	return out, nil
}

// Len reports the number of stored objects.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.objects)
}

func (x *Index) candidates(filter *index.Filter) (map[string]*entry, error) {
	if filter != nil {
		if err := filter.Validate(); err != nil {
			return nil, err
		}
	}
	x.mu.RLock()
	defer x.mu.RUnlock()
	out := make(map[string]*entry, len(x.objects))
	for id, e := range x.objects {
		if filter != nil && !filter.Matches(e.props.Map()) {
			continue
		}
		cp := *e
		out[id] = &cp
	}
	return out, nil
}

func limit(n, want int) int {
	if want > 0 && want < n {
		return want
	}
	return n
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func tokenize(s string) map[string]struct{} {
	out := map[string]struct{}{}
	for _, f := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		out[f] = struct{}{}
	}
	return out
}
