package weaviate

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/yungbote/docrag-backend/internal/index"
	"github.com/yungbote/docrag-backend/internal/platform/vectorhttp"
)

// whereClause is the Weaviate where-filter. It is sent as JSON to the REST
// batch endpoints and rendered as a GraphQL input object for Get queries.
type whereClause struct {
	Operator     string        `json:"operator"`
	Path         []string      `json:"path,omitempty"`
	Operands     []whereClause `json:"operands,omitempty"`
	ValueText    any           `json:"valueText,omitempty"`
	ValueInt     *int64        `json:"valueInt,omitempty"`
	ValueNumber  *float64      `json:"valueNumber,omitempty"`
	ValueBoolean *bool         `json:"valueBoolean,omitempty"`
}

func translateFilter(f index.Filter) (whereClause, error) {
	const op = "filter_translate"
	if err := f.Validate(); err != nil {
		return whereClause{}, vectorhttp.Err(backend, op, vectorhttp.OperationErrorValidation, err.Error(), err)
	}
	switch f.Operator {
	case index.OpAnd, index.OpOr:
		out := whereClause{Operator: string(f.Operator)}
		for _, sub := range f.Operands {
			w, err := translateFilter(sub)
			if err != nil {
				return whereClause{}, err
			}
			out.Operands = append(out.Operands, w)
		}
		return out, nil
	case index.OpEqual:
		w := whereClause{Operator: "Equal", Path: []string{f.Field}}
		switch v := f.Value.(type) {
		case string:
			w.ValueText = v
		case bool:
			w.ValueBoolean = &v
		case int:
			n := int64(v)
			w.ValueInt = &n
		case int64:
			w.ValueInt = &v
		case float64:
			w.ValueNumber = &v
		default:
			return whereClause{}, vectorhttp.Err(backend, op, vectorhttp.OperationErrorUnsupportedFilter,
				fmt.Sprintf("unsupported value type %T for field %q", f.Value, f.Field), nil)
		}
		return w, nil
	case index.OpContainsAny:
		vals := make([]string, len(f.Values))
		copy(vals, f.Values)
		return whereClause{Operator: "ContainsAny", Path: []string{f.Field}, ValueText: vals}, nil
	default:
		return whereClause{}, vectorhttp.Err(backend, op, vectorhttp.OperationErrorUnsupportedFilter,
			fmt.Sprintf("unsupported filter operator %q", f.Operator), nil)
	}
}

// graphQL renders the clause as a GraphQL input object: keys are bare and
// the operator is an enum literal.
func (w whereClause) graphQL() string {
	var b strings.Builder
	b.WriteString("{operator: ")
	b.WriteString(w.Operator)
	if len(w.Path) > 0 {
		b.WriteString(", path: ")
		b.WriteString(gqlValue(w.Path))
	}
	if len(w.Operands) > 0 {
		parts := make([]string, 0, len(w.Operands))
		for _, o := range w.Operands {
			parts = append(parts, o.graphQL())
		}
		b.WriteString(", operands: [")
		b.WriteString(strings.Join(parts, ", "))
		b.WriteString("]")
	}
	switch {
	case w.ValueText != nil:
		b.WriteString(", valueText: ")
		b.WriteString(gqlValue(w.ValueText))
	case w.ValueInt != nil:
		fmt.Fprintf(&b, ", valueInt: %d", *w.ValueInt)
	case w.ValueNumber != nil:
		b.WriteString(", valueNumber: ")
		b.WriteString(gqlValue(*w.ValueNumber))
	case w.ValueBoolean != nil:
		fmt.Fprintf(&b, ", valueBoolean: %t", *w.ValueBoolean)
	}
	b.WriteString("}")
	return b.String()
}

// gqlValue renders scalars and lists. JSON string and number literals are
// valid GraphQL literals.
func gqlValue(v any) string {
	switch t := v.(type) {
	case []string:
		parts := make([]string, 0, len(t))
		for _, s := range t {
			parts = append(parts, gqlValue(s))
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, k+": "+gqlValue(t[k]))
		}
		return "{" + strings.Join(parts, ", ") + "}"
	default:
		raw, err := json.Marshal(t)
		if err != nil {
			return "null"
		}
		return string(raw)
	}
}
