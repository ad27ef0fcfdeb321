package qdrant

import (
	"fmt"

	"github.com/yungbote/docrag-backend/internal/index"
	"github.com/yungbote/docrag-backend/internal/platform/vectorhttp"
)

type translatedFilter struct {
	Must   []any
	Should []any
}

func (f translatedFilter) asMap() map[string]any {
	out := map[string]any{}
	if len(f.Must) > 0 {
		out["must"] = f.Must
	}
	if len(f.Should) > 0 {
		out["should"] = f.Should
	}
	return out
}

// translateFilter maps an index.Filter onto Qdrant's must/should clauses.
// Nested branches become nested filter objects.
func translateFilter(f index.Filter) (translatedFilter, error) {
	const op = "filter_translate"
	if err := f.Validate(); err != nil {
		return translatedFilter{}, vectorhttp.Err(backend, op, vectorhttp.OperationErrorValidation, err.Error(), err)
	}
	switch f.Operator {
	case index.OpAnd:
		out := translatedFilter{}
		for _, sub := range f.Operands {
			cond, err := translateCondition(sub)
			if err != nil {
				return translatedFilter{}, err
			}
			out.Must = append(out.Must, cond)
		}
		return out, nil
	case index.OpOr:
		out := translatedFilter{}
		for _, sub := range f.Operands {
			cond, err := translateCondition(sub)
			if err != nil {
				return translatedFilter{}, err
			}
			out.Should = append(out.Should, cond)
		}
		return out, nil
	default:
		cond, err := translateCondition(f)
		if err != nil {
			return translatedFilter{}, err
		}
		return translatedFilter{Must: []any{cond}}, nil
	}
}

func translateCondition(f index.Filter) (any, error) {
	switch f.Operator {
	case index.OpAnd, index.OpOr:
		sub, err := translateFilter(f)
		if err != nil {
			return nil, err
		}
		return sub.asMap(), nil
	case index.OpEqual:
		scalar, ok := toScalarValue(f.Value)
		if !ok {
			return nil, vectorhttp.Err(backend, "filter_translate", vectorhttp.OperationErrorUnsupportedFilter,
				fmt.Sprintf("field %q expects a scalar value, got %T", f.Field, f.Value), nil)
		}
		return qdrantMatchCondition(f.Field, scalar), nil
	case index.OpContainsAny:
		values := make([]any, 0, len(f.Values))
		for _, v := range f.Values {
			values = append(values, v)
		}
		return map[string]any{
			"key":   f.Field,
			"match": map[string]any{"any": values},
		}, nil
	default:
		return nil, vectorhttp.Err(backend, "filter_translate", vectorhttp.OperationErrorUnsupportedFilter,
			fmt.Sprintf("unsupported filter operator %q", f.Operator), nil)
	}
}

func qdrantMatchCondition(key string, value any) map[string]any {
	return map[string]any{
		"key": key,
		"match": map[string]any{
			"value": value,
		},
	}
}

func qdrantTextCondition(key, text string) map[string]any {
	return map[string]any{
		"key": key,
		"match": map[string]any{
			"text": text,
		},
	}
}

func toScalarValue(value any) (any, bool) {
	switch typed := value.(type) {
	case string, bool, int64, float64:
		return typed, true
	case int:
		return int64(typed), true
	case int32:
		return int64(typed), true
	case float32:
		return float64(typed), true
	default:
		return nil, false
	}
}
