package index

import (
	"fmt"
	"strings"
)

type Operator string

const (
	OpAnd         Operator = "And"
	OpOr          Operator = "Or"
	OpEqual       Operator = "Equal"
	OpContainsAny Operator = "ContainsAny"
)

// Filter is a boolean predicate tree. Branch nodes (And/Or) carry Operands;
// leaves carry Field plus Value (Equal) or Values (ContainsAny).
type Filter struct {
	Operator Operator `json:"operator"`
	Field    string   `json:"field,omitempty"`
	Value    any      `json:"value,omitempty"`
	Values   []string `json:"values,omitempty"`
	Operands []Filter `json:"operands,omitempty"`
}

func Equal(field string, value any) Filter {
	return Filter{Operator: OpEqual, Field: field, Value: value}
}

func ContainsAny(field string, values []string) Filter {
	vals := make([]string, len(values))
	copy(vals, values)
	return Filter{Operator: OpContainsAny, Field: field, Values: vals}
}

func And(operands ...Filter) Filter {
	return Filter{Operator: OpAnd, Operands: operands}
}

func Or(operands ...Filter) Filter {
	return Filter{Operator: OpOr, Operands: operands}
}

func (f Filter) Validate() error {
	switch f.Operator {
	case OpAnd, OpOr:
		if len(f.Operands) == 0 {
			return fmt.Errorf("filter %s requires operands", f.Operator)
		}
		for _, op := range f.Operands {
			if err := op.Validate(); err != nil {
				return err
			}
		}
		return nil
	case OpEqual:
		if strings.TrimSpace(f.Field) == "" {
			return fmt.Errorf("filter %s requires a field", f.Operator)
		}
		return nil
	case OpContainsAny:
		if strings.TrimSpace(f.Field) == "" {
			return fmt.Errorf("filter %s requires a field", f.Operator)
		}
		if len(f.Values) == 0 {
			return fmt.Errorf("filter %s on %q requires values", f.Operator, f.Field)
		}
		return nil
	default:
		return fmt.Errorf("unsupported filter operator %q", f.Operator)
	}
}

// Matches evaluates the filter against a property map. Unknown fields never
// match.
func (f Filter) Matches(props map[string]any) bool {
	switch f.Operator {
	case OpAnd:
		for _, op := range f.Operands {
			if !op.Matches(props) {
				return false
			}
		}
		return len(f.Operands) > 0
	case OpOr:
		for _, op := range f.Operands {
			if op.Matches(props) {
				return true
			}
		}
		return false
	case OpEqual:
		v, ok := props[f.Field]
		if !ok {
			return false
		}
		return fmt.Sprint(v) == fmt.Sprint(f.Value)
	case OpContainsAny:
		v, ok := props[f.Field]
		if !ok {
			return false
		}
		have := toStrings(v)
		for _, want := range f.Values {
			for _, h := range have {
				if h == want {
					return true
				}
			}
		}
		return false
	default:
		return false
	}
}

func toStrings(v any) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			out = append(out, fmt.Sprint(item))
		}
		return out
	case string:
		return []string{t}
	default:
		return nil
	}
}
