package retrieval

import "github.com/yungbote/docrag-backend/internal/index"

// BuildFilter composes caller constraints with the principal ACL. With no
// principals the extra filter is returned unchanged (possibly nil).
func BuildFilter(extra *index.Filter, principals []string) *index.Filter {
	if len(principals) == 0 {
		return extra
	}
	acl := index.ContainsAny(index.FieldAllowedPrincipals, principals)
	if extra == nil {
		return &acl
	}
	combined := index.And(*extra, acl)
	return &combined
}

// NormalizeScore maps index relevance signals to one score: certainty is
// used as-is, otherwise 1-distance, otherwise no score.
func NormalizeScore(certainty, distance *float64) *float64 {
	if certainty != nil {
		v := *certainty
		return &v
	}
	if distance != nil {
		v := 1 - *distance
		return &v
	}
	return nil
}
