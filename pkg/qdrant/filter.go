package qdrant

import (
	"github.com/vim89/hybridstore/pkg/core"
)

// Payload keys the store reserves; metadata lives nested under metaKey so
// user keys can never collide with them.
const (
	idKey      = "_id"
	contentKey = "_content"
	tsKey      = "_ts"
	metaKey    = "meta"
)

// lowerFilter compiles a metadata filter to the service's boolean query
// object (must / should / must_not). A nil result means no filter, matching
// everything. Contains lowers to a full-text match condition, which the
// service applies per its own tokenization; exact substring semantics are
// approximated, not guaranteed.
func lowerFilter(f core.Filter) any {
	switch f := core.Normalize(f).(type) {
	case core.MatchAll:
		return nil
	case core.Equals:
		return condition(map[string]any{
			"key":   metaKey + "." + f.Key,
			"match": map[string]any{"value": f.Value},
		})
	case core.Contains:
		return condition(map[string]any{
			"key":   metaKey + "." + f.Key,
			"match": map[string]any{"text": f.Substr},
		})
	case core.HasKey:
		return map[string]any{
			"must_not": []any{map[string]any{
				"is_empty": map[string]any{"key": metaKey + "." + f.Key},
			}},
		}
	case core.In:
		if len(f.Values) == 0 {
			return matchNothing()
		}
		return condition(map[string]any{
			"key":   metaKey + "." + f.Key,
			"match": map[string]any{"any": f.Values},
		})
	case core.And:
		return lowerComposite(f.Filters, "must", nil)
	case core.Or:
		return lowerComposite(f.Filters, "should", matchNothing())
	case core.Not:
		inner := lowerFilter(f.Filter)
		if inner == nil {
			return matchNothing()
		}
		return map[string]any{"must_not": []any{inner}}
	default:
		return matchNothing()
	}
}

func lowerComposite(filters []core.Filter, clause string, empty any) any {
	if len(filters) == 0 {
		return empty
	}
	conds := make([]any, 0, len(filters))
	for _, sub := range filters {
		lowered := lowerFilter(sub)
		if lowered == nil {
			if clause == "should" {
				// X or everything is everything.
				return nil
			}
			continue // X and everything is X
		}
		conds = append(conds, lowered)
	}
	if len(conds) == 0 {
		return nil
	}
	return map[string]any{clause: conds}
}

// condition wraps a leaf condition so it is a valid standalone filter too.
func condition(cond map[string]any) any {
	return map[string]any{"must": []any{cond}}
}

// matchNothing is a filter no point satisfies: the reserved id key is set on
// every point, so requiring it empty excludes everything.
func matchNothing() any {
	return map[string]any{
		"must": []any{map[string]any{
			"is_empty": map[string]any{"key": idKey},
		}},
	}
}
