package sqlite

import (
	"fmt"
	"strings"

	"github.com/vim89/hybridstore/pkg/core"
)

// lowerFilter compiles a metadata filter to a parameterized SQL predicate
// over the JSON metadata column. Values are always bound as parameters,
// never interpolated; the key becomes a bound json path expression.
func lowerFilter(f core.Filter) (string, []any) {
	switch f := core.Normalize(f).(type) {
	case core.MatchAll:
		return "1=1", nil
	case core.Equals:
		return "json_extract(metadata, ?) = ?", []any{jsonPath(f.Key), f.Value}
	case core.Contains:
		return "instr(COALESCE(json_extract(metadata, ?), ''), ?) > 0", []any{jsonPath(f.Key), f.Substr}
	case core.HasKey:
		// Metadata values are strings, so a present key never extracts to
		// SQL NULL.
		return "json_extract(metadata, ?) IS NOT NULL", []any{jsonPath(f.Key)}
	case core.In:
		if len(f.Values) == 0 {
			return "0=1", nil
		}
		placeholders := make([]string, len(f.Values))
		args := make([]any, 0, len(f.Values)+1)
		args = append(args, jsonPath(f.Key))
		for i, v := range f.Values {
			placeholders[i] = "?"
			args = append(args, v)
		}
		return fmt.Sprintf("json_extract(metadata, ?) IN (%s)", strings.Join(placeholders, ",")), args
	case core.And:
		return lowerComposite(f.Filters, " AND ", "1=1")
	case core.Or:
		return lowerComposite(f.Filters, " OR ", "0=1")
	case core.Not:
		clause, args := lowerFilter(f.Filter)
		return "NOT (" + clause + ")", args
	default:
		// The filter node set is closed; an unknown node matches nothing.
		return "0=1", nil
	}
}

func lowerComposite(filters []core.Filter, sep, empty string) (string, []any) {
	if len(filters) == 0 {
		return empty, nil
	}
	clauses := make([]string, 0, len(filters))
	var args []any
	for _, sub := range filters {
		clause, subArgs := lowerFilter(sub)
		clauses = append(clauses, clause)
		args = append(args, subArgs...)
	}
	return "(" + strings.Join(clauses, sep) + ")", args
}

// jsonPath builds a json_extract path for a metadata key.
func jsonPath(key string) string {
	return `$."` + strings.ReplaceAll(key, `"`, `\"`) + `"`
}

// escapeLike escapes LIKE wildcards in a literal so prefix matching stays a
// true prefix match.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
