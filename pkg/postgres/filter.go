package postgres

import (
	"fmt"
	"strings"

	"github.com/vim89/hybridstore/pkg/core"
)

// argBinder accumulates positional query arguments, handing out $N
// placeholders as values are bound.
type argBinder struct {
	args []any
}

func (b *argBinder) bind(v any) string {
	b.args = append(b.args, v)
	return fmt.Sprintf("$%d", len(b.args))
}

// lowerFilter compiles a metadata filter to a parameterized predicate over
// the jsonb metadata column. Keys and values are always bound, never
// interpolated.
func lowerFilter(f core.Filter, b *argBinder) string {
	switch f := core.Normalize(f).(type) {
	case core.MatchAll:
		return "TRUE"
	case core.Equals:
		return fmt.Sprintf("metadata->>%s = %s", b.bind(f.Key), b.bind(f.Value))
	case core.Contains:
		return fmt.Sprintf("strpos(COALESCE(metadata->>%s, ''), %s) > 0", b.bind(f.Key), b.bind(f.Substr))
	case core.HasKey:
		return fmt.Sprintf("metadata ? %s", b.bind(f.Key))
	case core.In:
		if len(f.Values) == 0 {
			return "FALSE"
		}
		return fmt.Sprintf("metadata->>%s = ANY(%s)", b.bind(f.Key), b.bind(f.Values))
	case core.And:
		return lowerComposite(f.Filters, " AND ", "TRUE", b)
	case core.Or:
		return lowerComposite(f.Filters, " OR ", "FALSE", b)
	case core.Not:
		return "NOT (" + lowerFilter(f.Filter, b) + ")"
	default:
		// The filter node set is closed; an unknown node matches nothing.
		return "FALSE"
	}
}

func lowerComposite(filters []core.Filter, sep, empty string, b *argBinder) string {
	if len(filters) == 0 {
		return empty
	}
	clauses := make([]string, 0, len(filters))
	for _, sub := range filters {
		clauses = append(clauses, lowerFilter(sub, b))
	}
	return "(" + strings.Join(clauses, sep) + ")"
}

// escapeLike escapes LIKE wildcards so prefix matching stays a true prefix
// match.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
