package core

import "strings"

// Filter is an immutable expression tree over record metadata. The tree
// carries no backend-specific representation: each backend lowers the same
// tree to its own query form (a parameterized SQL fragment, jsonb path
// operators, or a remote boolean-query object), and all lowerings must select
// the same record set for the same logical dataset.
//
// The node set is closed: MatchAll, Equals, Contains, HasKey, In, And, Or,
// Not. Backends dispatch on the concrete type.
type Filter interface {
	// Matches evaluates the filter against a metadata map in memory. It is
	// the reference semantics the backend lowerings must agree with, and
	// the fallback for backends that cannot lower a node natively.
	Matches(meta map[string]string) bool

	isFilter()
}

// MatchAll selects every record.
type MatchAll struct{}

// Equals selects records whose metadata value for Key equals Value exactly.
type Equals struct {
	Key   string
	Value string
}

// Contains selects records whose metadata value for Key contains Substr.
type Contains struct {
	Key    string
	Substr string
}

// HasKey selects records that carry the metadata key at all.
type HasKey struct {
	Key string
}

// In selects records whose metadata value for Key is one of Values.
type In struct {
	Key    string
	Values []string
}

// And selects records matching every sub-filter. An empty And matches all.
type And struct {
	Filters []Filter
}

// Or selects records matching at least one sub-filter. An empty Or matches
// nothing.
type Or struct {
	Filters []Filter
}

// Not selects records not matching the sub-filter.
type Not struct {
	Filter Filter
}

func (MatchAll) isFilter() {}
func (Equals) isFilter()   {}
func (Contains) isFilter() {}
func (HasKey) isFilter()   {}
func (In) isFilter()       {}
func (And) isFilter()      {}
func (Or) isFilter()       {}
func (Not) isFilter()      {}

// Matches implements Filter.
func (MatchAll) Matches(map[string]string) bool { return true }

// Matches implements Filter.
func (f Equals) Matches(meta map[string]string) bool {
	v, ok := meta[f.Key]
	return ok && v == f.Value
}

// Matches implements Filter.
func (f Contains) Matches(meta map[string]string) bool {
	v, ok := meta[f.Key]
	return ok && strings.Contains(v, f.Substr)
}

// Matches implements Filter.
func (f HasKey) Matches(meta map[string]string) bool {
	_, ok := meta[f.Key]
	return ok
}

// Matches implements Filter.
func (f In) Matches(meta map[string]string) bool {
	v, ok := meta[f.Key]
	if !ok {
		return false
	}
	for _, candidate := range f.Values {
		if v == candidate {
			return true
		}
	}
	return false
}

// Matches implements Filter.
func (f And) Matches(meta map[string]string) bool {
	for _, sub := range f.Filters {
		if !sub.Matches(meta) {
			return false
		}
	}
	return true
}

// Matches implements Filter.
func (f Or) Matches(meta map[string]string) bool {
	for _, sub := range f.Filters {
		if sub.Matches(meta) {
			return true
		}
	}
	return false
}

// Matches implements Filter.
func (f Not) Matches(meta map[string]string) bool {
	return !f.Filter.Matches(meta)
}

// All returns a filter selecting every record.
func All() Filter { return MatchAll{} }

// Eq returns a key-equals-value filter.
func Eq(key, value string) Filter { return Equals{Key: key, Value: value} }

// Has returns a key-exists filter.
func Has(key string) Filter { return HasKey{Key: key} }

// Like returns a key-contains-substring filter.
func Like(key, substr string) Filter { return Contains{Key: key, Substr: substr} }

// OneOf returns a key-value-in-set filter.
func OneOf(key string, values ...string) Filter { return In{Key: key, Values: values} }

// AllOf combines filters conjunctively.
func AllOf(filters ...Filter) Filter { return And{Filters: filters} }

// AnyOf combines filters disjunctively.
func AnyOf(filters ...Filter) Filter { return Or{Filters: filters} }

// Negate inverts a filter.
func Negate(filter Filter) Filter { return Not{Filter: filter} }

// Normalize maps a nil filter to MatchAll so backends can lower without nil
// checks at every node.
func Normalize(filter Filter) Filter {
	if filter == nil {
		return MatchAll{}
	}
	return filter
}
