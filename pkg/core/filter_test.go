package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilterMatches(t *testing.T) {
	meta := map[string]string{"lang": "fr", "source": "wikipedia", "tier": "gold"}

	tests := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{name: "match all", filter: All(), want: true},
		{name: "equals hit", filter: Eq("lang", "fr"), want: true},
		{name: "equals miss", filter: Eq("lang", "en"), want: false},
		{name: "equals missing key", filter: Eq("absent", "fr"), want: false},
		{name: "contains hit", filter: Like("source", "wiki"), want: true},
		{name: "contains miss", filter: Like("source", "corpus"), want: false},
		{name: "has key hit", filter: Has("tier"), want: true},
		{name: "has key miss", filter: Has("absent"), want: false},
		{name: "in hit", filter: OneOf("lang", "en", "fr"), want: true},
		{name: "in miss", filter: OneOf("lang", "en", "de"), want: false},
		{name: "and", filter: AllOf(Eq("lang", "fr"), Has("tier")), want: true},
		{name: "and short circuit", filter: AllOf(Eq("lang", "fr"), Eq("tier", "silver")), want: false},
		{name: "or", filter: AnyOf(Eq("lang", "en"), Eq("lang", "fr")), want: true},
		{name: "not", filter: Negate(Eq("lang", "en")), want: true},
		{name: "empty and matches all", filter: AllOf(), want: true},
		{name: "empty or matches none", filter: AnyOf(), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter.Matches(meta))
		})
	}
}

func TestFilterAndAssociativity(t *testing.T) {
	a := Eq("lang", "fr")
	b := Has("source")
	c := Negate(Eq("tier", "silver"))

	left := AllOf(AllOf(a, b), c)
	right := AllOf(a, AllOf(b, c))

	datasets := []map[string]string{
		{"lang": "fr", "source": "wikipedia", "tier": "gold"},
		{"lang": "fr", "source": "wikipedia", "tier": "silver"},
		{"lang": "en", "source": "wikipedia"},
		{"lang": "fr"},
		{},
	}

	for _, meta := range datasets {
		assert.Equal(t, left.Matches(meta), right.Matches(meta), "metadata %v", meta)
	}
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, MatchAll{}, Normalize(nil))
	assert.Equal(t, Eq("k", "v"), Normalize(Eq("k", "v")))
}
