package qdrant

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vim89/hybridstore/pkg/core"
)

func lowerJSON(t *testing.T, f core.Filter) string {
	t.Helper()
	lowered := lowerFilter(f)
	if lowered == nil {
		return ""
	}
	data, err := json.Marshal(lowered)
	require.NoError(t, err)
	return string(data)
}

func TestLowerFilter(t *testing.T) {
	tests := []struct {
		name   string
		filter core.Filter
		want   string
	}{
		{name: "nil matches all", filter: nil, want: ""},
		{name: "match all", filter: core.All(), want: ""},
		{
			name:   "equals",
			filter: core.Eq("lang", "en"),
			want:   `{"must":[{"key":"meta.lang","match":{"value":"en"}}]}`,
		},
		{
			name:   "in",
			filter: core.OneOf("lang", "en", "fr"),
			want:   `{"must":[{"key":"meta.lang","match":{"any":["en","fr"]}}]}`,
		},
		{
			name:   "has key",
			filter: core.Has("topic"),
			want:   `{"must_not":[{"is_empty":{"key":"meta.topic"}}]}`,
		},
		{
			name:   "contains lowers to text match",
			filter: core.Like("path", "src"),
			want:   `{"must":[{"key":"meta.path","match":{"text":"src"}}]}`,
		},
		{
			name:   "and",
			filter: core.AllOf(core.Eq("a", "1"), core.Eq("b", "2")),
			want:   `{"must":[{"must":[{"key":"meta.a","match":{"value":"1"}}]},{"must":[{"key":"meta.b","match":{"value":"2"}}]}]}`,
		},
		{
			name:   "not",
			filter: core.Negate(core.Eq("lang", "en")),
			want:   `{"must_not":[{"must":[{"key":"meta.lang","match":{"value":"en"}}]}]}`,
		},
		{name: "empty and matches all", filter: core.AllOf(), want: ""},
		{
			name:   "empty or matches none",
			filter: core.AnyOf(),
			want:   `{"must":[{"is_empty":{"key":"_id"}}]}`,
		},
		{
			name:   "empty in matches none",
			filter: core.OneOf("lang"),
			want:   `{"must":[{"is_empty":{"key":"_id"}}]}`,
		},
		{
			name:   "or absorbs match-all",
			filter: core.AnyOf(core.Eq("a", "1"), core.All()),
			want:   "",
		},
		{
			name:   "and drops match-all",
			filter: core.AllOf(core.Eq("a", "1"), core.All()),
			want:   `{"must":[{"must":[{"key":"meta.a","match":{"value":"1"}}]}]}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := lowerJSON(t, tt.filter)
			if tt.want == "" {
				assert.Empty(t, got)
			} else {
				assert.JSONEq(t, tt.want, got)
			}
		})
	}
}
