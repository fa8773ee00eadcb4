package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vim89/hybridstore/pkg/core"
)

func newTestStore(t *testing.T) *VectorStore {
	t.Helper()
	s, err := NewVectorStore(context.Background(), Config{
		Path: filepath.Join(t.TempDir(), "test.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestUpsertGetRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := &core.VectorRecord{
		ID:       "doc-1",
		Vector:   []float32{0.1, 0.2, 0.3},
		Content:  "hello world",
		Metadata: map[string]string{"lang": "en", "source": "test"},
	}
	require.NoError(t, s.Upsert(ctx, rec))

	got, err := s.Get(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, rec.Vector, got.Vector)
	assert.Equal(t, rec.Content, got.Content)
	assert.Equal(t, rec.Metadata, got.Metadata)
}

func TestUpsertGeneratesID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := &core.VectorRecord{Vector: []float32{1, 0}}
	require.NoError(t, s.Upsert(ctx, rec))
	assert.NotEmpty(t, rec.ID)

	_, err := s.Get(ctx, rec.ID)
	assert.NoError(t, err)
}

func TestUpsertReplacesExisting(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, &core.VectorRecord{ID: "x", Vector: []float32{1, 0}, Content: "old"}))
	require.NoError(t, s.Upsert(ctx, &core.VectorRecord{ID: "x", Vector: []float32{0, 1}, Content: "new"}))

	got, err := s.Get(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, "new", got.Content)
	assert.Equal(t, []float32{0, 1}, got.Vector)

	count, err := s.Count(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestUpsertInvalidVector(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.Upsert(ctx, &core.VectorRecord{ID: "bad", Vector: nil})
	assert.ErrorIs(t, err, core.ErrInvalidVector)
}

func TestDeleteThenGetNotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, &core.VectorRecord{ID: "gone", Vector: []float32{1}}))
	require.NoError(t, s.Delete(ctx, "gone"))

	_, err := s.Get(ctx, "gone")
	assert.ErrorIs(t, err, core.ErrNotFound)

	assert.ErrorIs(t, s.Delete(ctx, "gone"), core.ErrNotFound)
}

func TestSearchRanking(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, &core.VectorRecord{ID: "a", Vector: []float32{1, 0}}))
	require.NoError(t, s.Upsert(ctx, &core.VectorRecord{
		ID: "b", Vector: []float32{0, 1}, Metadata: map[string]string{"lang": "fr"},
	}))

	results, err := s.Search(ctx, []float32{1, 0}, 1, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].ID)
	assert.InDelta(t, 1.0, results[0].Score, 1e-6)

	// The filter restricts eligibility before ranking, so the lower-scoring
	// record wins when it is the only eligible one.
	results, err = s.Search(ctx, []float32{1, 0}, 1, core.Eq("lang", "fr"))
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "b", results[0].ID)
}

func TestSearchTopKBoundAndScoreRange(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	vectors := [][]float32{{1, 0}, {0.9, 0.1}, {0, 1}, {-1, 0}, {0.5, 0.5}}
	for i, v := range vectors {
		require.NoError(t, s.Upsert(ctx, &core.VectorRecord{ID: string(rune('a' + i)), Vector: v}))
	}

	results, err := s.Search(ctx, []float32{1, 0}, 3, nil)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(results), 3)
	for i, r := range results {
		assert.GreaterOrEqual(t, r.Score, 0.0)
		assert.LessOrEqual(t, r.Score, 1.0)
		if i > 0 {
			assert.GreaterOrEqual(t, results[i-1].Score, r.Score)
		}
	}
}

func TestSearchDimensionMismatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, &core.VectorRecord{ID: "a", Vector: []float32{1, 0, 0}}))

	_, err := s.Search(ctx, []float32{1, 0}, 5, nil)
	assert.ErrorIs(t, err, core.ErrDimensionMismatch)
}

func TestSearchEmptyStore(t *testing.T) {
	s := newTestStore(t)

	results, err := s.Search(context.Background(), []float32{1, 0}, 5, nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearchMixedDimensions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, &core.VectorRecord{ID: "d2", Vector: []float32{1, 0}}))
	require.NoError(t, s.Upsert(ctx, &core.VectorRecord{ID: "d3", Vector: []float32{1, 0, 0}}))

	// Only rows matching the query's dimensionality participate.
	results, err := s.Search(ctx, []float32{1, 0}, 10, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "d2", results[0].ID)
}

func TestUpsertBatchAtomic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.UpsertBatch(ctx, []*core.VectorRecord{
		{ID: "ok", Vector: []float32{1, 0}},
		{ID: "bad", Vector: nil},
	})
	assert.ErrorIs(t, err, core.ErrInvalidVector)

	// The failed batch must leave no partial state behind.
	_, err = s.Get(ctx, "ok")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestGetBatchSkipsMissing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertBatch(ctx, []*core.VectorRecord{
		{ID: "a", Vector: []float32{1}},
		{ID: "b", Vector: []float32{2}},
	}))

	recs, err := s.GetBatch(ctx, []string{"a", "missing", "b"})
	require.NoError(t, err)
	assert.Len(t, recs, 2)
}

func TestListRecencyOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"first", "second", "third"} {
		require.NoError(t, s.Upsert(ctx, &core.VectorRecord{ID: id, Vector: []float32{1}}))
	}

	recs, err := s.List(ctx, 2, 0, nil)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "third", recs[0].ID)
	assert.Equal(t, "second", recs[1].ID)

	recs, err = s.List(ctx, 2, 2, nil)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "first", recs[0].ID)
}

func TestDeleteByPrefix(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertBatch(ctx, []*core.VectorRecord{
		{ID: "user:1", Vector: []float32{1}},
		{ID: "user:2", Vector: []float32{2}},
		{ID: "item:1", Vector: []float32{3}},
	}))

	deleted, err := s.DeleteByPrefix(ctx, "user:")
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	count, err := s.Count(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestDeleteByFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertBatch(ctx, []*core.VectorRecord{
		{ID: "a", Vector: []float32{1}, Metadata: map[string]string{"lang": "en"}},
		{ID: "b", Vector: []float32{2}, Metadata: map[string]string{"lang": "fr"}},
		{ID: "c", Vector: []float32{3}, Metadata: map[string]string{"lang": "en"}},
	}))

	deleted, err := s.DeleteByFilter(ctx, core.Eq("lang", "en"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	recs, err := s.List(ctx, 0, 0, nil)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "b", recs[0].ID)
}

func TestFilterLoweringMatchesInMemory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	records := []*core.VectorRecord{
		{ID: "1", Vector: []float32{1}, Metadata: map[string]string{"lang": "en", "topic": "go"}},
		{ID: "2", Vector: []float32{1}, Metadata: map[string]string{"lang": "fr", "topic": "go"}},
		{ID: "3", Vector: []float32{1}, Metadata: map[string]string{"lang": "en"}},
		{ID: "4", Vector: []float32{1}},
	}
	require.NoError(t, s.UpsertBatch(ctx, records))

	filters := []core.Filter{
		core.Eq("lang", "en"),
		core.Has("topic"),
		core.Like("lang", "e"),
		core.OneOf("lang", "en", "de"),
		core.AllOf(core.Eq("lang", "en"), core.Has("topic")),
		core.AnyOf(core.Eq("lang", "fr"), core.Eq("topic", "go")),
		core.Negate(core.Has("lang")),
		core.AllOf(),
		core.AnyOf(),
	}
	for _, f := range filters {
		want := int64(0)
		for _, r := range records {
			if core.Normalize(f).Matches(r.Metadata) {
				want++
			}
		}
		got, err := s.Count(ctx, f)
		require.NoError(t, err)
		assert.Equal(t, want, got, "filter %#v", f)
	}
}

func TestFilterAssociativity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertBatch(ctx, []*core.VectorRecord{
		{ID: "1", Vector: []float32{1}, Metadata: map[string]string{"a": "1", "b": "2", "c": "3"}},
		{ID: "2", Vector: []float32{1}, Metadata: map[string]string{"a": "1", "b": "2"}},
		{ID: "3", Vector: []float32{1}, Metadata: map[string]string{"a": "1"}},
	}))

	fa, fb, fc := core.Eq("a", "1"), core.Eq("b", "2"), core.Eq("c", "3")
	left, err := s.Count(ctx, core.AllOf(core.AllOf(fa, fb), fc))
	require.NoError(t, err)
	right, err := s.Count(ctx, core.AllOf(fa, core.AllOf(fb, fc)))
	require.NoError(t, err)
	assert.Equal(t, left, right)
	assert.Equal(t, int64(1), left)
}

func TestStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertBatch(ctx, []*core.VectorRecord{
		{ID: "a", Vector: []float32{1, 0}},
		{ID: "b", Vector: []float32{0, 1}},
		{ID: "c", Vector: []float32{1, 0, 0}},
	}))

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.Count)
	assert.Equal(t, int64(2), stats.Dimensions[2])
	assert.Equal(t, int64(1), stats.Dimensions[3])
	assert.Greater(t, stats.StorageBytes, int64(0))
}

func TestClear(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, &core.VectorRecord{ID: "a", Vector: []float32{1}}))
	require.NoError(t, s.Clear(ctx))

	count, err := s.Count(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, count)

	// Clearing resets the census, so any dimensionality is searchable again.
	results, err := s.Search(ctx, []float32{1, 2, 3}, 5, nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestClosedStoreOperations(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Close())
	require.NoError(t, s.Close()) // idempotent

	assert.ErrorIs(t, s.Upsert(ctx, &core.VectorRecord{ID: "a", Vector: []float32{1}}), core.ErrStoreClosed)
	_, err := s.Get(ctx, "a")
	assert.ErrorIs(t, err, core.ErrStoreClosed)
	_, err = s.Search(ctx, []float32{1}, 1, nil)
	assert.ErrorIs(t, err, core.ErrStoreClosed)
}

func TestPersistenceAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "persist.db")
	ctx := context.Background()

	s, err := NewVectorStore(ctx, Config{Path: path})
	require.NoError(t, err)
	require.NoError(t, s.Upsert(ctx, &core.VectorRecord{ID: "kept", Vector: []float32{1, 2}}))
	require.NoError(t, s.Close())

	s, err = NewVectorStore(ctx, Config{Path: path})
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	got, err := s.Get(ctx, "kept")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2}, got.Vector)

	// The census survives a reopen too.
	_, err = s.Search(ctx, []float32{1}, 1, nil)
	assert.ErrorIs(t, err, core.ErrDimensionMismatch)
}
