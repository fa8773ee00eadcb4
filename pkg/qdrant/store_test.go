package qdrant

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vim89/hybridstore/pkg/core"
)

// fakeService is an in-memory stand-in for the collection and point
// endpoints the store uses. Filters are accepted but not evaluated; tests
// that depend on server-side filtering assert the filter JSON instead.
type fakeService struct {
	collections map[string]*fakeCollection
	lastFilter  json.RawMessage
}

type fakeCollection struct {
	dim    int
	points map[string]point
}

func newFakeService() *fakeService {
	return &fakeService{collections: make(map[string]*fakeCollection)}
}

func (f *fakeService) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/collections/", f.route)
	return mux
}

func writeResult(w http.ResponseWriter, result any) {
	_ = json.NewEncoder(w).Encode(map[string]any{"result": result, "status": "ok"})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"status": map[string]any{"error": msg}})
}

func (f *fakeService) route(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	name := parts[1]
	rest := parts[2:]

	switch {
	case len(rest) == 0 && r.Method == http.MethodGet:
		col, ok := f.collections[name]
		if !ok {
			writeError(w, http.StatusNotFound, "collection not found")
			return
		}
		writeResult(w, map[string]any{
			"config":       map[string]any{"params": map[string]any{"vectors": map[string]any{"size": col.dim, "distance": "Cosine"}}},
			"points_count": len(col.points),
		})
	case len(rest) == 0 && r.Method == http.MethodPut:
		var body struct {
			Vectors struct {
				Size int `json:"size"`
			} `json:"vectors"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.collections[name] = &fakeCollection{dim: body.Vectors.Size, points: make(map[string]point)}
		writeResult(w, true)
	case len(rest) == 0 && r.Method == http.MethodDelete:
		if _, ok := f.collections[name]; !ok {
			writeError(w, http.StatusNotFound, "collection not found")
			return
		}
		delete(f.collections, name)
		writeResult(w, true)
	default:
		f.routePoints(w, r, name, rest)
	}
}

func (f *fakeService) routePoints(w http.ResponseWriter, r *http.Request, name string, rest []string) {
	col, ok := f.collections[name]
	if !ok {
		writeError(w, http.StatusNotFound, "collection not found")
		return
	}

	var body map[string]json.RawMessage
	_ = json.NewDecoder(r.Body).Decode(&body)
	if flt, ok := body["filter"]; ok {
		f.lastFilter = flt
	}

	switch {
	case len(rest) == 1 && rest[0] == "points" && r.Method == http.MethodPut:
		var req struct {
			Points []point `json:"points"`
		}
		_ = json.Unmarshal(mustMarshal(body), &req)
		for _, p := range req.Points {
			col.points[p.ID] = p
		}
		writeResult(w, true)
	case len(rest) == 1 && rest[0] == "points" && r.Method == http.MethodPost:
		var ids []string
		_ = json.Unmarshal(body["ids"], &ids)
		var found []point
		for _, id := range ids {
			if p, ok := col.points[id]; ok {
				found = append(found, p)
			}
		}
		writeResult(w, found)
	case len(rest) == 2 && rest[1] == "search":
		var vector []float32
		var limit int
		_ = json.Unmarshal(body["vector"], &vector)
		_ = json.Unmarshal(body["limit"], &limit)
		var hits []scoredPoint
		for _, p := range col.points {
			hits = append(hits, scoredPoint{
				ID: p.ID, Score: core.CosineSimilarity(vector, p.Vector),
				Vector: p.Vector, Payload: p.Payload,
			})
		}
		sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
		if len(hits) > limit {
			hits = hits[:limit]
		}
		writeResult(w, hits)
	case len(rest) == 2 && rest[1] == "scroll":
		pts := make([]point, 0, len(col.points))
		for _, p := range col.points {
			pts = append(pts, p)
		}
		sort.Slice(pts, func(i, j int) bool { return pts[i].ID < pts[j].ID })
		writeResult(w, map[string]any{"points": pts, "next_page_offset": nil})
	case len(rest) == 2 && rest[1] == "delete":
		if raw, ok := body["points"]; ok {
			var ids []string
			_ = json.Unmarshal(raw, &ids)
			for _, id := range ids {
				delete(col.points, id)
			}
		} else {
			// Filter deletes are not evaluated; an empty filter wipes all.
			col.points = make(map[string]point)
		}
		writeResult(w, true)
	case len(rest) == 2 && rest[1] == "count":
		writeResult(w, map[string]any{"count": len(col.points)})
	default:
		writeError(w, http.StatusNotFound, "unknown endpoint")
	}
}

func mustMarshal(v any) []byte {
	data, _ := json.Marshal(v)
	return data
}

func newTestStore(t *testing.T) (*VectorStore, *fakeService) {
	t.Helper()
	fake := newFakeService()
	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)

	s, err := NewVectorStore(Config{URL: srv.URL, Collection: "test"})
	require.NoError(t, err)
	return s, fake
}

func TestPointIDDeterministic(t *testing.T) {
	assert.Equal(t, pointID("doc-1"), pointID("doc-1"))
	assert.NotEqual(t, pointID("doc-1"), pointID("doc-2"))
	// Valid UUID shape for the service.
	assert.Len(t, pointID("anything"), 36)
}

func TestLazyCollectionCreation(t *testing.T) {
	s, fake := newTestStore(t)
	ctx := context.Background()

	assert.Empty(t, fake.collections)
	require.NoError(t, s.Upsert(ctx, &core.VectorRecord{ID: "a", Vector: []float32{1, 0, 0}}))

	col, ok := fake.collections["test"]
	require.True(t, ok)
	assert.Equal(t, 3, col.dim)
}

func TestUpsertGetRoundTrip(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	rec := &core.VectorRecord{
		ID:       "doc-1",
		Vector:   []float32{0.5, 0.5},
		Content:  "hello world",
		Metadata: map[string]string{"lang": "en"},
	}
	require.NoError(t, s.Upsert(ctx, rec))

	got, err := s.Get(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, rec.Vector, got.Vector)
	assert.Equal(t, rec.Content, got.Content)
	assert.Equal(t, rec.Metadata, got.Metadata)
}

func TestGetNotFound(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	// Collection absent entirely.
	_, err := s.Get(ctx, "nope")
	assert.ErrorIs(t, err, core.ErrNotFound)

	require.NoError(t, s.Upsert(ctx, &core.VectorRecord{ID: "a", Vector: []float32{1}}))
	_, err = s.Get(ctx, "nope")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestSearchScoresNormalized(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertBatch(ctx, []*core.VectorRecord{
		{ID: "same", Vector: []float32{1, 0}},
		{ID: "opposite", Vector: []float32{-1, 0}},
	}))

	results, err := s.Search(ctx, []float32{1, 0}, 10, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "same", results[0].ID)
	assert.InDelta(t, 1.0, results[0].Score, 1e-6)
	assert.InDelta(t, 0.0, results[1].Score, 1e-6)
}

func TestSearchDimensionHandling(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	// No collection yet: any query dimensionality finds nothing.
	results, err := s.Search(ctx, []float32{1, 2, 3}, 5, nil)
	require.NoError(t, err)
	assert.Empty(t, results)

	require.NoError(t, s.Upsert(ctx, &core.VectorRecord{ID: "a", Vector: []float32{1, 0}}))
	_, err = s.Search(ctx, []float32{1, 0, 0}, 5, nil)
	assert.ErrorIs(t, err, core.ErrDimensionMismatch)
}

func TestSearchSendsLoweredFilter(t *testing.T) {
	s, fake := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, &core.VectorRecord{
		ID: "a", Vector: []float32{1, 0}, Metadata: map[string]string{"lang": "fr"},
	}))

	_, err := s.Search(ctx, []float32{1, 0}, 5, core.Eq("lang", "fr"))
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"must":[{"key":"meta.lang","match":{"value":"fr"}}]}`,
		string(fake.lastFilter))
}

func TestDeleteSemantics(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, &core.VectorRecord{ID: "a", Vector: []float32{1}}))
	require.NoError(t, s.Delete(ctx, "a"))
	assert.ErrorIs(t, s.Delete(ctx, "a"), core.ErrNotFound)

	_, err := s.Get(ctx, "a")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestDeleteByPrefixScansClientSide(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertBatch(ctx, []*core.VectorRecord{
		{ID: "user:1", Vector: []float32{1}},
		{ID: "user:2", Vector: []float32{1}},
		{ID: "item:1", Vector: []float32{1}},
	}))

	deleted, err := s.DeleteByPrefix(ctx, "user:")
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	count, err := s.Count(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestListRecencyOrder(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"first", "second", "third"} {
		require.NoError(t, s.Upsert(ctx, &core.VectorRecord{ID: id, Vector: []float32{1}}))
	}

	recs, err := s.List(ctx, 2, 0, nil)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "third", recs[0].ID)
	assert.Equal(t, "second", recs[1].ID)
}

func TestClearDropsAndRecreates(t *testing.T) {
	s, fake := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, &core.VectorRecord{ID: "a", Vector: []float32{1, 0}}))
	require.NoError(t, s.Clear(ctx))
	assert.Empty(t, fake.collections)

	// A different dimensionality is acceptable after a clear.
	require.NoError(t, s.Upsert(ctx, &core.VectorRecord{ID: "b", Vector: []float32{1, 0, 0}}))
	assert.Equal(t, 3, fake.collections["test"].dim)
}

func TestStats(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	// Missing collection reports an empty store.
	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Count)

	require.NoError(t, s.UpsertBatch(ctx, []*core.VectorRecord{
		{ID: "a", Vector: []float32{1, 0}},
		{ID: "b", Vector: []float32{0, 1}},
	}))
	stats, err = s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Count)
	assert.Equal(t, int64(2), stats.Dimensions[2])
}

func TestClosedStore(t *testing.T) {
	s, _ := newTestStore(t)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	err := s.Upsert(context.Background(), &core.VectorRecord{ID: "a", Vector: []float32{1}})
	assert.ErrorIs(t, err, core.ErrStoreClosed)
}

func TestAPIErrorMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusConflict, "collection already exists")
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "")
	err := client.CreateCollection(context.Background(), "dup", 3)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
	assert.Contains(t, apiErr.Message, "already exists")
}
