package qdrant

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vim89/hybridstore/internal/encoding"
	"github.com/vim89/hybridstore/pkg/core"
)

// scrollPageSize bounds each page of client-side scans.
const scrollPageSize = 256

// Config configures the remote backend.
type Config struct {
	// URL is the service base URL, e.g. "http://localhost:6333".
	URL string
	// APIKey is sent on every request when non-empty.
	APIKey string
	// Collection names the collection backing this store.
	Collection string
	// Logger receives operational logging; defaults to core.NopLogger().
	Logger core.Logger
}

// VectorStore is the remote vector store. The collection is created lazily
// on the first write, with its dimensionality inferred from the first
// record; caller IDs live in the payload and map to deterministic UUID point
// IDs.
type VectorStore struct {
	client     *Client
	collection string
	logger     core.Logger

	mu     sync.RWMutex
	closed bool

	// dimMu guards dim, the collection's dimensionality once known (zero
	// otherwise). Read paths holding only mu.RLock still cache it safely.
	dimMu sync.Mutex
	dim   int
}

// NewVectorStore builds a store for one collection. No network call is made
// until the first operation.
func NewVectorStore(cfg Config) (*VectorStore, error) {
	if cfg.URL == "" {
		return nil, core.WrapError("init", fmt.Errorf("%w: service URL cannot be empty", core.ErrInvalidConfig))
	}
	if cfg.Collection == "" {
		return nil, core.WrapError("init", fmt.Errorf("%w: collection name cannot be empty", core.ErrInvalidConfig))
	}
	if cfg.Logger == nil {
		cfg.Logger = core.NopLogger()
	}
	return &VectorStore{
		client:     NewClient(cfg.URL, cfg.APIKey),
		collection: cfg.Collection,
		logger:     cfg.Logger,
	}, nil
}

// pointID maps a caller ID to the deterministic UUID the service requires.
func pointID(id string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(id)).String()
}

// ensureCollection creates the collection for dim if it does not exist yet
// and returns the collection's dimensionality.
func (s *VectorStore) ensureCollection(ctx context.Context, dim int) (int, error) {
	s.dimMu.Lock()
	defer s.dimMu.Unlock()

	if s.dim != 0 {
		return s.dim, nil
	}
	info, err := s.client.GetCollection(ctx, s.collection)
	if err == nil {
		s.dim = info.Config.Params.Vectors.Size
		return s.dim, nil
	}
	if !IsNotFound(err) {
		return 0, err
	}
	if err := s.client.CreateCollection(ctx, s.collection, dim); err != nil {
		return 0, err
	}
	s.dim = dim
	s.logger.Info("created collection", "collection", s.collection, "dim", dim)
	return dim, nil
}

// loadDim returns the collection's dimensionality, zero when the collection
// does not exist yet.
func (s *VectorStore) loadDim(ctx context.Context) (int, error) {
	s.dimMu.Lock()
	defer s.dimMu.Unlock()

	if s.dim != 0 {
		return s.dim, nil
	}
	info, err := s.client.GetCollection(ctx, s.collection)
	if IsNotFound(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	s.dim = info.Config.Params.Vectors.Size
	return s.dim, nil
}

func (s *VectorStore) toPoint(rec *core.VectorRecord) point {
	payload := map[string]any{
		idKey:      rec.ID,
		contentKey: rec.Content,
		tsKey:      time.Now().UnixNano(),
	}
	if len(rec.Metadata) > 0 {
		meta := make(map[string]any, len(rec.Metadata))
		for k, v := range rec.Metadata {
			meta[k] = v
		}
		payload[metaKey] = meta
	}
	return point{ID: pointID(rec.ID), Vector: rec.Vector, Payload: payload}
}

func fromPayload(p point) *core.VectorRecord {
	rec := &core.VectorRecord{Vector: p.Vector}
	if v, ok := p.Payload[idKey].(string); ok {
		rec.ID = v
	}
	if v, ok := p.Payload[contentKey].(string); ok {
		rec.Content = v
	}
	if m, ok := p.Payload[metaKey].(map[string]any); ok && len(m) > 0 {
		rec.Metadata = make(map[string]string, len(m))
		for k, v := range m {
			if sv, ok := v.(string); ok {
				rec.Metadata[k] = sv
			}
		}
	}
	return rec
}

func payloadTS(p point) int64 {
	if v, ok := p.Payload[tsKey].(float64); ok {
		return int64(v)
	}
	return 0
}

// Upsert inserts or replaces a record by ID. An empty ID gets a generated
// UUID, written back to the record.
func (s *VectorStore) Upsert(ctx context.Context, rec *core.VectorRecord) error {
	return s.UpsertBatch(ctx, []*core.VectorRecord{rec})
}

// UpsertBatch writes records as one batched point call. The service applies
// the batch together; conflicting IDs resolve last-write-wins.
func (s *VectorStore) UpsertBatch(ctx context.Context, recs []*core.VectorRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return core.WrapError("upsert_batch", core.ErrStoreClosed)
	}
	if len(recs) == 0 {
		return nil
	}

	for i, rec := range recs {
		if err := encoding.ValidateVector(rec.Vector); err != nil {
			return core.WrapError("upsert_batch", fmt.Errorf("%w at index %d: %v", core.ErrInvalidVector, i, err))
		}
		if rec.ID == "" {
			rec.ID = uuid.New().String()
		}
	}

	dim, err := s.ensureCollection(ctx, len(recs[0].Vector))
	if err != nil {
		return core.WrapError("upsert_batch", err)
	}
	points := make([]point, len(recs))
	for i, rec := range recs {
		if len(rec.Vector) != dim {
			return core.WrapError("upsert_batch",
				fmt.Errorf("%w: record %q has %d dimensions, collection has %d",
					core.ErrDimensionMismatch, rec.ID, len(rec.Vector), dim))
		}
		points[i] = s.toPoint(rec)
	}

	if err := s.client.UpsertPoints(ctx, s.collection, points); err != nil {
		return core.WrapError("upsert_batch", err)
	}
	s.logger.Debug("batch upsert completed", "count", len(recs))
	return nil
}

// Get returns the record with the given ID.
func (s *VectorStore) Get(ctx context.Context, id string) (*core.VectorRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, core.WrapError("get", core.ErrStoreClosed)
	}

	pts, err := s.client.GetPoints(ctx, s.collection, []string{pointID(id)})
	if IsNotFound(err) {
		return nil, core.WrapError("get", core.ErrNotFound)
	}
	if err != nil {
		return nil, core.WrapError("get", err)
	}
	if len(pts) == 0 {
		return nil, core.WrapError("get", core.ErrNotFound)
	}
	return fromPayload(pts[0]), nil
}

// GetBatch returns the records found among ids; missing IDs are skipped.
func (s *VectorStore) GetBatch(ctx context.Context, ids []string) ([]*core.VectorRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, core.WrapError("get_batch", core.ErrStoreClosed)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pids := make([]string, len(ids))
	for i, id := range ids {
		pids[i] = pointID(id)
	}
	pts, err := s.client.GetPoints(ctx, s.collection, pids)
	if IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, core.WrapError("get_batch", err)
	}

	recs := make([]*core.VectorRecord, 0, len(pts))
	for _, p := range pts {
		recs = append(recs, fromPayload(p))
	}
	return recs, nil
}

// Search ranks filter-passing points by cosine similarity, scores normalized
// from the service's [-1, 1] range to [0, 1].
func (s *VectorStore) Search(ctx context.Context, query []float32, topK int, filter core.Filter) ([]core.ScoredRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, core.WrapError("search", core.ErrStoreClosed)
	}
	if err := encoding.ValidateVector(query); err != nil {
		return nil, core.WrapError("search", fmt.Errorf("%w: %v", core.ErrInvalidVector, err))
	}
	if topK <= 0 {
		return nil, core.WrapError("search", fmt.Errorf("topK must be positive, got %d", topK))
	}

	dim, err := s.loadDim(ctx)
	if err != nil {
		return nil, core.WrapError("search", err)
	}
	if dim == 0 {
		// No collection yet, nothing stored.
		return nil, nil
	}
	if len(query) != dim {
		count, err := s.client.CountPoints(ctx, s.collection, nil)
		if err != nil {
			return nil, core.WrapError("search", err)
		}
		if count > 0 {
			return nil, core.WrapError("search",
				fmt.Errorf("%w: query has %d dimensions, collection has %d", core.ErrDimensionMismatch, len(query), dim))
		}
		return nil, nil
	}

	hits, err := s.client.SearchPoints(ctx, s.collection, query, topK, lowerFilter(filter))
	if err != nil {
		return nil, core.WrapError("search", err)
	}

	scored := make([]core.ScoredRecord, 0, len(hits))
	for _, h := range hits {
		rec := fromPayload(point{ID: h.ID, Vector: h.Vector, Payload: h.Payload})
		scored = append(scored, core.ScoredRecord{
			VectorRecord: *rec,
			Score:        core.NormalizeCosine(h.Score),
		})
	}
	return scored, nil
}

// Delete removes a record by ID.
func (s *VectorStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return core.WrapError("delete", core.ErrStoreClosed)
	}

	// The delete endpoint does not report whether anything matched, so
	// probe first to honor the not-found contract.
	pid := pointID(id)
	pts, err := s.client.GetPoints(ctx, s.collection, []string{pid})
	if IsNotFound(err) || (err == nil && len(pts) == 0) {
		return core.WrapError("delete", core.ErrNotFound)
	}
	if err != nil {
		return core.WrapError("delete", err)
	}
	if err := s.client.DeletePoints(ctx, s.collection, []string{pid}); err != nil {
		return core.WrapError("delete", err)
	}
	return nil
}

// DeleteBatch removes the given IDs; absent IDs are ignored.
func (s *VectorStore) DeleteBatch(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return core.WrapError("delete_batch", core.ErrStoreClosed)
	}
	if len(ids) == 0 {
		return nil
	}

	pids := make([]string, len(ids))
	for i, id := range ids {
		pids[i] = pointID(id)
	}
	err := s.client.DeletePoints(ctx, s.collection, pids)
	if err != nil && !IsNotFound(err) {
		return core.WrapError("delete_batch", err)
	}
	return nil
}

// DeleteByPrefix removes all records whose ID starts with prefix. The
// service has no prefix predicate, so this is a client-side paginated scan.
func (s *VectorStore) DeleteByPrefix(ctx context.Context, prefix string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, core.WrapError("delete_by_prefix", core.ErrStoreClosed)
	}

	matched, err := s.scanIDs(ctx, nil, func(rec *core.VectorRecord) bool {
		return strings.HasPrefix(rec.ID, prefix)
	})
	if err != nil {
		return 0, core.WrapError("delete_by_prefix", err)
	}
	if len(matched) == 0 {
		return 0, nil
	}
	if err := s.client.DeletePoints(ctx, s.collection, matched); err != nil {
		return 0, core.WrapError("delete_by_prefix", err)
	}
	s.logger.Debug("delete by prefix completed", "prefix", prefix, "deleted", len(matched))
	return int64(len(matched)), nil
}

// DeleteByFilter removes all filter-matching records and reports how many
// were removed.
func (s *VectorStore) DeleteByFilter(ctx context.Context, filter core.Filter) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, core.WrapError("delete_by_filter", core.ErrStoreClosed)
	}

	lowered := lowerFilter(filter)
	count, err := s.client.CountPoints(ctx, s.collection, lowered)
	if IsNotFound(err) {
		return 0, nil
	}
	if err != nil {
		return 0, core.WrapError("delete_by_filter", err)
	}
	if count == 0 {
		return 0, nil
	}

	if lowered == nil {
		// The delete endpoint requires a filter object; an empty one
		// matches everything.
		lowered = map[string]any{}
	}
	if err := s.client.DeletePointsByFilter(ctx, s.collection, lowered); err != nil {
		return 0, core.WrapError("delete_by_filter", err)
	}
	return count, nil
}

// Count returns the number of filter-passing records.
func (s *VectorStore) Count(ctx context.Context, filter core.Filter) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, core.WrapError("count", core.ErrStoreClosed)
	}

	count, err := s.client.CountPoints(ctx, s.collection, lowerFilter(filter))
	if IsNotFound(err) {
		return 0, nil
	}
	if err != nil {
		return 0, core.WrapError("count", err)
	}
	return count, nil
}

// List returns filter-passing records ordered by insertion recency, newest
// first. The service has no ordering, so the scan collects matches and
// sorts by the write timestamp kept in the payload.
func (s *VectorStore) List(ctx context.Context, limit, offset int, filter core.Filter) ([]*core.VectorRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, core.WrapError("list", core.ErrStoreClosed)
	}
	if offset < 0 {
		offset = 0
	}

	type tsRecord struct {
		rec *core.VectorRecord
		ts  int64
	}
	var all []tsRecord
	err := s.scroll(ctx, lowerFilter(filter), func(p point) {
		all = append(all, tsRecord{rec: fromPayload(p), ts: payloadTS(p)})
	})
	if err != nil {
		return nil, core.WrapError("list", err)
	}

	sort.Slice(all, func(i, j int) bool {
		if all[i].ts != all[j].ts {
			return all[i].ts > all[j].ts
		}
		return all[i].rec.ID < all[j].rec.ID
	})

	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	recs := make([]*core.VectorRecord, len(all))
	for i, tr := range all {
		recs[i] = tr.rec
	}
	return recs, nil
}

// Clear drops the collection; it is recreated lazily on the next write.
func (s *VectorStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return core.WrapError("clear", core.ErrStoreClosed)
	}

	err := s.client.DeleteCollection(ctx, s.collection)
	if err != nil && !IsNotFound(err) {
		return core.WrapError("clear", err)
	}
	s.dimMu.Lock()
	s.dim = 0
	s.dimMu.Unlock()
	s.logger.Info("cleared collection", "collection", s.collection)
	return nil
}

// Stats reports point count and the collection's dimensionality.
func (s *VectorStore) Stats(ctx context.Context) (*core.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, core.WrapError("stats", core.ErrStoreClosed)
	}

	stats := &core.Stats{Dimensions: make(map[int]int64)}
	info, err := s.client.GetCollection(ctx, s.collection)
	if IsNotFound(err) {
		return stats, nil
	}
	if err != nil {
		return nil, core.WrapError("stats", err)
	}
	count, err := s.client.CountPoints(ctx, s.collection, nil)
	if err != nil {
		return nil, core.WrapError("stats", err)
	}
	stats.Count = count
	if dim := info.Config.Params.Vectors.Size; dim > 0 && count > 0 {
		stats.Dimensions[dim] = count
	}
	return stats, nil
}

// Close marks the store closed. There is no connection state to release.
func (s *VectorStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// scroll pages through the collection applying fn to every point.
func (s *VectorStore) scroll(ctx context.Context, filter any, fn func(point)) error {
	var offset json.RawMessage
	for {
		res, err := s.client.ScrollPoints(ctx, s.collection, scrollPageSize, offset, filter)
		if IsNotFound(err) {
			return nil
		}
		if err != nil {
			return err
		}
		for _, p := range res.Points {
			fn(p)
		}
		if len(res.NextPageOffset) == 0 || string(res.NextPageOffset) == "null" {
			return nil
		}
		offset = res.NextPageOffset
	}
}

// scanIDs scrolls the collection and returns the point IDs of records whose
// decoded form passes keep.
func (s *VectorStore) scanIDs(ctx context.Context, filter any, keep func(*core.VectorRecord) bool) ([]string, error) {
	var matched []string
	err := s.scroll(ctx, filter, func(p point) {
		if keep(fromPayload(p)) {
			matched = append(matched, p.ID)
		}
	})
	return matched, err
}

var _ core.VectorStore = (*VectorStore)(nil)
