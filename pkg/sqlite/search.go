package sqlite

import (
	"context"
	"fmt"
	"sort"

	"github.com/vim89/hybridstore/internal/encoding"
	"github.com/vim89/hybridstore/pkg/core"
)

// Search runs a full scan of filter-passing rows with a matching
// dimensionality, scoring each by normalized cosine similarity. Results are
// sorted by score descending (ties broken by ID ascending) and truncated to
// topK.
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

	// Fail fast on a mismatched query before scanning anything. An empty
	// store has no dimensionality to mismatch against.
	if len(s.dims) > 0 {
		if _, ok := s.dims[len(query)]; !ok {
			return nil, core.WrapError("search",
				fmt.Errorf("%w: query has %d dimensions, store has %v", core.ErrDimensionMismatch, len(query), dimList(s.dims)))
		}
	}

	clause, args := lowerFilter(filter)
	sqlQuery := fmt.Sprintf(
		"SELECT id, vector, content, metadata FROM vectors WHERE dim = ? AND %s", clause)
	args = append([]any{len(query)}, args...)

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, core.WrapError("search", fmt.Errorf("failed to scan candidates: %w", err))
	}
	defer func() { _ = rows.Close() }()

	var scored []core.ScoredRecord
	for rows.Next() {
		rec, err := scanRecordRow(rows)
		if err != nil {
			return nil, core.WrapError("search", err)
		}
		sim := core.CosineSimilarity(query, rec.Vector)
		scored = append(scored, core.ScoredRecord{
			VectorRecord: *rec,
			Score:        core.NormalizeCosine(sim),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, core.WrapError("search", err)
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].ID < scored[j].ID
	})
	if len(scored) > topK {
		scored = scored[:topK]
	}
	return scored, nil
}

func dimList(dims map[int]int64) []int {
	out := make([]int, 0, len(dims))
	for d := range dims {
		out = append(out, d)
	}
	sort.Ints(out)
	return out
}
