package hybrid

import (
	"context"
	"sort"
	"strings"

	"github.com/vim89/hybridstore/pkg/core"
)

// Reranker reorders fusion candidates using signals beyond the stores'
// own scoring, typically an external cross-encoder. Implementations may
// rescale scores and return fewer results than they were given.
type Reranker interface {
	Rerank(ctx context.Context, query string, results []core.HybridResult) ([]core.HybridResult, error)
}

// RerankerFunc adapts a function to the Reranker interface.
type RerankerFunc func(ctx context.Context, query string, results []core.HybridResult) ([]core.HybridResult, error)

// Rerank implements Reranker.
func (f RerankerFunc) Rerank(ctx context.Context, query string, results []core.HybridResult) ([]core.HybridResult, error) {
	return f(ctx, query, results)
}

// TermOverlapReranker is a self-contained reranker that boosts candidates
// whose content shares terms with the query. Useful as a cheap relevance
// signal when no external reranker is wired in.
type TermOverlapReranker struct {
	// Boost is the per-matching-term score multiplier increment.
	Boost float64
}

// Rerank boosts each candidate by the fraction of query terms its content
// contains, then re-sorts.
func (r *TermOverlapReranker) Rerank(_ context.Context, query string, results []core.HybridResult) ([]core.HybridResult, error) {
	boost := r.Boost
	if boost <= 0 {
		boost = 0.5
	}
	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		return results, nil
	}

	reranked := make([]core.HybridResult, len(results))
	copy(reranked, results)
	for i, res := range reranked {
		content := strings.ToLower(res.Content)
		matches := 0
		for _, term := range terms {
			if strings.Contains(content, term) {
				matches++
			}
		}
		if matches > 0 {
			factor := 1.0 + boost*float64(matches)/float64(len(terms))
			reranked[i].Score = res.Score * factor
		}
	}
	sort.Slice(reranked, func(i, j int) bool {
		if reranked[i].Score != reranked[j].Score {
			return reranked[i].Score > reranked[j].Score
		}
		return reranked[i].ID < reranked[j].ID
	})
	return reranked, nil
}
