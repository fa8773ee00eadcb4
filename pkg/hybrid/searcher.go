// Package hybrid fuses vector similarity and keyword relevance into one
// ranked result list. A Searcher owns one vector store and one keyword
// index and queries both sides concurrently.
package hybrid

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/vim89/hybridstore/pkg/core"
)

// defaultRerankPool is how many fusion candidates feed the reranker.
const defaultRerankPool = 50

// Searcher runs hybrid searches over a vector store and a keyword index.
type Searcher struct {
	vectors  core.VectorStore
	keywords core.KeywordIndex
	logger   core.Logger
}

// Option configures a Searcher.
type Option func(*Searcher)

// WithLogger sets the searcher's logger.
func WithLogger(l core.Logger) Option {
	return func(s *Searcher) { s.logger = l }
}

// NewSearcher builds a searcher over the two sides. The searcher takes
// ownership: Close closes both.
func NewSearcher(vectors core.VectorStore, keywords core.KeywordIndex, opts ...Option) (*Searcher, error) {
	if vectors == nil {
		return nil, core.WrapError("init", fmt.Errorf("%w: vector store is required", core.ErrInvalidConfig))
	}
	if keywords == nil {
		return nil, core.WrapError("init", fmt.Errorf("%w: keyword index is required", core.ErrInvalidConfig))
	}
	s := &Searcher{vectors: vectors, keywords: keywords, logger: core.NopLogger()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Search runs one hybrid search. queryVector drives the vector side and
// queryText the keyword side; a side whose query input is absent simply
// contributes nothing under the fusion strategies, while the single-source
// strategies require their input.
func (s *Searcher) Search(ctx context.Context, queryVector []float32, queryText string, topK int, strategy Strategy, filter core.Filter) ([]core.HybridResult, error) {
	if topK <= 0 {
		return nil, core.WrapError("hybrid_search", fmt.Errorf("topK must be positive, got %d", topK))
	}
	if strategy == nil {
		strategy = RRF{}
	}

	switch st := strategy.(type) {
	case VectorOnly:
		vecs, err := s.vectors.Search(ctx, queryVector, topK, filter)
		if err != nil {
			return nil, core.WrapError("hybrid_search", err)
		}
		return fromVectorSide(vecs), nil
	case KeywordOnly:
		kws, err := s.keywords.Search(ctx, queryText, topK, filter)
		if err != nil {
			return nil, core.WrapError("hybrid_search", err)
		}
		return fromKeywordSide(kws), nil
	case RRF:
		vecs, kws, err := s.fetchBoth(ctx, queryVector, queryText, 2*topK, filter)
		if err != nil {
			return nil, core.WrapError("hybrid_search", err)
		}
		return fuseRRF(vecs, kws, st.k(), topK), nil
	case Weighted:
		vecs, kws, err := s.fetchBoth(ctx, queryVector, queryText, 2*topK, filter)
		if err != nil {
			return nil, core.WrapError("hybrid_search", err)
		}
		return fuseWeighted(vecs, kws, st.VectorWeight, st.KeywordWeight, topK), nil
	default:
		return nil, core.WrapError("hybrid_search", fmt.Errorf("unknown strategy %T", strategy))
	}
}

// SearchWithReranker fetches a candidate pool via strategy and hands it to
// the reranker; a nil reranker returns the fusion's own top topK.
func (s *Searcher) SearchWithReranker(ctx context.Context, queryVector []float32, queryText string, topK int, strategy Strategy, filter core.Filter, reranker Reranker) ([]core.HybridResult, error) {
	if topK <= 0 {
		return nil, core.WrapError("hybrid_rerank", fmt.Errorf("topK must be positive, got %d", topK))
	}

	pool := defaultRerankPool
	if topK > pool {
		pool = topK
	}
	candidates, err := s.Search(ctx, queryVector, queryText, pool, strategy, filter)
	if err != nil {
		return nil, err
	}

	if reranker != nil && len(candidates) > 0 {
		candidates, err = reranker.Rerank(ctx, queryText, candidates)
		if err != nil {
			return nil, core.WrapError("hybrid_rerank", fmt.Errorf("reranking failed: %w", err))
		}
	}
	if len(candidates) > topK {
		candidates = candidates[:topK]
	}
	return candidates, nil
}

// fetchBoth queries the two sides concurrently. A side with no query input
// returns empty; a side that fails fails the whole search.
func (s *Searcher) fetchBoth(ctx context.Context, queryVector []float32, queryText string, fetchK int, filter core.Filter) ([]core.ScoredRecord, []core.KeywordResult, error) {
	hasVector := len(queryVector) > 0
	hasText := strings.TrimSpace(queryText) != ""
	if !hasVector && !hasText {
		return nil, nil, errors.New("neither query vector nor query text provided")
	}

	var (
		vecs []core.ScoredRecord
		kws  []core.KeywordResult
	)
	g, gctx := errgroup.WithContext(ctx)
	if hasVector {
		g.Go(func() error {
			var err error
			vecs, err = s.vectors.Search(gctx, queryVector, fetchK, filter)
			return err
		})
	}
	if hasText {
		g.Go(func() error {
			var err error
			kws, err = s.keywords.Search(gctx, queryText, fetchK, filter)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	s.logger.Debug("fetched fusion candidates",
		"vector_hits", len(vecs), "keyword_hits", len(kws))
	return vecs, kws, nil
}

// Close closes both sides, returning the first error.
func (s *Searcher) Close() error {
	verr := s.vectors.Close()
	kerr := s.keywords.Close()
	if verr != nil {
		return verr
	}
	return kerr
}

func fromVectorSide(vecs []core.ScoredRecord) []core.HybridResult {
	results := make([]core.HybridResult, len(vecs))
	for i, v := range vecs {
		score := v.Score
		results[i] = core.HybridResult{
			ID:          v.ID,
			Content:     v.Content,
			Score:       score,
			VectorScore: &score,
			Metadata:    v.Metadata,
		}
	}
	return results
}

func fromKeywordSide(kws []core.KeywordResult) []core.HybridResult {
	results := make([]core.HybridResult, len(kws))
	for i, k := range kws {
		score := k.Score
		results[i] = core.HybridResult{
			ID:           k.ID,
			Content:      k.Content,
			Score:        score,
			KeywordScore: &score,
			Metadata:     k.Metadata,
			Highlights:   k.Highlights,
		}
	}
	return results
}
