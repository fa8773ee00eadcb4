package hybrid

import (
	"sort"

	"github.com/vim89/hybridstore/pkg/core"
)

// defaultRRFK is the standard reciprocal-rank-fusion constant.
const defaultRRFK = 60.0

// Strategy selects how the two sides combine. The set is closed.
type Strategy interface {
	isStrategy()
}

// VectorOnly ranks purely by vector similarity.
type VectorOnly struct{}

// KeywordOnly ranks purely by keyword relevance.
type KeywordOnly struct{}

// RRF is reciprocal rank fusion: score = sum over sides of 1/(K+rank),
// rank starting at 1. A zero K uses the standard constant 60.
type RRF struct {
	K float64
}

// Weighted is min-max-normalized weighted score fusion.
type Weighted struct {
	VectorWeight  float64
	KeywordWeight float64
}

func (VectorOnly) isStrategy()  {}
func (KeywordOnly) isStrategy() {}
func (RRF) isStrategy()         {}
func (Weighted) isStrategy()    {}

func (r RRF) k() float64 {
	if r.K <= 0 {
		return defaultRRFK
	}
	return r.K
}

// candidate accumulates per-id state during fusion. Content and metadata
// prefer the vector-side record, falling back to the keyword side.
type candidate struct {
	result core.HybridResult
	// fromVector notes that content/metadata already came from the vector
	// side and must not be overwritten by the keyword side.
	fromVector bool
}

func mergeSides(vecs []core.ScoredRecord, kws []core.KeywordResult) map[string]*candidate {
	merged := make(map[string]*candidate, len(vecs)+len(kws))
	for _, v := range vecs {
		score := v.Score
		merged[v.ID] = &candidate{
			result: core.HybridResult{
				ID:          v.ID,
				Content:     v.Content,
				VectorScore: &score,
				Metadata:    v.Metadata,
			},
			fromVector: true,
		}
	}
	for _, k := range kws {
		score := k.Score
		c, ok := merged[k.ID]
		if !ok {
			merged[k.ID] = &candidate{
				result: core.HybridResult{
					ID:           k.ID,
					Content:      k.Content,
					KeywordScore: &score,
					Metadata:     k.Metadata,
					Highlights:   k.Highlights,
				},
			}
			continue
		}
		c.result.KeywordScore = &score
		c.result.Highlights = k.Highlights
		if !c.fromVector {
			c.result.Content = k.Content
			c.result.Metadata = k.Metadata
		}
	}
	return merged
}

func sortAndTruncate(merged map[string]*candidate, topK int) []core.HybridResult {
	results := make([]core.HybridResult, 0, len(merged))
	for _, c := range merged {
		results = append(results, c.result)
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
	if len(results) > topK {
		results = results[:topK]
	}
	return results
}

// fuseRRF combines the sides by reciprocal rank: each side contributes
// 1/(k+rank) for the ids it returned, 0 for the ids it did not.
func fuseRRF(vecs []core.ScoredRecord, kws []core.KeywordResult, k float64, topK int) []core.HybridResult {
	merged := mergeSides(vecs, kws)

	for rank, v := range vecs {
		merged[v.ID].result.Score += 1.0 / (k + float64(rank+1))
	}
	for rank, kw := range kws {
		merged[kw.ID].result.Score += 1.0 / (k + float64(rank+1))
	}
	return sortAndTruncate(merged, topK)
}

// fuseWeighted min-max normalizes each side's raw scores within its
// returned set, then combines them as a weighted average. An id absent from
// a side contributes 0 for that side before dividing.
func fuseWeighted(vecs []core.ScoredRecord, kws []core.KeywordResult, vectorWeight, keywordWeight float64, topK int) []core.HybridResult {
	totalWeight := vectorWeight + keywordWeight
	if totalWeight <= 0 {
		// Degenerate weights rank nothing meaningfully; treat as equal.
		vectorWeight, keywordWeight, totalWeight = 1, 1, 2
	}

	merged := mergeSides(vecs, kws)

	vecNorm := normalizeScores(len(vecs), func(i int) float64 { return vecs[i].Score })
	for i, v := range vecs {
		merged[v.ID].result.Score += vectorWeight * vecNorm[i]
	}
	kwNorm := normalizeScores(len(kws), func(i int) float64 { return kws[i].Score })
	for i, k := range kws {
		merged[k.ID].result.Score += keywordWeight * kwNorm[i]
	}
	for _, c := range merged {
		c.result.Score /= totalWeight
	}
	return sortAndTruncate(merged, topK)
}

// normalizeScores min-max normalizes to [0, 1] within the set; zero spread
// normalizes every present id to 1.0.
func normalizeScores(n int, score func(int) float64) []float64 {
	if n == 0 {
		return nil
	}
	minS, maxS := score(0), score(0)
	for i := 1; i < n; i++ {
		s := score(i)
		if s < minS {
			minS = s
		}
		if s > maxS {
			maxS = s
		}
	}
	norm := make([]float64, n)
	spread := maxS - minS
	for i := 0; i < n; i++ {
		if spread == 0 {
			norm[i] = 1.0
		} else {
			norm[i] = (score(i) - minS) / spread
		}
	}
	return norm
}
