package retrieval

import (
	"github.com/koopa0/grounded/internal/core"
	"github.com/koopa0/grounded/internal/vectorstore"
)

// combineHybrid merges vector and lexical result sets into one ranking.
// Each set is min-max normalized to [0,1] on its own so the two score
// scales become comparable, then combined as
//
//	alpha*vectorScore + (1-alpha)*lexicalScore
//
// A chunk present in both sets gets both contributions; a chunk in one set
// gets that side only, the other term being zero.
func combineHybrid(vector, lexical []core.RetrievalResult, alpha float64) []core.RetrievalResult {
	type entry struct {
		result core.RetrievalResult
		score  float64
	}
	merged := make(map[string]*entry, len(vector)+len(lexical))

	for _, r := range normalize(vector) {
		merged[r.Chunk.ID] = &entry{result: r, score: alpha * r.Score}
	}
	for _, r := range normalize(lexical) {
		if e, ok := merged[r.Chunk.ID]; ok {
			e.score += (1 - alpha) * r.Score
			continue
		}
		merged[r.Chunk.ID] = &entry{result: r, score: (1 - alpha) * r.Score}
	}

	results := make([]core.RetrievalResult, 0, len(merged))
	for _, e := range merged {
		r := e.result
		r.Score = e.score
		results = append(results, r)
	}
	vectorstore.SortResults(results)
	return results
}

// normalize rescales scores to [0,1] by min-max. When all scores are equal
// every result gets 1.0, so a uniform set still contributes fully.
func normalize(results []core.RetrievalResult) []core.RetrievalResult {
	if len(results) == 0 {
		return nil
	}

	lo, hi := results[0].Score, results[0].Score
	for _, r := range results[1:] {
		if r.Score < lo {
			lo = r.Score
		}
		if r.Score > hi {
			hi = r.Score
		}
	}

	out := make([]core.RetrievalResult, len(results))
	copy(out, results)
	if hi == lo {
		for i := range out {
			out[i].Score = 1.0
		}
		return out
	}
	for i := range out {
		out[i].Score = (out[i].Score - lo) / (hi - lo)
	}
	return out
}
