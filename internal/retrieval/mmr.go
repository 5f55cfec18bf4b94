package retrieval

import (
	"github.com/koopa0/grounded/internal/core"
)

// maxMarginalRelevance re-ranks the candidate pool for relevance and
// diversity. Each round picks the candidate maximizing
//
//	lambda*relevance - (1-lambda)*maxSimilarityToSelected
//
// so lambda 1 degenerates to pure similarity and lambda 0 to pure
// anti-redundancy. Candidates must arrive sorted by descending relevance;
// ties in marginal score keep that order, which makes the output
// deterministic.
func maxMarginalRelevance(candidates []core.RetrievalResult, k int, lambda float64) []core.RetrievalResult {
	if len(candidates) <= 1 || k <= 0 {
		if len(candidates) > k {
			return candidates[:k]
		}
		return candidates
	}

	selected := make([]core.RetrievalResult, 0, k)
	remaining := make([]core.RetrievalResult, len(candidates))
	copy(remaining, candidates)

	// The most relevant candidate is always picked first; with nothing
	// selected the diversity term is zero for everyone.
	selected = append(selected, remaining[0])
	remaining = remaining[1:]

	for len(selected) < k && len(remaining) > 0 {
		bestIdx := 0
		bestScore := marginalScore(remaining[0], selected, lambda)
		for i := 1; i < len(remaining); i++ {
			if score := marginalScore(remaining[i], selected, lambda); score > bestScore {
				bestIdx, bestScore = i, score
			}
		}
		selected = append(selected, remaining[bestIdx])
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}
	return selected
}

func marginalScore(candidate core.RetrievalResult, selected []core.RetrievalResult, lambda float64) float64 {
	maxSim := 0.0
	for _, s := range selected {
		if sim := core.Cosine(candidate.Chunk.Embedding, s.Chunk.Embedding); sim > maxSim {
			maxSim = sim
		}
	}
	return lambda*candidate.Score - (1-lambda)*maxSim
}
