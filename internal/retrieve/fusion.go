package retrieve

import "sort"

// DefaultRRFConstant is the standard RRF smoothing parameter; k=60 is
// empirically validated across domains.
const DefaultRRFConstant = 60

// rrfFuse combines ranked chunk-id lists with Reciprocal Rank Fusion.
// Each list contributes 1/(k+rank) per chunk, rank 1-based; scores
// accumulate across lists. Lists of differing lengths feed in as-is,
// unnormalized.
func rrfFuse(rankLists [][]string, rrfK int) map[string]float64 {
	if rrfK <= 0 {
		rrfK = DefaultRRFConstant
	}
	scores := make(map[string]float64)
	for _, list := range rankLists {
		for i, chunkID := range list {
			scores[chunkID] += 1.0 / float64(rrfK+i+1)
		}
	}
	return scores
}

// sortFused orders fused scores descending, breaking ties by chunk id
// so results are deterministic across runs.
func sortFused(scores map[string]float64) []string {
	ids := make([]string, 0, len(scores))
	for id := range scores {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if scores[ids[i]] != scores[ids[j]] {
			return scores[ids[i]] > scores[ids[j]]
		}
		return ids[i] < ids[j]
	})
	return ids
}
