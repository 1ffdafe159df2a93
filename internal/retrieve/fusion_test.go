package retrieve

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRRFConsistentRankWins(t *testing.T) {
	// b holds ranks 2 and 1; a holds ranks 1 and 3. b must fuse higher.
	fused := rrfFuse([][]string{
		{"a", "b", "c"},
		{"b", "c", "a"},
	}, 60)

	assert.Greater(t, fused["b"], fused["a"])
	assert.Greater(t, fused["a"], 0.0)
}

func TestRRFRankOneEverywhereIsMax(t *testing.T) {
	fused := rrfFuse([][]string{
		{"top", "x", "y"},
		{"top", "y", "z"},
		{"top", "z", "x"},
	}, 60)

	for id, score := range fused {
		if id == "top" {
			continue
		}
		assert.Greater(t, fused["top"], score, "rank-1-everywhere chunk must beat %s", id)
	}
}

func TestRRFAccumulatesAcrossLists(t *testing.T) {
	fused := rrfFuse([][]string{{"a"}, {"a"}}, 60)
	single := rrfFuse([][]string{{"a"}}, 60)
	assert.InDelta(t, 2*single["a"], fused["a"], 1e-12)
}

func TestRRFHeterogeneousListLengths(t *testing.T) {
	// Shorter and longer lists feed in unnormalized.
	fused := rrfFuse([][]string{
		{"a", "b", "c", "d", "e"},
		{"b"},
	}, 60)
	assert.Greater(t, fused["b"], fused["a"])
}

func TestRRFDefaultsConstantWhenNonPositive(t *testing.T) {
	assert.InDelta(t, 1.0/61.0, rrfFuse([][]string{{"a"}}, 0)["a"], 1e-12)
}

func TestSortFusedDeterministicTieBreak(t *testing.T) {
	scores := map[string]float64{"z": 0.5, "a": 0.5, "m": 0.7}
	ordered := sortFused(scores)
	require.Equal(t, []string{"m", "a", "z"}, ordered)
}
