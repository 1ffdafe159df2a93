package embed

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingEmbedder struct {
	inner Embedder
	calls atomic.Int64
	fail  bool
}

func (c *countingEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	c.calls.Add(1)
	if c.fail {
		return nil, errors.New("embedder down")
	}
	return c.inner.EmbedQuery(ctx, text)
}

func (c *countingEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	c.calls.Add(1)
	if c.fail {
		return nil, errors.New("embedder down")
	}
	return c.inner.EmbedTexts(ctx, texts)
}

func (c *countingEmbedder) ModelName() string { return c.inner.ModelName() }

func TestStaticDeterministic(t *testing.T) {
	s := NewStatic(32)
	a, err := s.EmbedQuery(context.Background(), "hello world")
	require.NoError(t, err)
	b, err := s.EmbedQuery(context.Background(), "hello world")
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 32)
}

func TestStaticSimilarityReflectsOverlap(t *testing.T) {
	s := NewStatic(64)
	ctx := context.Background()
	base, _ := s.EmbedQuery(ctx, "retrieval augmented generation engine")
	near, _ := s.EmbedQuery(ctx, "retrieval augmented generation")
	far, _ := s.EmbedQuery(ctx, "completely unrelated gardening tips")

	baseNorm := Norm(base)
	assert.Greater(t, Cosine(base, near, baseNorm), Cosine(base, far, baseNorm))
}

func TestCosineZeroNormGuard(t *testing.T) {
	assert.Zero(t, Cosine([]float32{1, 2}, []float32{0, 0}, Norm([]float32{1, 2})))
	assert.Zero(t, Cosine([]float32{0, 0}, []float32{1, 2}, 0))
	assert.Zero(t, Cosine([]float32{1}, nil, 1))
}

func TestCachedQueryHitsSkipInner(t *testing.T) {
	counting := &countingEmbedder{inner: NewStatic(16)}
	cached := NewCached(counting, 10)
	ctx := context.Background()

	first, err := cached.EmbedQuery(ctx, "query")
	require.NoError(t, err)
	second, err := cached.EmbedQuery(ctx, "query")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int64(1), counting.calls.Load())
}

func TestCachedBatchOnlyEmbedsMisses(t *testing.T) {
	counting := &countingEmbedder{inner: NewStatic(16)}
	cached := NewCached(counting, 10)
	ctx := context.Background()

	_, err := cached.EmbedQuery(ctx, "a")
	require.NoError(t, err)

	vecs, err := cached.EmbedTexts(ctx, []string{"a", "b", "a"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	assert.Equal(t, vecs[0], vecs[2])
	// One query call plus one batch call for the miss.
	assert.Equal(t, int64(2), counting.calls.Load())
}

func TestCachedPropagatesErrors(t *testing.T) {
	counting := &countingEmbedder{inner: NewStatic(16), fail: true}
	cached := NewCached(counting, 10)
	_, err := cached.EmbedQuery(context.Background(), "x")
	assert.Error(t, err)
}
