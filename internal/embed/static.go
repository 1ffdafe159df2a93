package embed

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
	"strings"
)

// StaticDimensions is the dimensionality of the static embedder.
const StaticDimensions = 64

// Static is a deterministic, dependency-free embedder. Vectors are
// built from hashed token features, so identical text always produces
// identical vectors and token overlap yields higher cosine similarity.
// It exists for tests and offline smoke runs, not retrieval quality.
type Static struct {
	dims int
}

// NewStatic creates a static embedder. dims <= 0 uses StaticDimensions.
func NewStatic(dims int) *Static {
	if dims <= 0 {
		dims = StaticDimensions
	}
	return &Static{dims: dims}
}

// EmbedQuery embeds a single text.
func (s *Static) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	return s.embed(text), nil
}

// EmbedTexts embeds a batch of texts.
func (s *Static) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	vecs := make([][]float32, len(texts))
	for i, text := range texts {
		vecs[i] = s.embed(text)
	}
	return vecs, nil
}

// ModelName returns the static model identifier.
func (s *Static) ModelName() string { return "static-hash" }

func (s *Static) embed(text string) []float32 {
	vec := make([]float32, s.dims)
	for _, token := range strings.Fields(strings.ToLower(text)) {
		sum := sha256.Sum256([]byte(token))
		bucket := int(binary.LittleEndian.Uint32(sum[:4])) % s.dims
		if bucket < 0 {
			bucket += s.dims
		}
		sign := float32(1)
		if sum[4]%2 == 1 {
			sign = -1
		}
		vec[bucket] += sign
	}
	normalize(vec)
	return vec
}

func normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
}

var _ Embedder = (*Static)(nil)
