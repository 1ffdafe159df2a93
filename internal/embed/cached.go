package embed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize is the default number of cached vectors. At 768
// dimensions that is roughly 3 MB of memory.
const DefaultCacheSize = 1000

// Cached wraps an Embedder with an LRU cache so repeated queries and
// duplicate passages skip the network round-trip.
type Cached struct {
	inner Embedder
	cache *lru.Cache[string, []float32]
}

// NewCached creates a caching embedder. cacheSize <= 0 uses the default.
func NewCached(inner Embedder, cacheSize int) *Cached {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, _ := lru.New[string, []float32](cacheSize)
	return &Cached{inner: inner, cache: cache}
}

// cacheKey hashes text with the model name so model switches never
// serve stale vectors.
func (c *Cached) cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text + "\x00" + c.inner.ModelName()))
	return hex.EncodeToString(sum[:])
}

// EmbedQuery returns the cached vector when available.
func (c *Cached) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	key := c.cacheKey(text)
	if vec, ok := c.cache.Get(key); ok {
		return vec, nil
	}
	vec, err := c.inner.EmbedQuery(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, vec)
	return vec, nil
}

// EmbedTexts checks the cache per text and embeds only the misses in a
// single inner batch call.
func (c *Cached) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	results := make([][]float32, len(texts))
	var missIndices []int
	var missTexts []string
	for i, text := range texts {
		if vec, ok := c.cache.Get(c.cacheKey(text)); ok {
			results[i] = vec
			continue
		}
		missIndices = append(missIndices, i)
		missTexts = append(missTexts, text)
	}
	if len(missTexts) == 0 {
		return results, nil
	}

	vecs, err := c.inner.EmbedTexts(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	for j, idx := range missIndices {
		if j < len(vecs) {
			results[idx] = vecs[j]
			c.cache.Add(c.cacheKey(missTexts[j]), vecs[j])
		}
	}
	return results, nil
}

// ModelName returns the inner model identifier.
func (c *Cached) ModelName() string { return c.inner.ModelName() }

var _ Embedder = (*Cached)(nil)
