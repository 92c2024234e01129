package embed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/sbarron/ambiance/internal/telemetry"
)

// DefaultCacheSize is the number of embeddings kept in memory.
// At 1536 dimensions * 4 bytes * 1000 entries that is about 6MB.
const DefaultCacheSize = 1000

// CachedEmbedder wraps an Embedder with an LRU keyed by text and model, so
// repeated queries skip the provider.
type CachedEmbedder struct {
	inner   Embedder
	cache   *lru.Cache[string, []float32]
	metrics *telemetry.Metrics
}

// NewCachedEmbedder wraps inner. size <= 0 selects DefaultCacheSize.
func NewCachedEmbedder(inner Embedder, size int, metrics *telemetry.Metrics) *CachedEmbedder {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, _ := lru.New[string, []float32](size)
	return &CachedEmbedder{inner: inner, cache: cache, metrics: metrics}
}

func (c *CachedEmbedder) cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text + "\x00" + c.inner.Provider() + "\x00" + c.inner.ModelName()))
	return hex.EncodeToString(sum[:])
}

// Embed returns the cached vector or computes and caches it.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := c.cacheKey(text)
	if v, ok := c.cache.Get(key); ok {
		c.metrics.CacheResult(true)
		return v, nil
	}
	c.metrics.CacheResult(false)

	v, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, v)
	return v, nil
}

// EmbedBatch serves cached texts locally and sends only misses to the inner
// embedder in a single batch.
func (c *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string

	for i, text := range texts {
		if v, ok := c.cache.Get(c.cacheKey(text)); ok {
			c.metrics.CacheResult(true)
			results[i] = v
			continue
		}
		c.metrics.CacheResult(false)
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}
	if len(missTexts) == 0 {
		return results, nil
	}

	fresh, err := c.inner.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	for j, idx := range missIdx {
		results[idx] = fresh[j]
		c.cache.Add(c.cacheKey(texts[idx]), fresh[j])
	}
	return results, nil
}

// Len returns the number of cached entries.
func (c *CachedEmbedder) Len() int { return c.cache.Len() }

func (c *CachedEmbedder) Dimensions() int                    { return c.inner.Dimensions() }
func (c *CachedEmbedder) ModelName() string                  { return c.inner.ModelName() }
func (c *CachedEmbedder) Provider() string                   { return c.inner.Provider() }
func (c *CachedEmbedder) Available(ctx context.Context) bool { return c.inner.Available(ctx) }
func (c *CachedEmbedder) Close() error                       { return c.inner.Close() }

// Inner returns the wrapped embedder.
func (c *CachedEmbedder) Inner() Embedder { return c.inner }
