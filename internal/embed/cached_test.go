package embed

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sbarron/ambiance/internal/telemetry"
)

// countingEmbedder records how many texts reach the provider.
type countingEmbedder struct {
	*StaticEmbedder
	embedCalls atomic.Int64
	batchTexts atomic.Int64
}

func newCountingEmbedder() *countingEmbedder {
	return &countingEmbedder{StaticEmbedder: NewStaticEmbedder(32)}
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.embedCalls.Add(1)
	return c.StaticEmbedder.Embed(ctx, text)
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	c.batchTexts.Add(int64(len(texts)))
	return c.StaticEmbedder.EmbedBatch(ctx, texts)
}

func TestCachedEmbedder_Embed(t *testing.T) {
	// Given: a cached embedder over a counting provider
	inner := newCountingEmbedder()
	m := telemetry.New()
	c := NewCachedEmbedder(inner, 10, m)

	// When: embedding the same text twice
	a, err := c.Embed(context.Background(), "database initialization")
	require.NoError(t, err)
	b, err := c.Embed(context.Background(), "database initialization")
	require.NoError(t, err)

	// Then: the provider was called once
	assert.Equal(t, a, b)
	assert.Equal(t, int64(1), inner.embedCalls.Load())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EmbeddingCache.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EmbeddingCache.WithLabelValues("miss")))
}

func TestCachedEmbedder_BatchSendsOnlyMisses(t *testing.T) {
	inner := newCountingEmbedder()
	c := NewCachedEmbedder(inner, 10, nil)
	_, err := c.Embed(context.Background(), "alpha")
	require.NoError(t, err)

	out, err := c.EmbedBatch(context.Background(), []string{"alpha", "beta", "gamma"})

	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, int64(2), inner.batchTexts.Load())
	assert.Equal(t, 3, c.Len())

	want, _ := inner.StaticEmbedder.Embed(context.Background(), "beta")
	assert.Equal(t, want, out[1])
}

func TestCachedEmbedder_Eviction(t *testing.T) {
	inner := newCountingEmbedder()
	c := NewCachedEmbedder(inner, 2, nil)
	ctx := context.Background()

	for _, s := range []string{"a", "b", "c", "a"} {
		_, err := c.Embed(ctx, s)
		require.NoError(t, err)
	}

	assert.Equal(t, 2, c.Len())
	assert.Equal(t, int64(4), inner.embedCalls.Load(), "oldest entry was evicted")
}

func TestCachedEmbedder_Passthrough(t *testing.T) {
	inner := newCountingEmbedder()
	c := NewCachedEmbedder(inner, 0, nil)

	assert.Equal(t, 32, c.Dimensions())
	assert.Equal(t, ProviderStatic, c.Provider())
	assert.Equal(t, StaticModelName, c.ModelName())
	assert.Same(t, inner, c.Inner())
	assert.True(t, c.Available(context.Background()))
}
