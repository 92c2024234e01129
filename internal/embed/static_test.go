package embed

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sbarron/ambiance/internal/quantize"
)

func magnitude(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

func TestStaticEmbedder_Embed(t *testing.T) {
	// Given: a default static embedder
	e := NewStaticEmbedder(0)
	defer func() { _ = e.Close() }()

	// When: embedding code
	v, err := e.Embed(context.Background(), "func initializeDatabase(path string) error")

	// Then: a unit vector of the default width
	require.NoError(t, err)
	assert.Len(t, v, StaticDimensions)
	assert.InDelta(t, 1.0, magnitude(v), 1e-3)
	assert.Equal(t, ProviderStatic, e.Provider())
	assert.Equal(t, StaticModelName, e.ModelName())
}

func TestStaticEmbedder_DeterministicAcrossInstances(t *testing.T) {
	text := "func getUserById(id string) (*User, error)"

	a, err := NewStaticEmbedder(128).Embed(context.Background(), text)
	require.NoError(t, err)
	b, err := NewStaticEmbedder(128).Embed(context.Background(), text)
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Len(t, a, 128)
}

func TestStaticEmbedder_LexicalOverlapIsCloser(t *testing.T) {
	e := NewStaticEmbedder(0)
	ctx := context.Background()

	query, _ := e.Embed(ctx, "database initialization")
	related, _ := e.Embed(ctx, "export async function initializeDatabase() { connect database }")
	unrelated, _ := e.Embed(ctx, "export function formatDate(d) { return d.toISOString() }")

	assert.Greater(t,
		quantize.CosineSimilarity(query, related),
		quantize.CosineSimilarity(query, unrelated))
}

func TestStaticEmbedder_BlankTextIsZero(t *testing.T) {
	v, err := NewStaticEmbedder(16).Embed(context.Background(), "   ")

	require.NoError(t, err)
	assert.Equal(t, make([]float32, 16), v)
}

func TestStaticEmbedder_Batch(t *testing.T) {
	e := NewStaticEmbedder(0)
	texts := []string{"alpha", "beta", "alpha"}

	out, err := e.EmbedBatch(context.Background(), texts)

	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, out[0], out[2])
	assert.NotEqual(t, out[0], out[1])
}

func TestStaticEmbedder_Closed(t *testing.T) {
	e := NewStaticEmbedder(0)
	require.NoError(t, e.Close())

	_, err := e.Embed(context.Background(), "x")

	assert.Error(t, err)
	assert.False(t, e.Available(context.Background()))
}
