// Package embed turns text into vectors. It ships a deterministic hash
// embedder that works offline and an OpenAI-compatible HTTP embedder, both
// optionally wrapped in an LRU cache.
package embed

import (
	"context"
	"math"
)

const (
	// MinBatchSize is the minimum allowed batch size.
	MinBatchSize = 1

	// MaxBatchSize prevents memory exhaustion on large batches.
	MaxBatchSize = 256

	// DefaultBatchSize is the default number of texts per provider call.
	DefaultBatchSize = 32

	// StaticDimensions is the default width of the hash embedder.
	StaticDimensions = 256

	// StaticModelName identifies the hash embedder in stored model records.
	StaticModelName = "static-hash-v1"
)

// Provider names recorded alongside stored embeddings.
const (
	ProviderStatic = "static"
	ProviderOpenAI = "openai"
)

// Embedder generates vector embeddings for text.
type Embedder interface {
	// Embed generates the embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts, in order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding width.
	Dimensions() int

	// ModelName returns the model identifier.
	ModelName() string

	// Provider returns the provider name; together with Dimensions it forms
	// the compatibility key of a stored project.
	Provider() string

	// Available checks if the embedder is ready.
	Available(ctx context.Context) bool

	// Close releases resources.
	Close() error
}

// normalizeVector scales v to unit length. Zero vectors are returned as-is.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}

	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v
	}

	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}
