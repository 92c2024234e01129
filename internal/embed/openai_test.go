package embed

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sbarron/ambiance/internal/config"
	amerrors "github.com/sbarron/ambiance/internal/errors"
)

type embeddingRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

// fakeEmbeddingServer answers /v1/embeddings with vectors whose first
// component is the input index.
func fakeEmbeddingServer(t *testing.T, failFirst int, status int) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if int(n) <= failFirst {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":{"message":"nope","type":"server_error"}}`))
			return
		}
		var req embeddingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		data := make([]map[string]any, len(req.Input))
		for i := range req.Input {
			data[i] = map[string]any{"object": "embedding", "index": i, "embedding": []float32{float32(i), 1, 0}}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"model":  req.Model,
			"data":   data,
			"usage":  map[string]int{"prompt_tokens": 1, "total_tokens": 1},
		})
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func fastRetry() amerrors.RetryConfig {
	return amerrors.RetryConfig{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
}

func TestOpenAIEmbedder_BatchesAndLearnsDimensions(t *testing.T) {
	// Given: a server and a batch size smaller than the input
	srv, calls := fakeEmbeddingServer(t, 0, 0)
	e, err := NewOpenAIEmbedder(OpenAIConfig{BaseURL: srv.URL + "/v1", Model: "test-embed", BatchSize: 2, Retry: fastRetry()})
	require.NoError(t, err)

	// When: embedding five texts
	out, err := e.EmbedBatch(context.Background(), []string{"a", "b", "c", "d", "e"})

	// Then: three calls, ordered results, width learned from the response
	require.NoError(t, err)
	require.Len(t, out, 5)
	assert.Equal(t, int64(3), calls.Load())
	assert.Equal(t, float32(1), out[1][0])
	assert.Equal(t, float32(0), out[2][0])
	assert.Equal(t, 3, e.Dimensions())
	assert.Equal(t, ProviderOpenAI, e.Provider())
	assert.Equal(t, "test-embed", e.ModelName())
}

func TestOpenAIEmbedder_RetriesServerErrors(t *testing.T) {
	srv, calls := fakeEmbeddingServer(t, 2, http.StatusServiceUnavailable)
	e, err := NewOpenAIEmbedder(OpenAIConfig{BaseURL: srv.URL + "/v1", Model: "m", Retry: fastRetry()})
	require.NoError(t, err)

	v, err := e.Embed(context.Background(), "hello")

	require.NoError(t, err)
	assert.Len(t, v, 3)
	assert.Equal(t, int64(3), calls.Load())
}

func TestOpenAIEmbedder_DoesNotRetryRejections(t *testing.T) {
	srv, calls := fakeEmbeddingServer(t, 10, http.StatusBadRequest)
	e, err := NewOpenAIEmbedder(OpenAIConfig{BaseURL: srv.URL + "/v1", Model: "m", Retry: fastRetry()})
	require.NoError(t, err)

	_, err = e.Embed(context.Background(), "hello")

	require.Error(t, err)
	assert.Equal(t, amerrors.ErrCodeProviderRejected, amerrors.GetCode(err))
	assert.Equal(t, int64(1), calls.Load())
}

func TestOpenAIEmbedder_ConfiguredDimensionMismatch(t *testing.T) {
	srv, _ := fakeEmbeddingServer(t, 0, 0)
	e, err := NewOpenAIEmbedder(OpenAIConfig{BaseURL: srv.URL + "/v1", Model: "m", Dimensions: 8, Retry: fastRetry()})
	require.NoError(t, err)

	_, err = e.Embed(context.Background(), "hello")

	assert.True(t, errors.Is(err, amerrors.ErrDimensionMismatch))
}

func TestNew_Factory(t *testing.T) {
	// static, cached by default
	e, err := New(config.EmbeddingsConfig{Provider: "static", CacheSize: 10}, nil)
	require.NoError(t, err)
	_, cached := e.(*CachedEmbedder)
	assert.True(t, cached)

	// static, cache disabled
	e, err = New(config.EmbeddingsConfig{Provider: "static", Dimensions: 64, CacheSize: -1}, nil)
	require.NoError(t, err)
	assert.Equal(t, 64, e.Dimensions())
	_, isStatic := e.(*StaticEmbedder)
	assert.True(t, isStatic)

	// openai without key or base_url
	t.Setenv("AMBIANCE_TEST_MISSING_KEY", "")
	_, err = New(config.EmbeddingsConfig{Provider: "openai", Model: "m", APIKeyEnv: "AMBIANCE_TEST_MISSING_KEY"}, nil)
	assert.Error(t, err)

	// unknown provider
	_, err = New(config.EmbeddingsConfig{Provider: "carrier-pigeon"}, nil)
	assert.Error(t, err)
}
