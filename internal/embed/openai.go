package embed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync/atomic"
	"time"

	openai "github.com/sashabaranov/go-openai"

	amerrors "github.com/sbarron/ambiance/internal/errors"
	"github.com/sbarron/ambiance/internal/telemetry"
)

// OpenAIConfig configures an OpenAI-compatible embedding endpoint.
type OpenAIConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	Dimensions int // requested width; 0 lets the server decide
	BatchSize  int
	Retry      amerrors.RetryConfig
	Metrics    *telemetry.Metrics
}

// OpenAIEmbedder calls the /embeddings endpoint of any OpenAI-compatible
// server (OpenAI, Azure-compatible gateways, LM Studio, vLLM).
type OpenAIEmbedder struct {
	client    *openai.Client
	model     openai.EmbeddingModel
	dims      atomic.Int64
	batchSize int
	retry     amerrors.RetryConfig
	metrics   *telemetry.Metrics
}

// NewOpenAIEmbedder creates the embedder. Model is required.
func NewOpenAIEmbedder(cfg OpenAIConfig) (*OpenAIEmbedder, error) {
	if cfg.Model == "" {
		return nil, amerrors.ConfigError("embeddings.model is required for the openai provider", nil)
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	batch := cfg.BatchSize
	if batch < MinBatchSize || batch > MaxBatchSize {
		batch = DefaultBatchSize
	}
	retry := cfg.Retry
	if retry.Multiplier == 0 {
		retry = amerrors.DefaultRetryConfig()
	}
	retry.ShouldRetry = amerrors.IsRetryable

	e := &OpenAIEmbedder{
		client:    openai.NewClientWithConfig(clientCfg),
		model:     openai.EmbeddingModel(cfg.Model),
		batchSize: batch,
		retry:     retry,
		metrics:   cfg.Metrics,
	}
	e.dims.Store(int64(cfg.Dimensions))
	return e, nil
}

// Embed embeds a single text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// EmbedBatch splits texts into provider-sized batches and retries transient
// failures with backoff.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.batchSize {
		end := min(start+e.batchSize, len(texts))
		batch := texts[start:end]

		vecs, err := amerrors.RetryWithResult(ctx, e.retry, func() ([][]float32, error) {
			return e.call(ctx, batch)
		})
		if err != nil {
			return nil, err
		}
		results = append(results, vecs...)
	}
	return results, nil
}

func (e *OpenAIEmbedder) call(ctx context.Context, batch []string) ([][]float32, error) {
	req := openai.EmbeddingRequest{
		Input:          batch,
		Model:          e.model,
		EncodingFormat: openai.EmbeddingEncodingFormatFloat,
	}
	dims := int(e.dims.Load())
	if dims > 0 {
		req.Dimensions = dims
	}

	start := time.Now()
	resp, err := e.client.CreateEmbeddings(ctx, req)
	if err != nil {
		mapped := mapAPIError(err)
		e.metrics.ObserveEmbedding(ProviderOpenAI, string(e.model), time.Since(start), mapped)
		return nil, mapped
	}
	if len(resp.Data) != len(batch) {
		err := amerrors.New(amerrors.ErrCodeEmbeddingFailed,
			fmt.Sprintf("provider returned %d embeddings for %d inputs", len(resp.Data), len(batch)), nil)
		e.metrics.ObserveEmbedding(ProviderOpenAI, string(e.model), time.Since(start), err)
		return nil, err
	}
	e.metrics.ObserveEmbedding(ProviderOpenAI, string(e.model), time.Since(start), nil)

	sort.Slice(resp.Data, func(i, j int) bool { return resp.Data[i].Index < resp.Data[j].Index })
	out := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		if dims > 0 && len(d.Embedding) != dims {
			return nil, amerrors.DimensionMismatch(dims, len(d.Embedding))
		}
		out[i] = d.Embedding
	}
	if dims == 0 && len(out) > 0 {
		e.dims.CompareAndSwap(0, int64(len(out[0])))
	}
	return out, nil
}

// mapAPIError classifies provider failures: rate limits and server errors
// are retryable, other HTTP rejections are not.
func mapAPIError(err error) error {
	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}

	switch {
	case status == 0:
		return amerrors.NetworkError("embedding request failed", err)
	case status == http.StatusTooManyRequests || status >= 500:
		return amerrors.New(amerrors.ErrCodeNetworkUnavailable,
			fmt.Sprintf("embedding provider returned %d", status), err)
	default:
		return amerrors.New(amerrors.ErrCodeProviderRejected,
			fmt.Sprintf("embedding provider rejected request with %d", status), err).
			WithSuggestion("Check embeddings.model, embeddings.base_url and the API key environment variable")
	}
}

// Dimensions returns the configured width, or the width observed on the
// first response when none was configured.
func (e *OpenAIEmbedder) Dimensions() int { return int(e.dims.Load()) }

// ModelName returns the configured model.
func (e *OpenAIEmbedder) ModelName() string { return string(e.model) }

// Provider returns ProviderOpenAI.
func (e *OpenAIEmbedder) Provider() string { return ProviderOpenAI }

// Available probes the endpoint with a one-word embedding.
func (e *OpenAIEmbedder) Available(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	_, err := e.call(ctx, []string{"ping"})
	return err == nil
}

// Close is a no-op; the HTTP client holds no exclusive resources.
func (e *OpenAIEmbedder) Close() error { return nil }
