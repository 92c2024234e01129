// Package telemetry exposes Prometheus metrics for embedding, generation,
// retrieval and bundle assembly. All metrics stay local unless the serve
// command is started with a metrics address.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ambiance"

// Metrics holds every collector. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	EmbeddingRequests *prometheus.CounterVec
	EmbeddingDuration *prometheus.HistogramVec
	EmbeddingCache    *prometheus.CounterVec

	GenerationSessions *prometheus.CounterVec
	GenerationActive   prometheus.Gauge
	GenerationFiles    prometheus.Counter
	GenerationChunks   prometheus.Counter

	SearchDuration *prometheus.HistogramVec
	SearchResults  prometheus.Histogram
	SearchDegraded prometheus.Counter

	ContextRequests *prometheus.CounterVec
	BundleTokens    prometheus.Histogram
}

// New creates collectors registered on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		EmbeddingRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_requests_total",
			Help:      "Total number of embedding requests",
		}, []string{"provider", "model", "status"}),
		EmbeddingDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "embedding_request_duration_seconds",
			Help:      "Embedding request duration in seconds",
			Buckets:   []float64{0.005, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"provider"}),
		EmbeddingCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_cache_total",
			Help:      "Embedding cache hits and misses",
		}, []string{"result"}),
		GenerationSessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_sessions_total",
			Help:      "Generation triggers by outcome",
		}, []string{"outcome"}),
		GenerationActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "generation_active",
			Help:      "Generation sessions currently running",
		}),
		GenerationFiles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_files_processed_total",
			Help:      "Files processed by background generation",
		}),
		GenerationChunks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_chunks_stored_total",
			Help:      "Chunks written by background generation",
		}),
		SearchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_duration_seconds",
			Help:      "Similarity search duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"mode"}),
		SearchResults: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_results",
			Help:      "Chunks above threshold per search",
			Buckets:   []float64{0, 1, 5, 10, 20, 50, 100, 200},
		}),
		SearchDegraded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "search_degraded_total",
			Help:      "Searches served despite an incompatible or mismatched store",
		}),
		ContextRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "context_requests_total",
			Help:      "Context requests by lookup source",
		}, []string{"source"}),
		BundleTokens: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "bundle_tokens",
			Help:      "Estimated tokens per assembled bundle",
			Buckets:   []float64{250, 500, 1000, 2000, 3000, 5000, 8000},
		}),
	}

	m.registry.MustRegister(
		m.EmbeddingRequests, m.EmbeddingDuration, m.EmbeddingCache,
		m.GenerationSessions, m.GenerationActive, m.GenerationFiles, m.GenerationChunks,
		m.SearchDuration, m.SearchResults, m.SearchDegraded,
		m.ContextRequests, m.BundleTokens,
	)
	return m
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveEmbedding records one provider call.
func (m *Metrics) ObserveEmbedding(provider, model string, d time.Duration, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.EmbeddingRequests.WithLabelValues(provider, model, status).Inc()
	if err == nil {
		m.EmbeddingDuration.WithLabelValues(provider).Observe(d.Seconds())
	}
}

// CacheResult records an embedding cache lookup.
func (m *Metrics) CacheResult(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.EmbeddingCache.WithLabelValues("hit").Inc()
		return
	}
	m.EmbeddingCache.WithLabelValues("miss").Inc()
}

// GenerationOutcome counts a trigger outcome: started, rejected, completed or failed.
func (m *Metrics) GenerationOutcome(outcome string) {
	if m == nil {
		return
	}
	m.GenerationSessions.WithLabelValues(outcome).Inc()
	switch outcome {
	case "started":
		m.GenerationActive.Inc()
	case "completed", "failed":
		m.GenerationActive.Dec()
	}
}

// GenerationProgress adds processed files and stored chunks.
func (m *Metrics) GenerationProgress(files, chunks int) {
	if m == nil {
		return
	}
	m.GenerationFiles.Add(float64(files))
	m.GenerationChunks.Add(float64(chunks))
}

// ObserveSearch records one similarity search.
func (m *Metrics) ObserveSearch(mode string, d time.Duration, results int, degraded bool) {
	if m == nil {
		return
	}
	m.SearchDuration.WithLabelValues(mode).Observe(d.Seconds())
	m.SearchResults.Observe(float64(results))
	if degraded {
		m.SearchDegraded.Inc()
	}
}

// ContextRequest counts a context request by lookup source.
func (m *Metrics) ContextRequest(source string) {
	if m == nil {
		return
	}
	m.ContextRequests.WithLabelValues(source).Inc()
}

// ObserveBundle records the token estimate of an assembled bundle.
func (m *Metrics) ObserveBundle(tokens int) {
	if m == nil {
		return
	}
	m.BundleTokens.Observe(float64(tokens))
}
