package telemetry

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Embedding(t *testing.T) {
	m := New()

	m.ObserveEmbedding("static", "static-hash-v1", time.Millisecond, nil)
	m.ObserveEmbedding("static", "static-hash-v1", time.Millisecond, nil)
	m.ObserveEmbedding("openai", "text-embedding-3-small", time.Second, errors.New("boom"))
	m.CacheResult(true)
	m.CacheResult(false)
	m.CacheResult(false)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.EmbeddingRequests.WithLabelValues("static", "static-hash-v1", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EmbeddingRequests.WithLabelValues("openai", "text-embedding-3-small", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EmbeddingCache.WithLabelValues("hit")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.EmbeddingCache.WithLabelValues("miss")))
}

func TestMetrics_GenerationActiveGauge(t *testing.T) {
	m := New()

	// Given: two sessions started and one finished
	m.GenerationOutcome("started")
	m.GenerationOutcome("started")
	m.GenerationOutcome("completed")
	m.GenerationOutcome("rejected")
	m.GenerationProgress(3, 12)

	// Then: the gauge tracks live sessions only
	assert.Equal(t, 1.0, testutil.ToFloat64(m.GenerationActive))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.GenerationSessions.WithLabelValues("rejected")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.GenerationFiles))
	assert.Equal(t, 12.0, testutil.ToFloat64(m.GenerationChunks))
}

func TestMetrics_SearchAndContext(t *testing.T) {
	m := New()

	m.ObserveSearch("exact", 5*time.Millisecond, 7, true)
	m.ContextRequest("legacy")
	m.ObserveBundle(1200)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.SearchDegraded))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ContextRequests.WithLabelValues("legacy")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.BundleTokens))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.ObserveEmbedding("p", "m", time.Second, nil)
		m.CacheResult(true)
		m.GenerationOutcome("started")
		m.GenerationProgress(1, 1)
		m.ObserveSearch("exact", time.Second, 1, false)
		m.ContextRequest("none")
		m.ObserveBundle(1)
	})
	assert.Nil(t, m.Registry())
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.ContextRequest("current")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `ambiance_context_requests_total{source="current"} 1`))
}
