// Package search runs cosine similarity retrieval over a project's stored
// vectors, either as an exact scan or through an in-memory HNSW graph.
package search

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	amerrors "github.com/sbarron/ambiance/internal/errors"
	"github.com/sbarron/ambiance/internal/quantize"
	"github.com/sbarron/ambiance/internal/store"
	"github.com/sbarron/ambiance/internal/telemetry"
)

// Mode selects how candidates are generated.
type Mode string

const (
	ModeExact Mode = "exact"
	ModeHNSW  Mode = "hnsw"
)

// DefaultWidenTopK is the candidate pool used before the threshold is applied.
const DefaultWidenTopK = 200

// VectorSource is the read side of the embedding store.
type VectorSource interface {
	LoadVectors(ctx context.Context, projectID string) ([]store.Chunk, error)
	GetProjectStats(ctx context.Context, projectID string) (*store.ProjectStats, error)
}

// Distribution summarises the similarities of a widened candidate pool so
// callers can spot a miscalibrated threshold.
type Distribution struct {
	Max            float64 `json:"max"`
	Mean           float64 `json:"mean"`
	Candidates     int     `json:"candidates"`
	AboveThreshold int     `json:"above_threshold"`
}

// Result is the outcome of WidenThenFilter.
type Result struct {
	Chunks       []store.ScoredChunk
	Distribution Distribution
	// Skipped counts stored vectors whose width differs from the query.
	Skipped int
	// Degraded is set when any stored vector had to be skipped.
	Degraded bool
}

// Option configures a Searcher.
type Option func(*Searcher)

// WithMode selects exact or HNSW retrieval.
func WithMode(mode Mode) Option {
	return func(s *Searcher) { s.mode = mode }
}

// WithWidenTopK sets the widened candidate pool size.
func WithWidenTopK(k int) Option {
	return func(s *Searcher) {
		if k > 0 {
			s.widenTopK = k
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Searcher) { s.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *Searcher) { s.metrics = m }
}

// Searcher answers similarity queries. Loaded vectors are cached per project
// and reloaded when the project's chunk count or update time changes.
type Searcher struct {
	src       VectorSource
	mode      Mode
	widenTopK int
	logger    *slog.Logger
	metrics   *telemetry.Metrics

	mu    sync.Mutex
	cache map[string]*projectVectors
}

type projectVectors struct {
	total   int
	updated time.Time
	chunks  []store.Chunk
	ann     *annIndex
}

// New creates a Searcher over src.
func New(src VectorSource, opts ...Option) *Searcher {
	s := &Searcher{
		src:       src,
		mode:      ModeExact,
		widenTopK: DefaultWidenTopK,
		logger:    slog.Default(),
		cache:     make(map[string]*projectVectors),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Search returns at most topK chunks with similarity >= minSimilarity,
// highest first, ties broken by chunk ID.
func (s *Searcher) Search(ctx context.Context, projectID string, query []float32, topK int, minSimilarity float64) ([]store.ScoredChunk, error) {
	hits, _, err := s.search(ctx, projectID, query, topK, minSimilarity)
	return hits, err
}

// WidenThenFilter retrieves a widened pool with no floor, records its
// similarity distribution, then applies threshold and topK.
func (s *Searcher) WidenThenFilter(ctx context.Context, projectID string, query []float32, topK int, threshold float64) (*Result, error) {
	start := time.Now()
	widen := max(s.widenTopK, topK)

	pool, skipped, err := s.search(ctx, projectID, query, widen, 0)
	if err != nil {
		return nil, err
	}

	res := &Result{Skipped: skipped, Degraded: skipped > 0}
	res.Distribution.Candidates = len(pool)
	var sum float64
	for _, h := range pool {
		sum += h.Score
		res.Distribution.Max = max(res.Distribution.Max, h.Score)
		if h.Score >= threshold {
			res.Distribution.AboveThreshold++
			if len(res.Chunks) < topK || topK <= 0 {
				res.Chunks = append(res.Chunks, h)
			}
		}
	}
	if len(pool) > 0 {
		res.Distribution.Mean = sum / float64(len(pool))
	}

	s.metrics.ObserveSearch(string(s.mode), time.Since(start), len(res.Chunks), res.Degraded)
	s.logger.Debug("search_widened",
		slog.String("project_id", projectID),
		slog.String("mode", string(s.mode)),
		slog.Int("widen_top_k", widen),
		slog.Int("candidates", len(pool)),
		slog.Float64("max", res.Distribution.Max),
		slog.Float64("mean", res.Distribution.Mean),
		slog.Int("above_threshold", res.Distribution.AboveThreshold),
		slog.Float64("threshold", threshold),
		slog.Int("skipped", skipped))
	return res, nil
}

// Invalidate drops the cached vectors of projectID.
func (s *Searcher) Invalidate(projectID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cache, projectID)
}

// Chunks returns the project's current chunks from the same cache searches
// use. The slice is shared and must not be modified.
func (s *Searcher) Chunks(ctx context.Context, projectID string) ([]store.Chunk, error) {
	pv, err := s.load(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return pv.chunks, nil
}

func (s *Searcher) search(ctx context.Context, projectID string, query []float32, topK int, minSimilarity float64) ([]store.ScoredChunk, int, error) {
	if len(query) == 0 {
		return nil, 0, amerrors.InvalidInput("query vector is empty")
	}
	pv, err := s.load(ctx, projectID)
	if err != nil {
		return nil, 0, err
	}

	var hits []store.ScoredChunk
	var skipped int
	if s.mode == ModeHNSW && pv.ann != nil {
		hits, skipped = pv.ann.search(pv.chunks, query, topK, minSimilarity)
	} else {
		hits, skipped = exactSearch(pv.chunks, query, minSimilarity)
	}

	sortHits(hits)
	if topK > 0 && len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, skipped, nil
}

func exactSearch(chunks []store.Chunk, query []float32, minSimilarity float64) ([]store.ScoredChunk, int) {
	var hits []store.ScoredChunk
	skipped := 0
	for _, c := range chunks {
		if len(c.Vector) != len(query) {
			skipped++
			continue
		}
		sim := quantize.CosineSimilarity(query, c.Vector)
		if sim >= minSimilarity {
			hits = append(hits, store.ScoredChunk{Chunk: c, Score: sim})
		}
	}
	return hits, skipped
}

func sortHits(hits []store.ScoredChunk) {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Chunk.ID < hits[j].Chunk.ID
	})
}

// load returns cached vectors, reloading when the stored project changed.
func (s *Searcher) load(ctx context.Context, projectID string) (*projectVectors, error) {
	stats, err := s.src.GetProjectStats(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if stats == nil {
		return &projectVectors{}, nil
	}

	s.mu.Lock()
	cached, ok := s.cache[projectID]
	s.mu.Unlock()
	if ok && cached.total == stats.TotalChunks && cached.updated.Equal(stats.LastUpdated) {
		return cached, nil
	}

	chunks, err := s.src.LoadVectors(ctx, projectID)
	if err != nil {
		return nil, err
	}
	pv := &projectVectors{total: stats.TotalChunks, updated: stats.LastUpdated, chunks: chunks}
	if s.mode == ModeHNSW {
		pv.ann = buildANN(chunks)
		s.logger.Debug("hnsw_index_built",
			slog.String("project_id", projectID),
			slog.Int("nodes", pv.ann.len()))
	}

	s.mu.Lock()
	s.cache[projectID] = pv
	s.mu.Unlock()
	return pv, nil
}
