// Package engine answers local context queries. It finds a project's
// embeddings through the ordered lookup strategy, checks the stored model
// against the configured one, retrieves and ranks similar chunks and packs
// them into a token-budgeted bundle.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/sbarron/ambiance/internal/bundle"
	"github.com/sbarron/ambiance/internal/chunk"
	"github.com/sbarron/ambiance/internal/config"
	"github.com/sbarron/ambiance/internal/embed"
	amerrors "github.com/sbarron/ambiance/internal/errors"
	"github.com/sbarron/ambiance/internal/generation"
	"github.com/sbarron/ambiance/internal/project"
	"github.com/sbarron/ambiance/internal/rank"
	"github.com/sbarron/ambiance/internal/search"
	"github.com/sbarron/ambiance/internal/store"
	"github.com/sbarron/ambiance/internal/telemetry"
)

const (
	// candidateFactor widens the ranked pool relative to the requested chunk count.
	candidateFactor = 3

	recencyTTL = 5 * time.Minute
)

// Deps are the collaborators of an Engine. Store and Embedder are required.
type Deps struct {
	Config   *config.Config
	Store    *store.Store
	Embedder embed.Embedder
	Searcher *search.Searcher
	// Manager enables auto-generation and the indexing lookup step.
	Manager  *generation.Manager
	Resolver project.Resolver
	Recency  rank.RecencySource
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithMetrics records context requests and bundle sizes.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithClock overrides time.Now, which anchors commit ages.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// Engine builds context bundles. It is safe for concurrent use.
type Engine struct {
	cfg      *config.Config
	store    *store.Store
	embedder embed.Embedder
	searcher *search.Searcher
	manager  *generation.Manager
	resolver project.Resolver
	recency  rank.RecencySource
	logger   *slog.Logger
	metrics  *telemetry.Metrics
	now      func() time.Time

	group singleflight.Group

	recencyMu    sync.Mutex
	recencyCache map[string]recencyEntry
}

type recencyEntry struct {
	at      time.Time
	commits map[string]time.Time
}

// New creates an Engine.
func New(d Deps, opts ...Option) (*Engine, error) {
	if d.Store == nil || d.Embedder == nil {
		return nil, amerrors.InternalError("engine needs a store and an embedder", nil)
	}
	e := &Engine{
		cfg:          d.Config,
		store:        d.Store,
		embedder:     d.Embedder,
		searcher:     d.Searcher,
		manager:      d.Manager,
		resolver:     d.Resolver,
		recency:      d.Recency,
		logger:       slog.Default(),
		now:          time.Now,
		recencyCache: make(map[string]recencyEntry),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.cfg == nil {
		e.cfg = config.NewConfig()
	}
	if e.resolver == nil {
		e.resolver = project.PathResolver{}
	}
	if e.searcher == nil {
		e.searcher = search.New(d.Store,
			search.WithMode(search.Mode(e.cfg.Retrieval.ANN)),
			search.WithWidenTopK(e.cfg.Retrieval.WidenTopK),
			search.WithLogger(e.logger),
			search.WithMetrics(e.metrics))
	}
	return e, nil
}

// LocalContext answers req. Identical concurrent requests (same resolved
// root, format and query) share one execution and one result.
func (e *Engine) LocalContext(ctx context.Context, req Request) (*Bundle, error) {
	req, err := req.withDefaults(e.cfg.Retrieval)
	if err != nil {
		return nil, err
	}
	ident, err := e.resolver.Resolve(req.ProjectPath)
	if err != nil {
		return nil, err
	}

	v, err, shared := e.group.Do(req.flightKey(ident.Root), func() (any, error) {
		return e.localContext(ctx, ident, req)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		e.logger.Debug("context_request_coalesced", slog.String("project_id", ident.ID))
	}
	return v.(*Bundle), nil
}

func (e *Engine) localContext(ctx context.Context, ident project.Identity, req Request) (*Bundle, error) {
	res, err := e.store.Resolve(ctx, ident, e.indexing())
	if err != nil {
		return nil, err
	}
	e.metrics.ContextRequest(string(res.Source))

	switch res.Source {
	case store.SourceNone:
		return e.withoutEmbeddings(ctx, ident, res), nil
	case store.SourceIndexing:
		return e.whileIndexing(ident, res), nil
	}
	return e.retrieve(ctx, ident, res, req)
}

func (e *Engine) indexing() store.IndexingChecker {
	if e.manager == nil {
		return nil
	}
	return e.manager
}

func (e *Engine) withoutEmbeddings(ctx context.Context, ident project.Identity, res *store.Resolution) *Bundle {
	b := &Bundle{Source: res.Source, ProjectID: ident.ID}
	reason := "no embeddings stored for this project"

	if e.cfg.Retrieval.AutoGenerate && e.manager != nil {
		tr := e.manager.TriggerGeneration(ctx, ident, generation.Options{})
		if tr.Started {
			session, _ := e.manager.GetGenerationStatus(ident.ID)
			b.setBase(PartialContext{Stats: res.Stats, Session: session})
			b.Content = fmt.Sprintf("Embeddings for %s are being generated in the background.", ident.Root)
			b.Recommendations = append(b.Recommendations,
				"Embedding generation started; retry the query once it completes",
				"Check progress with 'ambiance embeddings status'")
			return b
		}
		reason = "embedding generation could not start: " + tr.Reason
	}

	b.setBase(NoContext{Reason: reason})
	b.Content = fmt.Sprintf("No embeddings found for %s.", ident.Root)
	b.Recommendations = append(b.Recommendations,
		"Run 'ambiance embeddings create' to index this project")
	return b
}

func (e *Engine) whileIndexing(ident project.Identity, res *store.Resolution) *Bundle {
	b := &Bundle{Source: res.Source, ProjectID: ident.ID}
	session, _ := e.manager.GetGenerationStatus(ident.ID)
	b.setBase(PartialContext{Stats: res.Stats, Session: session})
	b.Content = fmt.Sprintf("Embeddings for %s are still being generated.", ident.Root)
	b.Recommendations = append(b.Recommendations, "Retry the query once embedding generation completes")
	if session != nil {
		if eta, ok := session.ETA(e.now()); ok {
			b.Recommendations = append(b.Recommendations,
				fmt.Sprintf("Estimated time remaining: %s", eta.Round(time.Second)))
		}
	}
	return b
}

func (e *Engine) retrieve(ctx context.Context, ident project.Identity, res *store.Resolution, req Request) (*Bundle, error) {
	projectID := res.ProjectID
	b := &Bundle{
		Source:    res.Source,
		ProjectID: projectID,
		Metadata: Metadata{
			TotalFiles:     res.Stats.TotalFiles,
			EmbeddingsUsed: true,
		},
	}
	if res.Source == store.SourceLegacy {
		b.Recommendations = append(b.Recommendations,
			"Embeddings were found under the legacy project ID; run 'ambiance embeddings health_check --auto-fix' to migrate them")
	}

	query, err := e.embedder.Embed(ctx, req.Query)
	if err != nil {
		if _, ok := amerrors.As(err); ok {
			return nil, err
		}
		return nil, amerrors.New(amerrors.ErrCodeEmbeddingFailed, "failed to embed query", err)
	}

	compat, err := e.store.ValidateEmbeddingCompatibility(ctx, projectID, e.embedder.Provider(), len(query))
	if err != nil {
		return nil, err
	}
	if !compat.Compatible {
		b.Degraded = true
		b.Recommendations = append(b.Recommendations, compat.Issues...)
		b.Recommendations = append(b.Recommendations, compat.Recommendations...)
		e.logger.Warn("embedding_model_incompatible",
			slog.String("project_id", projectID),
			slog.String("stored_provider", compat.Stored.Provider),
			slog.Int("stored_dimensions", compat.Stored.Dimensions),
			slog.String("current_provider", compat.CurrentProvider),
			slog.Int("current_dimensions", compat.CurrentDimensions))
	}

	sr, err := e.searcher.WidenThenFilter(ctx, projectID, query, req.MaxChunks*candidateFactor, req.Threshold)
	if err != nil {
		return nil, err
	}
	b.Degraded = b.Degraded || sr.Degraded
	b.Metadata.SimilarChunksFound = len(sr.Chunks)
	b.Metadata.EmbeddingStats = &EmbeddingStats{
		ProjectID:    projectID,
		Provider:     compat.Stored.Provider,
		Model:        compat.Stored.Model,
		Dimensions:   compat.Stored.Dimensions,
		Format:       compat.Stored.Format,
		TotalChunks:  res.Stats.TotalChunks,
		Threshold:    req.Threshold,
		Distribution: sr.Distribution,
		Skipped:      sr.Skipped,
	}

	if len(sr.Chunks) == 0 {
		b.setBase(FullContext{Stats: res.Stats})
		b.Recommendations = append(b.Recommendations, fmt.Sprintf(
			"No chunk reached similarity %.2f (best %.2f); lower the threshold or rephrase the query",
			req.Threshold, sr.Distribution.Max))
		return b, nil
	}

	all, err := e.searcher.Chunks(ctx, projectID)
	if err != nil {
		return nil, err
	}
	ranker := rank.NewRanker(rank.BuildGraph(importsByFile(all)), e.commits(ctx, ident.Root), e.now())
	ranked := ranker.RankChunks(toCandidates(sr.Chunks), req.terms())
	selected := rank.Diversify(ranked, rank.DiversityOptions{
		Lambda:   req.lambda(e.cfg.Retrieval.MMRLambda),
		FacetCap: e.cfg.Retrieval.FacetCap,
		Limit:    req.MaxChunks,
	})
	report := rank.BuildReport(selected, len(ranked))

	src := newSourceCache(ident.Root)
	layout := req.Format.layout()
	packed := bundle.PackLayout(buildCandidates(selected, sr.Chunks, src), req.TokenBudget, layout)
	content := layout.Render(packed.Entries)
	tokens := chunk.EstimateTokens(content)

	b.Content = content
	b.Entries = packed.Entries
	b.Report = &report
	b.Metadata.IncludedFiles = countFiles(packed.Entries)
	b.Metadata.TokenCount = tokens
	b.Metadata.CompressionRatio = compressionRatio(src, packed.Entries, tokens)
	b.setBase(FullContext{Content: content, Stats: res.Stats})

	e.metrics.ObserveBundle(tokens)
	e.logger.Info("context_built",
		slog.String("project_id", projectID),
		slog.String("source", string(res.Source)),
		slog.String("task", string(req.TaskType)),
		slog.Int("candidates", len(sr.Chunks)),
		slog.Int("selected", len(selected)),
		slog.Int("entries", len(packed.Entries)),
		slog.Int("skipped", packed.Skipped),
		slog.Int("tokens", tokens),
		slog.Bool("degraded", b.Degraded))
	return b, nil
}

// commits returns last-commit times under root, cached briefly. Failures
// are neutral: ranking treats missing data as no boost.
func (e *Engine) commits(ctx context.Context, root string) map[string]time.Time {
	if e.recency == nil {
		return nil
	}
	now := e.now()
	e.recencyMu.Lock()
	cached, ok := e.recencyCache[root]
	e.recencyMu.Unlock()
	if ok && now.Sub(cached.at) < recencyTTL {
		return cached.commits
	}

	commits, err := e.recency.LastCommits(ctx, root)
	if err != nil {
		e.logger.Debug("recency_unavailable", slog.String("root", root), slog.String("error", err.Error()))
		commits = nil
	}
	e.recencyMu.Lock()
	e.recencyCache[root] = recencyEntry{at: now, commits: commits}
	e.recencyMu.Unlock()
	return commits
}

func (b *Bundle) setBase(base BaseContext) {
	b.Base = base
	b.BaseKind = base.Kind()
}
