package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sbarron/ambiance/internal/chunk"
	"github.com/sbarron/ambiance/internal/embed"
	amerrors "github.com/sbarron/ambiance/internal/errors"
	"github.com/sbarron/ambiance/internal/project"
	"github.com/sbarron/ambiance/internal/quantize"
	"github.com/sbarron/ambiance/internal/store"
	"github.com/sbarron/ambiance/internal/telemetry"
)

// PipelineConfig tunes a Pipeline.
type PipelineConfig struct {
	MaxFiles        int
	Exclude         []string
	BatchSize       int
	Workers         int
	InterBatchDelay time.Duration
	Quantize        bool
	Prune           bool
	Retry           amerrors.RetryConfig
}

// Pipeline is the default Runner: list, chunk, embed, store.
type Pipeline struct {
	store    *store.Store
	embedder embed.Embedder
	lister   chunk.FileLister
	producer chunk.Producer
	cfg      PipelineConfig
	logger   *slog.Logger
	metrics  *telemetry.Metrics

	// writeMu serialises Upsert; the first write of a project creates its record.
	writeMu sync.Mutex
}

// NewPipeline wires a Pipeline. Zero config values take defaults.
func NewPipeline(st *store.Store, emb embed.Embedder, lister chunk.FileLister, producer chunk.Producer,
	cfg PipelineConfig, logger *slog.Logger, metrics *telemetry.Metrics) *Pipeline {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = embed.DefaultBatchSize
	}
	if cfg.BatchSize > embed.MaxBatchSize {
		cfg.BatchSize = embed.MaxBatchSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Retry.MaxRetries == 0 && cfg.Retry.InitialDelay == 0 {
		cfg.Retry = amerrors.DefaultRetryConfig()
	}
	if cfg.Retry.ShouldRetry == nil {
		cfg.Retry.ShouldRetry = amerrors.IsRetryable
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		store:    st,
		embedder: emb,
		lister:   lister,
		producer: producer,
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
	}
}

// Run generates embeddings for ident. Per-file chunking and embedding
// failures are recorded on the tracker and skipped; store failures abort.
func (p *Pipeline) Run(ctx context.Context, ident project.Identity, opts Options, t *Tracker) error {
	if opts.Clear {
		if _, err := p.store.ClearProjectEmbeddings(ctx, ident.ID); err != nil {
			return err
		}
	}

	files, err := p.lister.List(ctx, ident.Root, chunk.ListOptions{MaxFiles: p.cfg.MaxFiles, Exclude: p.cfg.Exclude})
	if err != nil {
		return amerrors.New(amerrors.ErrCodeGenerationFailed, "cannot list project files", err)
	}

	if opts.Incremental && !opts.Clear {
		files, err = p.pending(ctx, ident.ID, files)
		if err != nil {
			return err
		}
	}
	t.SetTotal(len(files))
	p.logger.Debug("generation_files_listed",
		slog.String("project_id", ident.ID),
		slog.Int("files", len(files)),
		slog.Bool("incremental", opts.Incremental))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Workers)
	for _, f := range files {
		g.Go(func() error {
			n, err := p.processFile(gctx, ident, f)
			if err != nil {
				if isFatal(err) {
					return err
				}
				t.Error(fmt.Errorf("%s: %w", f.Path, err))
			}
			t.FileDone(n)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if p.cfg.Prune {
		res, err := p.store.CleanupStaleFileEmbeddings(ctx, ident.ID)
		if err != nil {
			return err
		}
		p.logger.Debug("generation_pruned",
			slog.String("project_id", ident.ID),
			slog.Int("chunks_deleted", res.ChunksDeleted))
	}
	return nil
}

// pending keeps the files that are new or modified since their last generation.
func (p *Pipeline) pending(ctx context.Context, projectID string, files []chunk.FileInfo) ([]chunk.FileInfo, error) {
	records, err := p.store.ListProjectFiles(ctx, projectID)
	if err != nil {
		return nil, err
	}
	cmp := store.CompareWithDisk(records, files)
	want := make(map[string]bool, len(cmp.Stale)+len(cmp.New))
	for _, f := range cmp.Stale {
		want[f] = true
	}
	for _, f := range cmp.New {
		want[f] = true
	}

	out := files[:0:0]
	for _, f := range files {
		if want[f.Path] {
			out = append(out, f)
		}
	}
	return out, nil
}

func (p *Pipeline) processFile(ctx context.Context, ident project.Identity, f chunk.FileInfo) (int, error) {
	produced, err := p.producer.Produce(ctx, ident.Root, f)
	if err != nil {
		return 0, amerrors.New(amerrors.ErrCodeChunkingFailed, "cannot chunk file", err)
	}
	if len(produced) == 0 {
		p.writeMu.Lock()
		_, err := p.store.RecordEmptyFile(ctx, ident.ID, f.Path, f.ModTime)
		p.writeMu.Unlock()
		return 0, err
	}

	texts := make([]string, len(produced))
	for i, c := range produced {
		texts[i] = c.Content
	}
	vectors, err := p.embed(ctx, texts)
	if err != nil {
		return 0, err
	}

	format := store.FormatFloat32
	if p.cfg.Quantize {
		format = store.FormatInt8
	}
	chunks := make([]store.Chunk, len(produced))
	for i, c := range produced {
		sc := store.Chunk{
			ID:          c.ID,
			FilePath:    c.FilePath,
			Text:        c.Content,
			Meta:        c.Meta,
			FileModTime: f.ModTime,
		}
		if p.cfg.Quantize {
			if sc.Quantized, err = quantize.Quantize(vectors[i]); err != nil {
				return 0, err
			}
		} else {
			sc.Vector = vectors[i]
		}
		chunks[i] = sc
	}

	rec := store.ModelIdentity{
		RootPath:   ident.Root,
		Provider:   p.embedder.Provider(),
		Model:      p.embedder.ModelName(),
		Dimensions: len(vectors[0]),
		Format:     format,
	}

	p.writeMu.Lock()
	res, err := p.store.Upsert(ctx, ident.ID, rec, chunks)
	p.writeMu.Unlock()
	if err != nil {
		return 0, err
	}
	return res.ChunksWritten, nil
}

// embed embeds texts in batches with retry, pausing between batches.
func (p *Pipeline) embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += p.cfg.BatchSize {
		if start > 0 && p.cfg.InterBatchDelay > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(p.cfg.InterBatchDelay):
			}
		}
		end := min(start+p.cfg.BatchSize, len(texts))
		batch := texts[start:end]

		vecs, err := amerrors.RetryWithResult(ctx, p.cfg.Retry, func() ([][]float32, error) {
			return p.embedder.EmbedBatch(ctx, batch)
		})
		if err != nil {
			return nil, err
		}
		if len(vecs) != len(batch) {
			return nil, amerrors.New(amerrors.ErrCodeEmbeddingFailed,
				fmt.Sprintf("provider returned %d vectors for %d inputs", len(vecs), len(batch)), nil)
		}
		out = append(out, vecs...)
	}
	return out, nil
}

// isFatal reports errors that end the whole run rather than one file.
func isFatal(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	switch amerrors.GetCode(err) {
	case amerrors.ErrCodeStorageUnavailable, amerrors.ErrCodeCorruptStore,
		amerrors.ErrCodeDimensionMismatch, amerrors.ErrCodeModelIncompatible:
		return true
	}
	return false
}
