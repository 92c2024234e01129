package generation

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sbarron/ambiance/internal/chunk"
	"github.com/sbarron/ambiance/internal/embed"
	amerrors "github.com/sbarron/ambiance/internal/errors"
	"github.com/sbarron/ambiance/internal/project"
	"github.com/sbarron/ambiance/internal/store"
)

func newTestTracker() *Tracker {
	return &Tracker{mu: &sync.Mutex{}, session: &Session{IsGenerating: true}}
}

func writeProject(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for name, content := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return root
}

func openStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "embeddings.db"), store.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

var sampleProject = map[string]string{
	"main.go":           "package main\n\nfunc main() {\n\tapp := NewApp()\n\tapp.Run()\n}\n",
	"internal/db/db.go": "package db\n\n// Open initialises the database connection.\nfunc Open(dsn string) (*DB, error) {\n\treturn connect(dsn)\n}\n\nfunc connect(dsn string) (*DB, error) {\n\treturn &DB{}, nil\n}\n",
}

func TestPipeline_FullRun(t *testing.T) {
	root := writeProject(t, sampleProject)
	st := openStore(t)
	ident := project.New(root, "")
	p := NewPipeline(st, embed.NewStaticEmbedder(64), chunk.NewWalker(), chunk.NewBoundaryProducer(),
		PipelineConfig{BatchSize: 2, Workers: 2, Quantize: true}, nil, nil)
	tr := newTestTracker()

	err := p.Run(context.Background(), ident, Options{}, tr)
	require.NoError(t, err)

	stats, err := st.GetProjectStats(context.Background(), ident.ID)
	require.NoError(t, err)
	require.NotNil(t, stats)
	assert.Equal(t, 2, stats.TotalFiles)
	assert.Equal(t, store.FormatInt8, stats.Format)
	assert.Equal(t, 64, stats.Dimensions)
	assert.Equal(t, embed.ProviderStatic, stats.Provider)

	prog := tr.Progress()
	assert.Equal(t, 2, prog.TotalFiles)
	assert.Equal(t, 2, prog.ProcessedFiles)
	assert.Equal(t, stats.TotalChunks, prog.ChunksStored)
	assert.Empty(t, tr.session.Errors)
}

func TestPipeline_IncrementalOnlyTouchesChangedFiles(t *testing.T) {
	root := writeProject(t, sampleProject)
	st := openStore(t)
	ident := project.New(root, "")
	p := NewPipeline(st, embed.NewStaticEmbedder(32), chunk.NewWalker(), chunk.NewBoundaryProducer(),
		PipelineConfig{Workers: 1}, nil, nil)
	ctx := context.Background()
	require.NoError(t, p.Run(ctx, ident, Options{}, newTestTracker()))

	// Given: one file edited after indexing
	dbPath := filepath.Join(root, "internal", "db", "db.go")
	require.NoError(t, os.WriteFile(dbPath, []byte("package db\n\nfunc Open() {}\n"), 0o644))
	future := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(dbPath, future, future))

	// When: running incrementally
	tr := newTestTracker()
	require.NoError(t, p.Run(ctx, ident, Options{Incremental: true}, tr))

	// Then: only the edited file is processed
	assert.Equal(t, 1, tr.Progress().TotalFiles)
	files, err := st.ListProjectFiles(ctx, ident.ID)
	require.NoError(t, err)
	gens := map[string]int{}
	for _, f := range files {
		gens[f.FilePath] = f.Generation
	}
	assert.Equal(t, 1, gens["main.go"])
	assert.Equal(t, 2, gens["internal/db/db.go"])
}

func TestPipeline_EmptiedFileStopsServingChunks(t *testing.T) {
	root := writeProject(t, sampleProject)
	st := openStore(t)
	ident := project.New(root, "")
	p := NewPipeline(st, embed.NewStaticEmbedder(32), chunk.NewWalker(), chunk.NewBoundaryProducer(),
		PipelineConfig{Workers: 1}, nil, nil)
	ctx := context.Background()
	require.NoError(t, p.Run(ctx, ident, Options{}, newTestTracker()))

	// Given: an indexed file emptied to whitespace after indexing
	dbPath := filepath.Join(root, "internal", "db", "db.go")
	require.NoError(t, os.WriteFile(dbPath, []byte("\n  \n"), 0o644))
	future := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(dbPath, future, future))

	// When: running incrementally
	tr := newTestTracker()
	require.NoError(t, p.Run(ctx, ident, Options{Incremental: true}, tr))
	assert.Equal(t, 1, tr.Progress().TotalFiles)

	// Then: none of its chunks are served and it is fresh against disk
	chunks, err := st.LoadVectors(ctx, ident.ID)
	require.NoError(t, err)
	for _, c := range chunks {
		assert.NotEqual(t, "internal/db/db.go", c.FilePath)
	}
	assert.NotEmpty(t, chunks)

	records, err := st.ListProjectFiles(ctx, ident.ID)
	require.NoError(t, err)
	disk, err := chunk.NewWalker().List(ctx, root, chunk.ListOptions{})
	require.NoError(t, err)
	cmp := store.CompareWithDisk(records, disk)
	assert.Empty(t, cmp.Stale)
	assert.Empty(t, cmp.New)

	// And: a second incremental run has nothing to do
	tr = newTestTracker()
	require.NoError(t, p.Run(ctx, ident, Options{Incremental: true}, tr))
	assert.Equal(t, 0, tr.Progress().TotalFiles)

	stale, err := st.FindStaleFileEmbeddings(ctx, ident.ID)
	require.NoError(t, err)
	assert.Empty(t, stale)
}

func TestPipeline_ClearAndPrune(t *testing.T) {
	root := writeProject(t, sampleProject)
	st := openStore(t)
	ident := project.New(root, "")
	ctx := context.Background()

	p := NewPipeline(st, embed.NewStaticEmbedder(32), chunk.NewWalker(), chunk.NewBoundaryProducer(),
		PipelineConfig{Prune: true}, nil, nil)
	require.NoError(t, p.Run(ctx, ident, Options{}, newTestTracker()))

	require.NoError(t, os.WriteFile(filepath.Join(root, "main.go"), []byte("package main\n\nfunc main() {}\n"), 0o644))
	require.NoError(t, p.Run(ctx, ident, Options{}, newTestTracker()))

	stale, err := st.FindStaleFileEmbeddings(ctx, ident.ID)
	require.NoError(t, err)
	assert.Empty(t, stale)

	require.NoError(t, p.Run(ctx, ident, Options{Clear: true}, newTestTracker()))
	files, err := st.ListProjectFiles(ctx, ident.ID)
	require.NoError(t, err)
	for _, f := range files {
		assert.Equal(t, 1, f.Generation, f.FilePath)
	}
}

// flakyEmbedder fails the first n batch calls with a retryable error.
type flakyEmbedder struct {
	*embed.StaticEmbedder
	mu    sync.Mutex
	fails int
	calls int
}

func (f *flakyEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.calls++
	fail := f.calls <= f.fails
	f.mu.Unlock()
	if fail {
		return nil, amerrors.NetworkError("connection reset", errors.New("reset"))
	}
	return f.StaticEmbedder.EmbedBatch(ctx, texts)
}

func TestPipeline_RetriesTransientEmbeddingFailures(t *testing.T) {
	root := writeProject(t, map[string]string{"main.go": sampleProject["main.go"]})
	st := openStore(t)
	ident := project.New(root, "")
	emb := &flakyEmbedder{StaticEmbedder: embed.NewStaticEmbedder(16), fails: 2}
	retry := amerrors.RetryConfig{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}

	p := NewPipeline(st, emb, chunk.NewWalker(), chunk.NewBoundaryProducer(),
		PipelineConfig{Retry: retry}, nil, nil)
	tr := newTestTracker()
	require.NoError(t, p.Run(context.Background(), ident, Options{}, tr))

	assert.Equal(t, 3, emb.calls)
	assert.Empty(t, tr.session.Errors)
	assert.Positive(t, tr.Progress().ChunksStored)
}

// failingProducer fails for one path.
type failingProducer struct {
	chunk.Producer
	bad string
}

func (f failingProducer) Produce(ctx context.Context, root string, file chunk.FileInfo) ([]chunk.IndexedChunk, error) {
	if file.Path == f.bad {
		return nil, errors.New("unreadable")
	}
	return f.Producer.Produce(ctx, root, file)
}

func TestPipeline_PerFileFailuresAreRecorded(t *testing.T) {
	root := writeProject(t, sampleProject)
	st := openStore(t)
	ident := project.New(root, "")
	p := NewPipeline(st, embed.NewStaticEmbedder(16), chunk.NewWalker(),
		failingProducer{Producer: chunk.NewBoundaryProducer(), bad: "main.go"},
		PipelineConfig{}, nil, nil)
	tr := newTestTracker()

	require.NoError(t, p.Run(context.Background(), ident, Options{}, tr))

	require.Len(t, tr.session.Errors, 1)
	assert.Contains(t, tr.session.Errors[0], "main.go")
	assert.Equal(t, 2, tr.Progress().ProcessedFiles)

	stats, err := st.GetProjectStats(context.Background(), ident.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalFiles)
}
