package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sbarron/ambiance/internal/generation"
	"github.com/sbarron/ambiance/internal/project"
)

func TestOperation_String(t *testing.T) {
	tests := []struct {
		op   Operation
		want string
	}{
		{OpCreate, "CREATE"},
		{OpModify, "MODIFY"},
		{OpDelete, "DELETE"},
		{OpRename, "RENAME"},
		{Operation(42), "UNKNOWN"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.op.String())
	}
}

func startWatcher(t *testing.T, root string, opts Options) *Watcher {
	t.Helper()
	w, err := New(root, opts)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		_ = w.Close()
	})
	// Run registers directories before reading events.
	time.Sleep(100 * time.Millisecond)
	return w
}

func TestWatcher_EmitsIndexableChanges(t *testing.T) {
	// Given: a watched project with an excluded directory
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "src"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "node_modules", "dep"), 0o755))
	w := startWatcher(t, root, Options{Debounce: 50 * time.Millisecond})

	// When: a source file, an excluded file and a non-source file are written
	require.NoError(t, os.WriteFile(filepath.Join(root, "src", "app.go"), []byte("package src\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "node_modules", "dep", "index.js"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.bin"), []byte{0, 1}, 0o644))

	// Then: only the source file is reported
	batch := receive(t, w.Batches())
	require.Len(t, batch, 1)
	assert.Equal(t, "src/app.go", batch[0].Path)
	assert.Equal(t, OpCreate, batch[0].Operation)
}

func TestWatcher_NewDirectoriesAreWatched(t *testing.T) {
	root := t.TempDir()
	w := startWatcher(t, root, Options{Debounce: 50 * time.Millisecond})

	dir := filepath.Join(root, "pkg", "util")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "strings.go"), []byte("package util\n"), 0o644))

	batch := receive(t, w.Batches())
	paths := make([]string, len(batch))
	for i, ev := range batch {
		paths[i] = ev.Path
	}
	assert.Contains(t, paths, "pkg/util/strings.go")
}

func TestWatcher_CloseIsIdempotent(t *testing.T) {
	w, err := New(t.TempDir(), Options{})
	require.NoError(t, err)

	require.NoError(t, w.Close())
	assert.NoError(t, w.Close())
	_, ok := <-w.Batches()
	assert.False(t, ok)
}

// scriptedTrigger answers TriggerGeneration from a queue of results.
type scriptedTrigger struct {
	mu      sync.Mutex
	results []generation.TriggerResult
	calls   []generation.Options
	called  chan struct{}
}

func (s *scriptedTrigger) TriggerGeneration(_ context.Context, _ project.Identity, opts generation.Options) generation.TriggerResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, opts)
	res := generation.TriggerResult{Started: true, SessionID: "s"}
	if len(s.results) > 0 {
		res, s.results = s.results[0], s.results[1:]
	}
	s.called <- struct{}{}
	return res
}

func (s *scriptedTrigger) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func TestUpdater_TriggersIncremental(t *testing.T) {
	trig := &scriptedTrigger{called: make(chan struct{}, 8)}
	u := NewUpdater(trig, project.New("/src/app", ""), nil)
	batches := make(chan []FileEvent)
	done := make(chan struct{})
	go func() {
		defer close(done)
		u.Run(context.Background(), batches)
	}()

	batches <- []FileEvent{{Path: "a.go", Operation: OpModify}}
	<-trig.called
	close(batches)
	<-done

	require.Equal(t, 1, trig.callCount())
	assert.True(t, trig.calls[0].Incremental)
	assert.False(t, trig.calls[0].Clear)
}

func TestUpdater_RetriesWhileGenerating(t *testing.T) {
	// Given: a manager that is busy on the first attempt
	trig := &scriptedTrigger{
		results: []generation.TriggerResult{{Reason: generation.ReasonAlreadyGenerating}},
		called:  make(chan struct{}, 8),
	}
	u := NewUpdater(trig, project.New("/src/app", ""), nil)
	u.retry = 20 * time.Millisecond
	batches := make(chan []FileEvent, 2)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go u.Run(ctx, batches)

	// When: a batch arrives
	batches <- []FileEvent{{Path: "a.go", Operation: OpModify}}

	// Then: the update is retried until it starts, then nothing more runs
	<-trig.called
	select {
	case <-trig.called:
	case <-time.After(2 * time.Second):
		t.Fatal("update was not retried")
	}
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 2, trig.callCount())
}

func TestUpdater_StopsOnShutdown(t *testing.T) {
	trig := &scriptedTrigger{
		results: []generation.TriggerResult{{Reason: generation.ReasonShuttingDown}},
		called:  make(chan struct{}, 8),
	}
	u := NewUpdater(trig, project.New("/src/app", ""), nil)
	batches := make(chan []FileEvent, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		u.Run(context.Background(), batches)
	}()

	batches <- []FileEvent{{Path: "a.go", Operation: OpModify}}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("updater did not stop")
	}
}
