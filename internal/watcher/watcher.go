// Package watcher keeps a project's embeddings fresh: file changes are
// debounced into batches and each batch triggers an incremental generation.
package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/sbarron/ambiance/internal/chunk"
)

// Operation is a file system operation.
type Operation int

const (
	OpCreate Operation = iota
	OpModify
	OpDelete
	OpRename
)

func (op Operation) String() string {
	switch op {
	case OpCreate:
		return "CREATE"
	case OpModify:
		return "MODIFY"
	case OpDelete:
		return "DELETE"
	case OpRename:
		return "RENAME"
	default:
		return "UNKNOWN"
	}
}

// FileEvent is a change to one project file. Path is slash separated and
// relative to the project root.
type FileEvent struct {
	Path      string
	Operation Operation
	Timestamp time.Time
}

// Options configures a Watcher.
type Options struct {
	// Debounce is the quiet period before a batch is emitted. Default: 2s
	Debounce time.Duration
	// Exclude are extra gitignore-style patterns, as for generation.
	Exclude []string
	Logger  *slog.Logger
}

const defaultDebounce = 2 * time.Second

func (o Options) withDefaults() Options {
	if o.Debounce <= 0 {
		o.Debounce = defaultDebounce
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Watcher watches a project tree recursively. Events for files generation
// would skip are dropped before debouncing.
type Watcher struct {
	root      string
	fs        *fsnotify.Watcher
	filter    *chunk.Filter
	debouncer *Debouncer
	logger    *slog.Logger

	closeOnce sync.Once
	done      chan struct{}
}

// New creates a Watcher for root. Call Run to start delivering batches.
func New(root string, opts Options) (*Watcher, error) {
	opts = opts.withDefaults()
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve watch root: %w", err)
	}
	filter, err := chunk.NewWalker().NewFilter(abs, opts.Exclude)
	if err != nil {
		return nil, fmt.Errorf("load ignore rules: %w", err)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	return &Watcher{
		root:      abs,
		fs:        fsw,
		filter:    filter,
		debouncer: NewDebouncer(opts.Debounce, opts.Logger),
		logger:    opts.Logger,
		done:      make(chan struct{}),
	}, nil
}

// Batches returns debounced event batches. The channel is closed by Close.
func (w *Watcher) Batches() <-chan []FileEvent {
	return w.debouncer.Output()
}

// Run registers every directory under the root and forwards events until
// ctx is cancelled or Close is called.
func (w *Watcher) Run(ctx context.Context) error {
	if err := w.addTree(w.root); err != nil {
		return err
	}
	w.logger.Info("watcher_started", slog.String("root", w.root))

	for {
		select {
		case <-ctx.Done():
			_ = w.Close()
			return nil
		case <-w.done:
			return nil
		case ev, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			w.handle(ev)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher_error", slog.String("error", err.Error()))
		}
	}
}

// Close stops watching and closes the batch channel. Safe to call more than once.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		w.debouncer.Stop()
		err = w.fs.Close()
	})
	return err
}

func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if path != w.root {
			rel, relErr := filepath.Rel(w.root, path)
			if relErr != nil || w.filter.SkipDir(filepath.ToSlash(rel)) {
				return filepath.SkipDir
			}
		}
		if err := w.fs.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		return nil
	})
}

func (w *Watcher) handle(ev fsnotify.Event) {
	rel, err := filepath.Rel(w.root, ev.Name)
	if err != nil || rel == "." {
		return
	}
	rel = filepath.ToSlash(rel)

	var op Operation
	switch {
	case ev.Has(fsnotify.Create):
		op = OpCreate
		if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
			if !w.filter.SkipDir(rel) {
				if err := w.addTree(ev.Name); err != nil {
					w.logger.Warn("watcher_add_failed", slog.String("path", rel), slog.String("error", err.Error()))
				}
			}
			return
		}
	case ev.Has(fsnotify.Write):
		op = OpModify
	case ev.Has(fsnotify.Remove):
		op = OpDelete
	case ev.Has(fsnotify.Rename):
		op = OpRename
	default:
		return
	}
	if w.filter.SkipFile(rel) {
		return
	}
	w.debouncer.Add(FileEvent{Path: rel, Operation: op, Timestamp: time.Now()})
}
