package chunk

import (
	"context"
	"io/fs"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

// DefaultMaxFileSize skips files larger than 1MB.
const DefaultMaxFileSize = 1 << 20

// defaultExcludeDirs are never descended into.
var defaultExcludeDirs = map[string]bool{
	".git":         true,
	".hg":          true,
	".svn":         true,
	".ambiance":    true,
	".idea":        true,
	".vscode":      true,
	"node_modules": true,
	"__pycache__":  true,
	".venv":        true,
	".next":        true,
	"coverage":     true,
}

// sensitivePatterns are files that must never be embedded.
var sensitivePatterns = []string{
	".env*",
	"*.pem",
	"*.key",
	"id_rsa*",
	"*.min.js",
}

// Walker lists source files under a root, honouring the root .gitignore,
// built-in exclusions and caller-supplied patterns.
type Walker struct {
	MaxFileSize      int64
	RespectGitignore bool
}

// NewWalker returns a Walker with default limits that honours .gitignore.
func NewWalker() *Walker {
	return &Walker{MaxFileSize: DefaultMaxFileSize, RespectGitignore: true}
}

// Filter decides which paths a listing skips. It is shared with the
// watcher so change events follow the same rules as generation.
type Filter struct {
	ignores *ignoreSet
}

// NewFilter loads root's .gitignore (when the walker honours it) and adds
// the caller's exclude patterns.
func (w *Walker) NewFilter(root string, exclude []string) (*Filter, error) {
	ignores := &ignoreSet{}
	if w.RespectGitignore {
		if err := ignores.loadIgnoreFile(filepath.Join(root, ".gitignore")); err != nil {
			return nil, err
		}
	}
	for _, p := range exclude {
		ignores.add(p)
	}
	return &Filter{ignores: ignores}, nil
}

// SkipDir reports whether the slash-separated directory rel is not descended into.
func (f *Filter) SkipDir(rel string) bool {
	for _, part := range strings.Split(rel, "/") {
		if defaultExcludeDirs[part] {
			return true
		}
	}
	return f.ignores.match(rel, true)
}

// SkipFile reports whether the slash-separated file rel is not indexable.
// Parent directories are checked too.
func (f *Filter) SkipFile(rel string) bool {
	if DetectLanguage(rel) == "" || isSensitive(path.Base(rel)) {
		return true
	}
	if dir := path.Dir(rel); dir != "." && f.SkipDir(dir) {
		return true
	}
	return f.ignores.match(rel, false)
}

// List returns indexable files sorted by path. When opts.MaxFiles is set the
// listing is truncated after sorting so the cap is deterministic.
func (w *Walker) List(ctx context.Context, root string, opts ListOptions) ([]FileInfo, error) {
	filter, err := w.NewFilter(root, opts.Exclude)
	if err != nil {
		return nil, err
	}
	maxSize := w.MaxFileSize
	if maxSize <= 0 {
		maxSize = DefaultMaxFileSize
	}

	var files []FileInfo
	err = filepath.WalkDir(root, func(full string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable entries are skipped, not fatal.
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if full == root {
			return nil
		}

		rel, relErr := filepath.Rel(root, full)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if defaultExcludeDirs[d.Name()] || filter.ignores.match(rel, true) {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || DetectLanguage(rel) == "" {
			return nil
		}
		if isSensitive(d.Name()) || filter.ignores.match(rel, false) {
			return nil
		}
		info, infoErr := d.Info()
		if infoErr != nil || info.Size() > maxSize {
			return nil
		}
		files = append(files, FileInfo{Path: rel, ModTime: info.ModTime(), Size: info.Size()})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	if opts.MaxFiles > 0 && len(files) > opts.MaxFiles {
		files = files[:opts.MaxFiles]
	}
	return files, nil
}

func isSensitive(name string) bool {
	lower := strings.ToLower(name)
	for _, p := range sensitivePatterns {
		if ok, _ := filepath.Match(p, lower); ok {
			return true
		}
	}
	return false
}
