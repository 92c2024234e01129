// Package chunk defines the unit of indexed content and the collaborators
// that produce it: a FileLister enumerating a project's source files and a
// Producer splitting one file into chunks.
package chunk

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// TokensPerChar approximates token cost: 4 chars = 1 token.
const TokensPerChar = 4

// SymbolKind classifies the declaration a chunk is centred on.
type SymbolKind string

const (
	KindFunction  SymbolKind = "function"
	KindMethod    SymbolKind = "method"
	KindClass     SymbolKind = "class"
	KindInterface SymbolKind = "interface"
	KindType      SymbolKind = "type"
	KindConstant  SymbolKind = "const"
	KindVariable  SymbolKind = "variable"
	KindRoute     SymbolKind = "route"
	KindTool      SymbolKind = "tool"
	KindUnknown   SymbolKind = "unknown"
)

// Meta carries the structural metadata attached to every chunk.
type Meta struct {
	Path       string     `json:"path"`
	FacetTags  []string   `json:"facet_tags,omitempty"`
	Signals    []string   `json:"signals,omitempty"`
	SymbolName string     `json:"symbol_name,omitempty"`
	SymbolKind SymbolKind `json:"symbol_kind,omitempty"`
	Imports    []string   `json:"imports,omitempty"`
	Exports    []string   `json:"exports,omitempty"`
	Language   string     `json:"language,omitempty"`
	StartLine  int        `json:"start_line"`
	EndLine    int        `json:"end_line"`
}

// IndexedChunk is a retrievable span of source before it is embedded.
type IndexedChunk struct {
	ID       string // ChunkID(FilePath, StartLine)
	FilePath string // relative to project root, slash separated
	Content  string
	Meta     Meta
}

// FileInfo describes one source file as seen on disk.
type FileInfo struct {
	Path    string // relative, slash separated
	ModTime time.Time
	Size    int64
}

// ListOptions bounds a file listing.
type ListOptions struct {
	MaxFiles int      // 0 = unlimited
	Exclude  []string // glob patterns, matched against base name and relative path
}

// FileLister enumerates the indexable files of a project.
type FileLister interface {
	List(ctx context.Context, root string, opts ListOptions) ([]FileInfo, error)
}

// Producer splits one file into chunks.
type Producer interface {
	Produce(ctx context.Context, root string, file FileInfo) ([]IndexedChunk, error)
}

// ChunkID is SHA256(file_path:start_line)[:16].
func ChunkID(filePath string, startLine int) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s:%d", filePath, startLine)))
	return hex.EncodeToString(h[:])[:16]
}

// EstimateTokens returns ceil(len(s)/TokensPerChar).
func EstimateTokens(s string) int {
	return (len(s) + TokensPerChar - 1) / TokensPerChar
}

var extLanguages = map[string]string{
	".go":    "go",
	".ts":    "typescript",
	".tsx":   "typescript",
	".mts":   "typescript",
	".js":    "javascript",
	".jsx":   "javascript",
	".mjs":   "javascript",
	".cjs":   "javascript",
	".py":    "python",
	".rs":    "rust",
	".java":  "java",
	".kt":    "kotlin",
	".rb":    "ruby",
	".php":   "php",
	".c":     "c",
	".h":     "c",
	".cc":    "cpp",
	".cpp":   "cpp",
	".hpp":   "cpp",
	".cs":    "csharp",
	".swift": "swift",
	".sh":    "shell",
	".sql":   "sql",
	".yaml":  "yaml",
	".yml":   "yaml",
	".toml":  "toml",
}

// DetectLanguage maps a file extension to a language name, or "" when the
// file is not source code this package indexes.
func DetectLanguage(path string) string {
	return extLanguages[strings.ToLower(filepath.Ext(path))]
}

// IsHashCommentLanguage reports whether # starts a line comment.
func IsHashCommentLanguage(lang string) bool {
	switch lang {
	case "python", "ruby", "shell", "yaml", "toml":
		return true
	}
	return false
}

// IsCharQuoteLanguage reports whether single quotes delimit only
// one-character literals, so a lone ' (a Rust lifetime) starts no string.
func IsCharQuoteLanguage(lang string) bool {
	switch lang {
	case "go", "rust", "java", "kotlin", "c", "cpp", "csharp", "swift":
		return true
	}
	return false
}

// IsTestPath reports whether path looks like a test file or lives in a test directory.
func IsTestPath(path string) bool {
	p := strings.ToLower(filepath.ToSlash(path))
	base := p[strings.LastIndex(p, "/")+1:]
	switch {
	case strings.HasSuffix(base, "_test.go"),
		strings.Contains(base, ".test."),
		strings.Contains(base, ".spec."),
		strings.HasPrefix(base, "test_"),
		strings.HasSuffix(strings.TrimSuffix(base, filepath.Ext(base)), "_test"):
		return true
	}
	for _, seg := range strings.Split(p, "/") {
		switch seg {
		case "test", "tests", "__tests__", "spec", "testdata":
			return true
		}
	}
	return false
}
