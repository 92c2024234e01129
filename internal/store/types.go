// Package store persists embedded chunks in SQLite, tagged with the model
// identity that produced them. Every file is versioned by generation; reads
// only ever see the newest generation of each file.
package store

import (
	"time"

	"github.com/sbarron/ambiance/internal/chunk"
	"github.com/sbarron/ambiance/internal/quantize"
)

// Format is the on-disk vector encoding.
type Format string

const (
	FormatInt8    Format = "int8"
	FormatFloat32 Format = "float32"
)

// Chunk is an embedded span of source stored under a project.
type Chunk struct {
	ID         string
	ProjectID  string
	FilePath   string
	Generation int
	Text       string

	// Vector is always populated on reads. On writes either Vector or
	// Quantized must be set.
	Vector    []float32
	Quantized *quantize.QuantizedVector

	Meta        chunk.Meta
	FileModTime time.Time
}

// Dimensions returns the width of whichever vector is set.
func (c *Chunk) Dimensions() int {
	if c.Quantized != nil {
		return c.Quantized.OriginalDimensions
	}
	return len(c.Vector)
}

// ScoredChunk is a retrieval hit.
type ScoredChunk struct {
	Chunk Chunk
	Score float64
}

// ModelIdentity describes the embedder behind a write and the project root
// it belongs to.
type ModelIdentity struct {
	RootPath   string
	Provider   string
	Model      string
	Dimensions int
	Format     Format
}

// ProjectRecord is the per-project summary row.
type ProjectRecord struct {
	ProjectID     string    `json:"project_id"`
	RootPath      string    `json:"root_path"`
	ModelProvider string    `json:"model_provider"`
	ModelName     string    `json:"model_name"`
	Dimensions    int       `json:"dimensions"`
	Format        Format    `json:"format"`
	TotalChunks   int       `json:"total_chunks"`
	TotalFiles    int       `json:"total_files"`
	CreatedAt     time.Time `json:"created_at"`
	LastUpdated   time.Time `json:"last_updated"`
}

// ProjectStats counts the newest generation of every file.
type ProjectStats struct {
	ProjectID   string    `json:"project_id"`
	TotalChunks int       `json:"total_chunks"`
	TotalFiles  int       `json:"total_files"`
	StaleFiles  int       `json:"stale_files"`
	Format      Format    `json:"format"`
	Dimensions  int       `json:"dimensions"`
	Provider    string    `json:"provider"`
	Model       string    `json:"model"`
	LastUpdated time.Time `json:"last_updated"`
}

// ModelInfo is the stored model identity of a project.
type ModelInfo struct {
	Provider    string    `json:"provider"`
	Model       string    `json:"model"`
	Dimensions  int       `json:"dimensions"`
	Format      Format    `json:"format"`
	CreatedAt   time.Time `json:"created_at"`
	LastUpdated time.Time `json:"last_updated"`
}

// Compatibility is the verdict of comparing stored and current models.
type Compatibility struct {
	Compatible        bool      `json:"compatible"`
	Stored            ModelInfo `json:"stored"`
	CurrentProvider   string    `json:"current_provider"`
	CurrentDimensions int       `json:"current_dimensions"`
	Issues            []string  `json:"issues,omitempty"`
	Recommendations   []string  `json:"recommendations,omitempty"`
}

// GenerationInfo describes one stored generation of a file.
type GenerationInfo struct {
	Generation int       `json:"generation"`
	EmbeddedAt time.Time `json:"embedded_at"`
	ChunkCount int       `json:"chunk_count"`
	ByteSize   int64     `json:"byte_size"`
}

// StaleFile is a file holding more than one generation, newest first.
type StaleFile struct {
	FilePath    string           `json:"file_path"`
	Generations []GenerationInfo `json:"generations"`
}

// FileRecord is the newest generation of one file.
type FileRecord struct {
	FilePath   string    `json:"file_path"`
	Generation int       `json:"generation"`
	FileMTime  time.Time `json:"file_mtime"`
	EmbeddedAt time.Time `json:"embedded_at"`
	ChunkCount int       `json:"chunk_count"`
}

// DiskComparison buckets stored files against the working tree.
type DiskComparison struct {
	Stale   []string `json:"stale"`
	Missing []string `json:"missing"`
	New     []string `json:"new"`
	Fresh   []string `json:"fresh"`
}

// NeedsUpdate reports whether any file must be (re-)embedded.
func (d DiskComparison) NeedsUpdate() bool {
	return len(d.Stale) > 0 || len(d.New) > 0
}

// CleanupResult summarises a duplicate-generation cleanup.
type CleanupResult struct {
	StaleFilesFound int   `json:"stale_files_found"`
	ChunksDeleted   int   `json:"chunks_deleted"`
	SpaceSaved      int64 `json:"space_saved"`
}

// UpsertResult summarises a write.
type UpsertResult struct {
	FilesWritten   int `json:"files_written"`
	FilesUnchanged int `json:"files_unchanged"`
	ChunksWritten  int `json:"chunks_written"`
}

// LookupSource names where a project's embeddings were found.
type LookupSource string

const (
	SourceCurrent  LookupSource = "current"
	SourceLegacy   LookupSource = "legacy"
	SourceIndexing LookupSource = "indexing"
	SourceNone     LookupSource = "none"
)

// Resolution is the outcome of the ordered lookup strategy.
type Resolution struct {
	Source    LookupSource  `json:"source"`
	ProjectID string        `json:"project_id"`
	Stats     *ProjectStats `json:"stats,omitempty"`
}

// IndexingChecker reports whether generation is running for a project.
type IndexingChecker interface {
	IsGenerating(projectID string) bool
}
