package engine

import (
	"github.com/sbarron/ambiance/internal/bundle"
	"github.com/sbarron/ambiance/internal/generation"
	"github.com/sbarron/ambiance/internal/rank"
	"github.com/sbarron/ambiance/internal/search"
	"github.com/sbarron/ambiance/internal/store"
)

// BaseContext is what the engine established about a project before any
// retrieval: nothing, an in-progress index, or a full bundle.
type BaseContext interface {
	Kind() string
	isBaseContext()
}

// NoContext means no embeddings exist under any project ID.
type NoContext struct {
	Reason string `json:"reason"`
}

// PartialContext means embeddings are being generated; Stats holds what
// has been stored so far and may be nil.
type PartialContext struct {
	Stats   *store.ProjectStats `json:"stats,omitempty"`
	Session *generation.Session `json:"session,omitempty"`
}

// FullContext is a retrieval result.
type FullContext struct {
	Content string              `json:"content"`
	Stats   *store.ProjectStats `json:"stats"`
}

func (NoContext) Kind() string      { return "none" }
func (PartialContext) Kind() string { return "partial" }
func (FullContext) Kind() string    { return "full" }

func (NoContext) isBaseContext()      {}
func (PartialContext) isBaseContext() {}
func (FullContext) isBaseContext()    {}

// EmbeddingStats describes the stored embeddings a bundle was built from.
type EmbeddingStats struct {
	ProjectID    string              `json:"project_id"`
	Provider     string              `json:"provider"`
	Model        string              `json:"model"`
	Dimensions   int                 `json:"dimensions"`
	Format       store.Format        `json:"format"`
	TotalChunks  int                 `json:"total_chunks"`
	Threshold    float64             `json:"threshold"`
	Distribution search.Distribution `json:"distribution"`
	Skipped      int                 `json:"skipped_vectors,omitempty"`
}

// Metadata summarises a bundle.
type Metadata struct {
	TotalFiles         int             `json:"total_files"`
	IncludedFiles      int             `json:"included_files"`
	TokenCount         int             `json:"token_count"`
	CompressionRatio   float64         `json:"compression_ratio"`
	EmbeddingsUsed     bool            `json:"embeddings_used"`
	SimilarChunksFound int             `json:"similar_chunks_found"`
	EmbeddingStats     *EmbeddingStats `json:"embedding_stats,omitempty"`
}

// Bundle is the answer to a local context request. Bundles returned for
// coalesced requests are shared and must be treated as read-only.
type Bundle struct {
	Content         string             `json:"content"`
	Metadata        Metadata           `json:"metadata"`
	Entries         []bundle.Entry     `json:"entries,omitempty"`
	Report          *rank.Report       `json:"report,omitempty"`
	Degraded        bool               `json:"degraded"`
	Source          store.LookupSource `json:"source"`
	ProjectID       string             `json:"project_id"`
	Recommendations []string           `json:"recommendations,omitempty"`
	Base            BaseContext        `json:"-"`
	BaseKind        string             `json:"base"`
}
