package store

import (
	"context"
	"fmt"

	amerrors "github.com/sbarron/ambiance/internal/errors"
)

// ValidateEmbeddingCompatibility compares the stored model of a project with
// the current embedder. Compatible iff provider and dimensions both match;
// a differing model name under the same provider and width is reported as
// an issue but does not break compatibility.
func (s *Store) ValidateEmbeddingCompatibility(ctx context.Context, projectID, provider string, dims int) (*Compatibility, error) {
	info, err := s.GetModelInfo(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if info == nil {
		return nil, amerrors.NotFound("embeddings for project " + projectID).
			WithSuggestion("Run 'ambiance embeddings create' to index the project")
	}
	return CheckCompatibility(*info, provider, dims), nil
}

// CheckCompatibility is the pure comparison behind ValidateEmbeddingCompatibility.
func CheckCompatibility(stored ModelInfo, provider string, dims int) *Compatibility {
	c := &Compatibility{
		Stored:            stored,
		CurrentProvider:   provider,
		CurrentDimensions: dims,
	}
	if stored.Provider != provider {
		c.Issues = append(c.Issues, fmt.Sprintf(
			"provider mismatch: stored %q, current %q", stored.Provider, provider))
	}
	if stored.Dimensions != dims {
		c.Issues = append(c.Issues, fmt.Sprintf(
			"dimension mismatch: stored %d, current %d", stored.Dimensions, dims))
	}
	c.Compatible = len(c.Issues) == 0

	if !c.Compatible {
		c.Recommendations = append(c.Recommendations,
			"Run 'ambiance embeddings create' to regenerate embeddings with the current model",
			"Or switch embeddings.provider back to "+stored.Provider+" to reuse the stored embeddings")
	}
	return c
}
