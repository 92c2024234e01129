package store

import (
	"context"
	"log/slog"

	amerrors "github.com/sbarron/ambiance/internal/errors"
	"github.com/sbarron/ambiance/internal/project"
)

// Resolve runs the ordered lookup strategy: embeddings under the current
// ID, then under the legacy ID, then an in-flight generation. Data under
// the two IDs is never merged.
func (s *Store) Resolve(ctx context.Context, ident project.Identity, indexing IndexingChecker) (*Resolution, error) {
	current, err := s.GetProjectStats(ctx, ident.ID)
	if err != nil {
		return nil, err
	}
	if current != nil && current.TotalChunks > 0 {
		return &Resolution{Source: SourceCurrent, ProjectID: ident.ID, Stats: current}, nil
	}

	if ident.HasLegacy() {
		legacy, err := s.GetProjectStats(ctx, ident.LegacyID)
		if err != nil {
			return nil, err
		}
		if legacy != nil && legacy.TotalChunks > 0 {
			s.logger.Debug("legacy_project_id_hit",
				slog.String("project_id", ident.ID),
				slog.String("legacy_id", ident.LegacyID))
			return &Resolution{Source: SourceLegacy, ProjectID: ident.LegacyID, Stats: legacy}, nil
		}
	}

	if indexing != nil && indexing.IsGenerating(ident.ID) {
		return &Resolution{Source: SourceIndexing, ProjectID: ident.ID, Stats: current}, nil
	}
	return &Resolution{Source: SourceNone, ProjectID: ident.ID, Stats: current}, nil
}

// MigrateProject moves every row of fromID to toID. It refuses when toID
// already holds chunks.
func (s *Store) MigrateProject(ctx context.Context, fromID, toID string) error {
	if fromID == "" || toID == "" || fromID == toID {
		return amerrors.InvalidInput("migration needs two distinct project ids")
	}
	from, err := s.GetModelInfo(ctx, fromID)
	if err != nil {
		return err
	}
	if from == nil {
		return amerrors.NotFound("project " + fromID)
	}
	target, err := s.GetProjectStats(ctx, toID)
	if err != nil {
		return err
	}
	if target != nil && target.TotalChunks > 0 {
		return amerrors.InvalidInput("target project already holds embeddings").
			WithDetail("project_id", toID)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, q := range []string{
		"DELETE FROM projects WHERE id = ?2",
		"DELETE FROM generations WHERE project_id = ?2",
		"UPDATE projects SET id = ?2 WHERE id = ?1",
		"UPDATE generations SET project_id = ?2 WHERE project_id = ?1",
		"UPDATE chunks SET project_id = ?2 WHERE project_id = ?1",
	} {
		if _, err := tx.ExecContext(ctx, q, fromID, toID); err != nil {
			return storageErr("migrate project", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return storageErr("commit", err)
	}
	s.logger.Info("project_migrated", slog.String("from", fromID), slog.String("to", toID))
	return nil
}
