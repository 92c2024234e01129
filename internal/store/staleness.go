package store

import (
	"context"
	"database/sql"
	"log/slog"
	"sort"
	"time"

	"github.com/sbarron/ambiance/internal/chunk"
)

// FindStaleFileEmbeddings lists files holding more than one generation,
// with generations newest first.
func (s *Store) FindStaleFileEmbeddings(ctx context.Context, projectID string) ([]StaleFile, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT g.file_path, g.generation, g.embedded_at, g.chunk_count, g.byte_size
FROM generations g
JOIN (SELECT file_path FROM generations WHERE project_id = ?
      GROUP BY file_path HAVING COUNT(*) > 1) dup ON dup.file_path = g.file_path
WHERE g.project_id = ?
ORDER BY g.file_path, g.generation DESC`, projectID, projectID)
	if err != nil {
		return nil, storageErr("find stale files", err)
	}
	defer func() { _ = rows.Close() }()

	var out []StaleFile
	for rows.Next() {
		var path string
		var gi GenerationInfo
		var embedded int64
		if err := rows.Scan(&path, &gi.Generation, &embedded, &gi.ChunkCount, &gi.ByteSize); err != nil {
			return nil, storageErr("scan generation", err)
		}
		gi.EmbeddedAt = time.Unix(0, embedded)
		if n := len(out); n == 0 || out[n-1].FilePath != path {
			out = append(out, StaleFile{FilePath: path})
		}
		out[len(out)-1].Generations = append(out[len(out)-1].Generations, gi)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate generations", err)
	}
	return out, nil
}

// ListProjectFiles returns the newest generation of every stored file.
func (s *Store) ListProjectFiles(ctx context.Context, projectID string) ([]FileRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT g.file_path, g.generation, g.file_mtime, g.embedded_at, g.chunk_count
FROM generations g
JOIN (SELECT file_path, MAX(generation) AS m FROM generations
      WHERE project_id = ? GROUP BY file_path) latest
  ON latest.file_path = g.file_path AND latest.m = g.generation
WHERE g.project_id = ?
ORDER BY g.file_path`, projectID, projectID)
	if err != nil {
		return nil, storageErr("list project files", err)
	}
	defer func() { _ = rows.Close() }()

	var out []FileRecord
	for rows.Next() {
		var r FileRecord
		var mtime, embedded int64
		if err := rows.Scan(&r.FilePath, &r.Generation, &mtime, &embedded, &r.ChunkCount); err != nil {
			return nil, storageErr("scan file record", err)
		}
		r.FileMTime = time.Unix(0, mtime)
		r.EmbeddedAt = time.Unix(0, embedded)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate file records", err)
	}
	return out, nil
}

// CompareWithDisk buckets stored files against a disk listing. A file is
// stale when its disk mtime is strictly newer than the recorded one. Files
// gone from disk are reported as missing, never dropped.
func CompareWithDisk(records []FileRecord, disk []chunk.FileInfo) DiskComparison {
	onDisk := make(map[string]time.Time, len(disk))
	for _, f := range disk {
		onDisk[f.Path] = f.ModTime
	}
	stored := make(map[string]bool, len(records))

	var cmp DiskComparison
	for _, r := range records {
		stored[r.FilePath] = true
		mtime, ok := onDisk[r.FilePath]
		switch {
		case !ok:
			cmp.Missing = append(cmp.Missing, r.FilePath)
		case mtime.After(r.FileMTime):
			cmp.Stale = append(cmp.Stale, r.FilePath)
		default:
			cmp.Fresh = append(cmp.Fresh, r.FilePath)
		}
	}
	for _, f := range disk {
		if !stored[f.Path] {
			cmp.New = append(cmp.New, f.Path)
		}
	}
	sort.Strings(cmp.Stale)
	sort.Strings(cmp.Missing)
	sort.Strings(cmp.New)
	sort.Strings(cmp.Fresh)
	return cmp
}

// CleanupStaleFileEmbeddings keeps only the newest generation of every
// file, one transaction per file.
func (s *Store) CleanupStaleFileEmbeddings(ctx context.Context, projectID string) (*CleanupResult, error) {
	stale, err := s.FindStaleFileEmbeddings(ctx, projectID)
	if err != nil {
		return nil, err
	}

	res := &CleanupResult{StaleFilesFound: len(stale)}
	for _, f := range stale {
		keep := f.Generations[0].Generation
		deleted, saved, err := s.pruneFile(ctx, projectID, f.FilePath, keep)
		if err != nil {
			return res, err
		}
		res.ChunksDeleted += deleted
		res.SpaceSaved += saved
	}

	if res.StaleFilesFound > 0 {
		s.logger.Info("stale_generations_cleaned",
			slog.String("project_id", projectID),
			slog.Int("files", res.StaleFilesFound),
			slog.Int("chunks_deleted", res.ChunksDeleted),
			slog.Int64("space_saved", res.SpaceSaved))
	}
	return res, nil
}

func (s *Store) pruneFile(ctx context.Context, projectID, file string, keep int) (int, int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, storageErr("begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	var saved int64
	if err := tx.QueryRowContext(ctx, `
SELECT COALESCE(SUM(byte_size), 0) FROM generations
WHERE project_id = ? AND file_path = ? AND generation < ?`,
		projectID, file, keep).Scan(&saved); err != nil {
		return 0, 0, storageErr("sum generation size", err)
	}

	res, err := tx.ExecContext(ctx,
		"DELETE FROM chunks WHERE project_id = ? AND file_path = ? AND generation < ?",
		projectID, file, keep)
	if err != nil {
		return 0, 0, storageErr("delete old chunks", err)
	}
	deleted, _ := res.RowsAffected()

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM generations WHERE project_id = ? AND file_path = ? AND generation < ?",
		projectID, file, keep); err != nil {
		return 0, 0, storageErr("delete old generations", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, 0, storageErr("commit", err)
	}
	return int(deleted), saved, nil
}

// RecordEmptyFile replaces every generation of file with one empty
// generation stamped with mtime, in one transaction. The file then serves
// no chunks and compares fresh against disk. A project with no record is
// left untouched. It returns the number of chunks removed.
func (s *Store) RecordEmptyFile(ctx context.Context, projectID, file string, mtime time.Time) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, storageErr("begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	var projects int
	if err := tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM projects WHERE id = ?", projectID).Scan(&projects); err != nil {
		return 0, storageErr("read project", err)
	}
	if projects == 0 {
		return 0, nil
	}

	var latest sql.NullInt64
	if err := tx.QueryRowContext(ctx,
		"SELECT MAX(generation) FROM generations WHERE project_id = ? AND file_path = ?",
		projectID, file).Scan(&latest); err != nil {
		return 0, storageErr("read generation", err)
	}

	res, err := tx.ExecContext(ctx,
		"DELETE FROM chunks WHERE project_id = ? AND file_path = ?", projectID, file)
	if err != nil {
		return 0, storageErr("delete file chunks", err)
	}
	deleted, _ := res.RowsAffected()
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM generations WHERE project_id = ? AND file_path = ?", projectID, file); err != nil {
		return 0, storageErr("delete file generations", err)
	}
	if _, err := tx.ExecContext(ctx, `
INSERT INTO generations (project_id, file_path, generation, embedded_at, file_mtime, chunk_count, byte_size)
VALUES (?, ?, ?, ?, ?, 0, 0)`,
		projectID, file, latest.Int64+1, s.now().UnixNano(), mtime.UnixNano()); err != nil {
		return 0, storageErr("insert empty generation", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, storageErr("commit", err)
	}
	s.logger.Debug("file_emptied",
		slog.String("project_id", projectID),
		slog.String("file", file),
		slog.Int64("chunks_deleted", deleted))
	return int(deleted), nil
}
