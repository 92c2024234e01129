package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// SchemaVersion is the newest schema this build writes.
const SchemaVersion = "1.1.0"

// migration is one forward schema step.
type migration struct {
	Version string
	Up      string
}

var migrations = []migration{
	{Version: "1.0.0", Up: migrationV1},
	{Version: "1.1.0", Up: migrationV1_1},
}

const migrationV1 = `
CREATE TABLE IF NOT EXISTS schema_info (
    version TEXT NOT NULL,
    applied_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS projects (
    id TEXT PRIMARY KEY,
    root_path TEXT NOT NULL,
    model_provider TEXT NOT NULL,
    model_name TEXT NOT NULL,
    dimensions INTEGER NOT NULL,
    format TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    last_updated INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS generations (
    project_id TEXT NOT NULL,
    file_path TEXT NOT NULL,
    generation INTEGER NOT NULL,
    embedded_at INTEGER NOT NULL,
    file_mtime INTEGER NOT NULL,
    chunk_count INTEGER NOT NULL,
    byte_size INTEGER NOT NULL,
    PRIMARY KEY (project_id, file_path, generation)
);

CREATE TABLE IF NOT EXISTS chunks (
    project_id TEXT NOT NULL,
    chunk_id TEXT NOT NULL,
    file_path TEXT NOT NULL,
    generation INTEGER NOT NULL,
    content TEXT NOT NULL,
    content_hash TEXT NOT NULL,
    meta TEXT NOT NULL,
    vector BLOB NOT NULL,
    format TEXT NOT NULL,
    dims INTEGER NOT NULL,
    PRIMARY KEY (project_id, chunk_id, generation)
);
`

const migrationV1_1 = `
CREATE INDEX IF NOT EXISTS idx_chunks_file ON chunks(project_id, file_path, generation);
CREATE INDEX IF NOT EXISTS idx_generations_project ON generations(project_id, file_path);
`

// applyMigrations runs every migration newer than the recorded version.
func applyMigrations(ctx context.Context, db *sql.DB, now int64) error {
	current := semver.MustParse("0.0.0")

	var table string
	err := db.QueryRowContext(ctx,
		"SELECT name FROM sqlite_master WHERE type='table' AND name='schema_info'").Scan(&table)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return fmt.Errorf("failed to check schema_info: %w", err)
	default:
		var v sql.NullString
		err = db.QueryRowContext(ctx,
			"SELECT version FROM schema_info ORDER BY applied_at DESC, rowid DESC LIMIT 1").Scan(&v)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("failed to read schema_info: %w", err)
		}
		if v.Valid && v.String != "" {
			parsed, perr := semver.NewVersion(v.String)
			if perr != nil {
				return fmt.Errorf("invalid schema version %q: %w", v.String, perr)
			}
			current = parsed
		}
	}

	newest := semver.MustParse(SchemaVersion)
	if current.GreaterThan(newest) {
		return fmt.Errorf("store schema %s is newer than supported %s", current, newest)
	}

	for _, m := range migrations {
		v, err := semver.NewVersion(m.Version)
		if err != nil {
			return fmt.Errorf("invalid migration version %s: %w", m.Version, err)
		}
		if !current.LessThan(v) {
			continue
		}
		if _, err := db.ExecContext(ctx, m.Up); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", m.Version, err)
		}
		if _, err := db.ExecContext(ctx,
			"INSERT INTO schema_info (version, applied_at) VALUES (?, ?)", m.Version, now); err != nil {
			return fmt.Errorf("failed to record migration %s: %w", m.Version, err)
		}
		current = v
	}
	return nil
}
