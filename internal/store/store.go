package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	amerrors "github.com/sbarron/ambiance/internal/errors"
	"github.com/sbarron/ambiance/internal/quantize"
)

// Options configures Open.
type Options struct {
	Logger *slog.Logger

	// Now overrides the clock; used by tests.
	Now func() time.Time
}

// Store is the SQLite-backed embedding store.
type Store struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
	now    func() time.Time
}

// Open opens (creating if needed) the store at path and applies pending
// migrations. Any failure is reported as StorageUnavailable.
func Open(path string, opts Options) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, amerrors.StorageUnavailable("cannot create store directory", err).
			WithDetail("path", path)
	}

	db, err := sql.Open(DriverName, path)
	if err != nil {
		return nil, amerrors.StorageUnavailable("cannot open embedding store", err).
			WithDetail("path", path)
	}

	// Single writer connection; WAL lets readers in other processes proceed.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, amerrors.StorageUnavailable("cannot configure embedding store", err).
				WithDetail("pragma", p)
		}
	}

	s := &Store{db: db, path: path, logger: opts.Logger, now: opts.Now}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}

	if err := applyMigrations(context.Background(), db, s.now().UnixNano()); err != nil {
		_ = db.Close()
		return nil, amerrors.StorageUnavailable("cannot migrate embedding store", err).
			WithDetail("path", path)
	}
	return s, nil
}

// Close checkpoints the WAL and closes the database.
func (s *Store) Close() error {
	_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// Size returns the database size in bytes.
func (s *Store) Size(ctx context.Context) (int64, error) {
	var pages, pageSize int64
	if err := s.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pages); err != nil {
		return 0, storageErr("read page count", err)
	}
	if err := s.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize); err != nil {
		return 0, storageErr("read page size", err)
	}
	return pages * pageSize, nil
}

func storageErr(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return amerrors.StorageUnavailable("store: "+op, err)
}

// latestJoin restricts chunks to the newest generation of each file.
const latestJoin = `
JOIN (SELECT file_path, MAX(generation) AS g
      FROM generations WHERE project_id = ? GROUP BY file_path) latest
  ON c.file_path = latest.file_path AND c.generation = latest.g`

// Upsert writes chunks grouped by file. A file whose chunk set (ids and
// content hashes) matches its newest generation is left untouched apart
// from its recorded mtime; any other file gets generation max+1, written in
// its own transaction.
func (s *Store) Upsert(ctx context.Context, projectID string, rec ModelIdentity, chunks []Chunk) (*UpsertResult, error) {
	if projectID == "" {
		return nil, amerrors.InvalidInput("project id is required")
	}
	if rec.Dimensions <= 0 {
		return nil, amerrors.InvalidInput("model dimensions must be positive")
	}
	if rec.Format == "" {
		rec.Format = FormatFloat32
	}
	if rec.Format != FormatInt8 && rec.Format != FormatFloat32 {
		return nil, amerrors.InvalidInput(fmt.Sprintf("unknown vector format %q", rec.Format))
	}

	byFile := map[string][]Chunk{}
	var order []string
	for i := range chunks {
		c := chunks[i]
		if c.ID == "" || c.FilePath == "" {
			return nil, amerrors.InvalidInput("chunk id and file path are required")
		}
		if d := c.Dimensions(); d != rec.Dimensions {
			return nil, amerrors.DimensionMismatch(rec.Dimensions, d).WithDetail("chunk_id", c.ID)
		}
		if _, ok := byFile[c.FilePath]; !ok {
			order = append(order, c.FilePath)
		}
		byFile[c.FilePath] = append(byFile[c.FilePath], c)
	}

	if err := s.ensureProject(ctx, projectID, rec); err != nil {
		return nil, err
	}

	res := &UpsertResult{}
	for _, file := range order {
		written, err := s.upsertFile(ctx, projectID, rec.Format, file, byFile[file])
		if err != nil {
			return res, err
		}
		if written {
			res.FilesWritten++
			res.ChunksWritten += len(byFile[file])
		} else {
			res.FilesUnchanged++
		}
	}

	if _, err := s.db.ExecContext(ctx,
		"UPDATE projects SET last_updated = ? WHERE id = ?", s.now().UnixNano(), projectID); err != nil {
		return res, storageErr("touch project", err)
	}
	return res, nil
}

// ensureProject creates the project record, or adopts the new model
// identity when the project currently holds no chunks.
func (s *Store) ensureProject(ctx context.Context, projectID string, rec ModelIdentity) error {
	info, err := s.GetModelInfo(ctx, projectID)
	if err != nil {
		return err
	}
	now := s.now().UnixNano()

	if info == nil {
		_, err := s.db.ExecContext(ctx, `
INSERT INTO projects (id, root_path, model_provider, model_name, dimensions, format, created_at, last_updated)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			projectID, rec.RootPath, rec.Provider, rec.Model, rec.Dimensions, string(rec.Format), now, now)
		if err != nil {
			return storageErr("create project", err)
		}
		return nil
	}

	if info.Provider == rec.Provider && info.Model == rec.Model &&
		info.Dimensions == rec.Dimensions && info.Format == rec.Format {
		return nil
	}

	var n int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM chunks WHERE project_id = ?", projectID).Scan(&n); err != nil {
		return storageErr("count chunks", err)
	}
	if n > 0 {
		if info.Dimensions != rec.Dimensions {
			return amerrors.DimensionMismatch(info.Dimensions, rec.Dimensions).WithDetail("project_id", projectID)
		}
		return amerrors.ModelIncompatible(fmt.Sprintf(
			"project stores %s/%s (%s) embeddings, refusing to mix in %s/%s (%s)",
			info.Provider, info.Model, info.Format, rec.Provider, rec.Model, rec.Format))
	}

	_, err = s.db.ExecContext(ctx, `
UPDATE projects SET model_provider = ?, model_name = ?, dimensions = ?, format = ?,
       root_path = CASE WHEN ? = '' THEN root_path ELSE ? END, last_updated = ?
WHERE id = ?`,
		rec.Provider, rec.Model, rec.Dimensions, string(rec.Format), rec.RootPath, rec.RootPath, now, projectID)
	if err != nil {
		return storageErr("update project model", err)
	}
	return nil
}

type encodedChunk struct {
	c    Chunk
	blob []byte
	hash string
	meta []byte
}

func encodeChunk(c Chunk, format Format) (encodedChunk, error) {
	var blob []byte
	switch format {
	case FormatInt8:
		q := c.Quantized
		if q == nil {
			var err error
			if q, err = quantize.Quantize(c.Vector); err != nil {
				return encodedChunk{}, err
			}
		}
		b, err := q.MarshalBinary()
		if err != nil {
			return encodedChunk{}, err
		}
		blob = b
	default:
		v := c.Vector
		if v == nil && c.Quantized != nil {
			var err error
			if v, err = quantize.Dequantize(c.Quantized); err != nil {
				return encodedChunk{}, err
			}
		}
		blob = quantize.EncodeFloat32(v)
	}

	meta, err := json.Marshal(c.Meta)
	if err != nil {
		return encodedChunk{}, amerrors.Wrap(amerrors.ErrCodeInternal, err)
	}

	h := sha256.New()
	h.Write([]byte(c.Text))
	h.Write([]byte{0})
	h.Write(blob)
	return encodedChunk{c: c, blob: blob, hash: hex.EncodeToString(h.Sum(nil))[:32], meta: meta}, nil
}

func (s *Store) upsertFile(ctx context.Context, projectID string, format Format, file string, chunks []Chunk) (bool, error) {
	encoded := make([]encodedChunk, len(chunks))
	var mtime time.Time
	var size int64
	for i, c := range chunks {
		e, err := encodeChunk(c, format)
		if err != nil {
			return false, err
		}
		encoded[i] = e
		size += int64(len(e.blob) + len(c.Text) + len(e.meta))
		if c.FileModTime.After(mtime) {
			mtime = c.FileModTime
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, storageErr("begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	var latest sql.NullInt64
	if err := tx.QueryRowContext(ctx,
		"SELECT MAX(generation) FROM generations WHERE project_id = ? AND file_path = ?",
		projectID, file).Scan(&latest); err != nil {
		return false, storageErr("read generation", err)
	}

	if latest.Valid {
		same, err := sameChunkSet(ctx, tx, projectID, file, int(latest.Int64), encoded)
		if err != nil {
			return false, err
		}
		if same {
			if !mtime.IsZero() {
				if _, err := tx.ExecContext(ctx, `
UPDATE generations SET file_mtime = MAX(file_mtime, ?)
WHERE project_id = ? AND file_path = ? AND generation = ?`,
					mtime.UnixNano(), projectID, file, latest.Int64); err != nil {
					return false, storageErr("touch generation", err)
				}
			}
			return false, tx.Commit()
		}
	}

	gen := int(latest.Int64) + 1
	now := s.now().UnixNano()
	if _, err := tx.ExecContext(ctx, `
INSERT INTO generations (project_id, file_path, generation, embedded_at, file_mtime, chunk_count, byte_size)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		projectID, file, gen, now, mtime.UnixNano(), len(encoded), size); err != nil {
		return false, storageErr("insert generation", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
INSERT OR REPLACE INTO chunks (project_id, chunk_id, file_path, generation, content, content_hash, meta, vector, format, dims)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return false, storageErr("prepare chunk insert", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, e := range encoded {
		if _, err := stmt.ExecContext(ctx, projectID, e.c.ID, file, gen, e.c.Text, e.hash,
			string(e.meta), e.blob, string(format), e.c.Dimensions()); err != nil {
			return false, storageErr("insert chunk", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, storageErr("commit", err)
	}
	s.logger.Debug("file_generation_written",
		slog.String("project_id", projectID),
		slog.String("file", file),
		slog.Int("generation", gen),
		slog.Int("chunks", len(encoded)))
	return true, nil
}

func sameChunkSet(ctx context.Context, tx *sql.Tx, projectID, file string, gen int, encoded []encodedChunk) (bool, error) {
	rows, err := tx.QueryContext(ctx,
		"SELECT chunk_id, content_hash FROM chunks WHERE project_id = ? AND file_path = ? AND generation = ?",
		projectID, file, gen)
	if err != nil {
		return false, storageErr("read chunk hashes", err)
	}
	defer func() { _ = rows.Close() }()

	stored := map[string]string{}
	for rows.Next() {
		var id, hash string
		if err := rows.Scan(&id, &hash); err != nil {
			return false, storageErr("scan chunk hash", err)
		}
		stored[id] = hash
	}
	if err := rows.Err(); err != nil {
		return false, storageErr("iterate chunk hashes", err)
	}

	if len(stored) != len(encoded) {
		return false, nil
	}
	for _, e := range encoded {
		if stored[e.c.ID] != e.hash {
			return false, nil
		}
	}
	return true, nil
}

// GetModelInfo returns the stored model identity, or nil when the project
// has never been indexed.
func (s *Store) GetModelInfo(ctx context.Context, projectID string) (*ModelInfo, error) {
	var info ModelInfo
	var format string
	var created, updated int64
	err := s.db.QueryRowContext(ctx, `
SELECT model_provider, model_name, dimensions, format, created_at, last_updated
FROM projects WHERE id = ?`, projectID).
		Scan(&info.Provider, &info.Model, &info.Dimensions, &format, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("read model info", err)
	}
	info.Format = Format(format)
	info.CreatedAt = time.Unix(0, created)
	info.LastUpdated = time.Unix(0, updated)
	return &info, nil
}

// GetProjectStats returns counts over the newest generation of each file,
// or nil when the project has never been indexed.
func (s *Store) GetProjectStats(ctx context.Context, projectID string) (*ProjectStats, error) {
	info, err := s.GetModelInfo(ctx, projectID)
	if err != nil || info == nil {
		return nil, err
	}

	st := &ProjectStats{
		ProjectID:   projectID,
		Format:      info.Format,
		Dimensions:  info.Dimensions,
		Provider:    info.Provider,
		Model:       info.Model,
		LastUpdated: info.LastUpdated,
	}
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*), COUNT(DISTINCT c.file_path) FROM chunks c"+latestJoin+" WHERE c.project_id = ?",
		projectID, projectID).Scan(&st.TotalChunks, &st.TotalFiles); err != nil {
		return nil, storageErr("count chunks", err)
	}
	if err := s.db.QueryRowContext(ctx, `
SELECT COUNT(*) FROM (SELECT file_path FROM generations WHERE project_id = ?
                      GROUP BY file_path HAVING COUNT(*) > 1)`, projectID).Scan(&st.StaleFiles); err != nil {
		return nil, storageErr("count stale files", err)
	}
	return st, nil
}

// ListProjects returns every project record with current counts.
func (s *Store) ListProjects(ctx context.Context) ([]ProjectRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, root_path, model_provider, model_name, dimensions, format, created_at, last_updated
FROM projects ORDER BY root_path, id`)
	if err != nil {
		return nil, storageErr("list projects", err)
	}
	var out []ProjectRecord
	for rows.Next() {
		var r ProjectRecord
		var format string
		var created, updated int64
		if err := rows.Scan(&r.ProjectID, &r.RootPath, &r.ModelProvider, &r.ModelName,
			&r.Dimensions, &format, &created, &updated); err != nil {
			_ = rows.Close()
			return nil, storageErr("scan project", err)
		}
		r.Format = Format(format)
		r.CreatedAt = time.Unix(0, created)
		r.LastUpdated = time.Unix(0, updated)
		out = append(out, r)
	}
	err = rows.Err()
	_ = rows.Close()
	if err != nil {
		return nil, storageErr("iterate projects", err)
	}

	// Counts are read after the cursor is closed: the pool has one connection.
	for i := range out {
		st, err := s.GetProjectStats(ctx, out[i].ProjectID)
		if err != nil {
			return nil, err
		}
		if st != nil {
			out[i].TotalChunks = st.TotalChunks
			out[i].TotalFiles = st.TotalFiles
		}
	}
	return out, nil
}

// GetProject returns one project record with counts, or nil when absent.
func (s *Store) GetProject(ctx context.Context, projectID string) (*ProjectRecord, error) {
	all, err := s.ListProjects(ctx)
	if err != nil {
		return nil, err
	}
	for i := range all {
		if all[i].ProjectID == projectID {
			return &all[i], nil
		}
	}
	return nil, nil
}

// ClearProjectEmbeddings deletes every chunk and generation of a project.
// The project record survives with zero counts.
func (s *Store) ClearProjectEmbeddings(ctx context.Context, projectID string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, storageErr("begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, "DELETE FROM chunks WHERE project_id = ?", projectID)
	if err != nil {
		return 0, storageErr("delete chunks", err)
	}
	deleted, _ := res.RowsAffected()
	if _, err := tx.ExecContext(ctx, "DELETE FROM generations WHERE project_id = ?", projectID); err != nil {
		return 0, storageErr("delete generations", err)
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE projects SET last_updated = ? WHERE id = ?", s.now().UnixNano(), projectID); err != nil {
		return 0, storageErr("touch project", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, storageErr("commit", err)
	}
	s.logger.Info("project_embeddings_cleared",
		slog.String("project_id", projectID), slog.Int64("chunks_deleted", deleted))
	return deleted, nil
}

// DeleteProject wipes a project including its record.
func (s *Store) DeleteProject(ctx context.Context, projectID string) error {
	info, err := s.GetModelInfo(ctx, projectID)
	if err != nil {
		return err
	}
	if info == nil {
		return amerrors.NotFound("project " + projectID)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("begin", err)
	}
	defer func() { _ = tx.Rollback() }()
	for _, q := range []string{
		"DELETE FROM chunks WHERE project_id = ?",
		"DELETE FROM generations WHERE project_id = ?",
		"DELETE FROM projects WHERE id = ?",
	} {
		if _, err := tx.ExecContext(ctx, q, projectID); err != nil {
			return storageErr("delete project", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return storageErr("commit", err)
	}
	s.logger.Info("project_deleted", slog.String("project_id", projectID))
	return nil
}

// LoadVectors returns the newest generation of every file with decoded
// vectors, ordered by file path then start line.
func (s *Store) LoadVectors(ctx context.Context, projectID string) ([]Chunk, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT c.chunk_id, c.file_path, c.generation, c.content, c.meta, c.vector, c.format
FROM chunks c`+latestJoin+`
WHERE c.project_id = ?`, projectID, projectID)
	if err != nil {
		return nil, storageErr("load vectors", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Chunk
	for rows.Next() {
		var c Chunk
		var meta, format string
		var blob []byte
		if err := rows.Scan(&c.ID, &c.FilePath, &c.Generation, &c.Text, &meta, &blob, &format); err != nil {
			return nil, storageErr("scan chunk", err)
		}
		c.ProjectID = projectID
		if err := json.Unmarshal([]byte(meta), &c.Meta); err != nil {
			return nil, amerrors.New(amerrors.ErrCodeCorruptStore, "chunk metadata is not valid JSON", err).
				WithDetail("chunk_id", c.ID)
		}
		if err := decodeVector(&c, Format(format), blob); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate chunks", err)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].FilePath != out[j].FilePath {
			return out[i].FilePath < out[j].FilePath
		}
		if out[i].Meta.StartLine != out[j].Meta.StartLine {
			return out[i].Meta.StartLine < out[j].Meta.StartLine
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func decodeVector(c *Chunk, format Format, blob []byte) error {
	if format == FormatInt8 {
		q := &quantize.QuantizedVector{}
		if err := q.UnmarshalBinary(blob); err != nil {
			return err
		}
		v, err := quantize.Dequantize(q)
		if err != nil {
			return err
		}
		c.Quantized = q
		c.Vector = v
		return nil
	}
	v, err := quantize.DecodeFloat32(blob)
	if err != nil {
		return err
	}
	c.Vector = v
	return nil
}
