package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sbarron/ambiance/internal/chunk"
)

func TestCleanupStaleFileEmbeddings_ThreeGenerations(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	// Given: one file written three times with different content
	for i, text := range []string{"v1", "v2", "v3"} {
		vec := []float32{float32(i + 1), 1, 0}
		_, err := s.Upsert(ctx, "p1", staticModel(3), []Chunk{testChunk("src/db.go", 0, text, vec)})
		require.NoError(t, err)
	}
	_, err := s.Upsert(ctx, "p1", staticModel(3), []Chunk{testChunk("src/main.go", 0, "main", []float32{0, 0, 1})})
	require.NoError(t, err)

	stale, err := s.FindStaleFileEmbeddings(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "src/db.go", stale[0].FilePath)
	require.Len(t, stale[0].Generations, 3)
	assert.Equal(t, 3, stale[0].Generations[0].Generation)

	// When: cleaning up
	res, err := s.CleanupStaleFileEmbeddings(ctx, "p1")
	require.NoError(t, err)

	// Then: only the newest generation of each file remains
	assert.Equal(t, 1, res.StaleFilesFound)
	assert.Equal(t, 2, res.ChunksDeleted)
	assert.Equal(t, stale[0].Generations[1].ByteSize+stale[0].Generations[2].ByteSize, res.SpaceSaved)

	stale, err = s.FindStaleFileEmbeddings(ctx, "p1")
	require.NoError(t, err)
	assert.Empty(t, stale)

	vecs, err := s.LoadVectors(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Equal(t, "v3", vecs[0].Text)

	// A second pass finds nothing.
	res, err = s.CleanupStaleFileEmbeddings(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 0, res.StaleFilesFound)
}

func TestListProjectFiles_LatestGenerationOnly(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.Upsert(ctx, "p1", staticModel(3), []Chunk{testChunk("a.go", 0, "one", []float32{1, 0, 0})})
	require.NoError(t, err)
	_, err = s.Upsert(ctx, "p1", staticModel(3), []Chunk{
		testChunk("a.go", 0, "two", []float32{0, 1, 0}),
		testChunk("a.go", 9, "three", []float32{0, 0, 1}),
	})
	require.NoError(t, err)

	files, err := s.ListProjectFiles(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, 2, files[0].Generation)
	assert.Equal(t, 2, files[0].ChunkCount)
}

func TestCompareWithDisk(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	records := []FileRecord{
		{FilePath: "fresh.go", FileMTime: base},
		{FilePath: "stale.go", FileMTime: base},
		{FilePath: "gone.go", FileMTime: base},
	}
	disk := []chunk.FileInfo{
		{Path: "fresh.go", ModTime: base},
		{Path: "stale.go", ModTime: base.Add(time.Second)},
		{Path: "new.go", ModTime: base},
	}

	cmp := CompareWithDisk(records, disk)

	assert.Equal(t, []string{"fresh.go"}, cmp.Fresh)
	assert.Equal(t, []string{"stale.go"}, cmp.Stale)
	assert.Equal(t, []string{"gone.go"}, cmp.Missing)
	assert.Equal(t, []string{"new.go"}, cmp.New)
	assert.True(t, cmp.NeedsUpdate())

	assert.False(t, CompareWithDisk(records[:1], disk[:1]).NeedsUpdate())
}

func TestRecordEmptyFile(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	// Given: a file with two generations next to an untouched file
	for i, text := range []string{"v1", "v2"} {
		_, err := s.Upsert(ctx, "p1", staticModel(3), []Chunk{testChunk("src/db.go", 0, text, []float32{float32(i + 1), 1, 0})})
		require.NoError(t, err)
	}
	_, err := s.Upsert(ctx, "p1", staticModel(3), []Chunk{testChunk("src/main.go", 0, "main", []float32{0, 0, 1})})
	require.NoError(t, err)

	// When: the file is recorded as empty
	mtime := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	deleted, err := s.RecordEmptyFile(ctx, "p1", "src/db.go", mtime)
	require.NoError(t, err)

	// Then: its chunks are gone and one empty generation carries the mtime
	assert.Equal(t, 2, deleted)
	vecs, err := s.LoadVectors(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, vecs, 1)
	assert.Equal(t, "src/main.go", vecs[0].FilePath)

	files, err := s.ListProjectFiles(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "src/db.go", files[0].FilePath)
	assert.Equal(t, 3, files[0].Generation)
	assert.Equal(t, 0, files[0].ChunkCount)
	assert.True(t, files[0].FileMTime.Equal(mtime))

	stale, err := s.FindStaleFileEmbeddings(ctx, "p1")
	require.NoError(t, err)
	assert.Empty(t, stale)

	// And: refilling the file writes a fresh generation that is served again
	_, err = s.Upsert(ctx, "p1", staticModel(3), []Chunk{testChunk("src/db.go", 0, "v4", []float32{1, 0, 0})})
	require.NoError(t, err)
	vecs, err = s.LoadVectors(ctx, "p1")
	require.NoError(t, err)
	assert.Len(t, vecs, 2)
}

func TestRecordEmptyFile_UnknownProject(t *testing.T) {
	s := openTestStore(t)

	deleted, err := s.RecordEmptyFile(context.Background(), "nope", "a.go", time.Now())

	require.NoError(t, err)
	assert.Equal(t, 0, deleted)
	files, err := s.ListProjectFiles(context.Background(), "nope")
	require.NoError(t, err)
	assert.Empty(t, files)
}
