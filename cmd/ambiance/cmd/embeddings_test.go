package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddings_CreateWaitsAndReportsStatus(t *testing.T) {
	// Given: an unindexed project
	isolate(t)
	root := newProject(t)

	// When: creating embeddings from the CLI
	out, err := run(t, "embeddings", "create", root, "--json")

	// Then: the command waits and reports the finished status
	require.NoError(t, err)
	resp := decode(t, out)
	assert.Equal(t, true, resp["success"])
	assert.Equal(t, "status", resp["action"])
	result, ok := resp["result"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "current", result["source"])

	// And: the project is listed
	out, err = run(t, "embeddings", "list_projects", "--json")
	require.NoError(t, err)
	list := decode(t, out)["result"].(map[string]any)
	assert.EqualValues(t, 1, list["count"])
}

func TestEmbeddings_StatusOfUnindexedProjectFails(t *testing.T) {
	// Given: a project that was never indexed
	isolate(t)
	root := newProject(t)

	// When: asking for its status
	out, err := run(t, "embeddings", "status", root, "--json")

	// Then: the response is printed and the command exits non-zero
	require.ErrorIs(t, err, errReported)
	resp := decode(t, out)
	assert.Equal(t, false, resp["success"])
	assert.NotEmpty(t, resp["recommendations"])
}

func TestEmbeddings_PlainOutput(t *testing.T) {
	// Given: an indexed project
	isolate(t)
	root := newProject(t)
	_, err := run(t, "embeddings", "create", root)
	require.NoError(t, err)

	// When: checking staleness without --json
	out, err := run(t, "embeddings", "check_stale", root)

	// Then: the human rendering is printed
	require.NoError(t, err)
	assert.Contains(t, out, "check_stale")
}

func TestEmbeddings_UnknownAction(t *testing.T) {
	isolate(t)

	_, err := run(t, "embeddings", "rebuild")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown action")
}

func TestEmbeddings_ArgCount(t *testing.T) {
	_, err := run(t, "embeddings")
	require.Error(t, err)

	_, err = run(t, "embeddings", "status", "a", "b")
	require.Error(t, err)
}
