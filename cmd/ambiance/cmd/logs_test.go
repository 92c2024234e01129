package cmd

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogs_TailsFilteredEntries(t *testing.T) {
	// Given: a log file with mixed levels
	path := filepath.Join(t.TempDir(), "server.log")
	require.NoError(t, os.WriteFile(path, []byte(
		`{"time":"2026-03-01T10:00:00Z","level":"INFO","msg":"generation_started","project_id":"p1"}`+"\n"+
			`{"time":"2026-03-01T10:00:01Z","level":"WARN","msg":"search_widened","project_id":"p1"}`+"\n"+
			`{"time":"2026-03-01T10:00:02Z","level":"ERROR","msg":"generation_failed","project_id":"p2"}`+"\n"),
		0o644))

	// When: showing warnings for p1
	out, err := run(t, "logs", "--file", path, "--level", "warn", "--filter", "p1")

	// Then: only the matching warning is printed
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "search_widened")
	assert.Contains(t, lines[0], "project_id=p1")
}

func TestLogs_DefaultsToDataDir(t *testing.T) {
	// Given: a data dir with no log yet
	isolate(t)

	// When: showing logs
	_, err := run(t, "logs")

	// Then: the missing default file is reported
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.log")
}

func TestLogs_BadFilter(t *testing.T) {
	_, err := run(t, "logs", "--file", "x.log", "--filter", "(")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid filter pattern")
}
