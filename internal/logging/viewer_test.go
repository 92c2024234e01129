package logging

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleLog = `{"time":"2026-03-01T10:00:00.5Z","level":"DEBUG","msg":"app_opened","root":"/src/api"}
{"time":"2026-03-01T10:00:01Z","level":"INFO","msg":"generation_started","session_id":"s1","project_id":"p1"}
not json at all
{"time":"2026-03-01T10:00:02Z","level":"WARN","msg":"search_widened","project_id":"p1"}
{"time":"2026-03-01T10:00:03Z","level":"ERROR","msg":"generation_failed","project_id":"p2"}
`

func writeLog(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "server.log")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func msgs(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		if e.Valid {
			out[i] = e.Msg
		} else {
			out[i] = e.Raw
		}
	}
	return out
}

func TestViewer_Tail(t *testing.T) {
	path := writeLog(t, sampleLog)

	tests := []struct {
		name string
		cfg  ViewerConfig
		n    int
		want []string
	}{
		{name: "last two", n: 2, want: []string{"search_widened", "generation_failed"}},
		{name: "more than file", n: 50, want: []string{"app_opened", "generation_started", "not json at all", "search_widened", "generation_failed"}},
		{name: "min level warn", cfg: ViewerConfig{MinLevel: "warn"}, n: 50, want: []string{"not json at all", "search_widened", "generation_failed"}},
		{name: "pattern", cfg: ViewerConfig{Pattern: regexp.MustCompile(`"p1"`)}, n: 50, want: []string{"generation_started", "search_widened"}},
		{name: "zero lines", n: 0, want: []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// When: tailing with the filters
			entries, err := NewViewer(tt.cfg).Tail(path, tt.n)

			// Then: only the expected entries remain, oldest first
			require.NoError(t, err)
			assert.Equal(t, tt.want, msgs(entries))
		})
	}
}

func TestViewer_TailMissingFile(t *testing.T) {
	_, err := NewViewer(ViewerConfig{}).Tail(filepath.Join(t.TempDir(), "nope.log"), 10)
	require.Error(t, err)
}

func TestViewer_Format(t *testing.T) {
	// Given: a parsed entry with attributes
	e := ParseEntry(`{"time":"2026-03-01T10:00:01.25Z","level":"INFO","msg":"generation_started","session_id":"s1","files":3}`)
	require.True(t, e.Valid)

	// When: formatting with and without a level decorator
	plain := NewViewer(ViewerConfig{}).Format(e)
	styled := NewViewer(ViewerConfig{StyleLevel: func(level, padded string) string {
		return "<" + level + ">" + padded
	}}).Format(e)

	// Then: attributes are sorted and the level column is padded
	assert.Equal(t, "10:00:01.250 INFO  generation_started files=3 session_id=s1", plain)
	assert.True(t, strings.HasPrefix(styled, "10:00:01.250 <info>INFO  "))
}

func TestViewer_FormatInvalidIsRaw(t *testing.T) {
	e := ParseEntry("plain text")
	assert.False(t, e.Valid)
	assert.Equal(t, "plain text", NewViewer(ViewerConfig{}).Format(e))
}

func TestViewer_Follow(t *testing.T) {
	// Given: an existing log being followed
	path := writeLog(t, sampleLog)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	entries := make(chan Entry, 4)
	done := make(chan error, 1)
	go func() { done <- NewViewer(ViewerConfig{MinLevel: "info"}).Follow(ctx, path, entries) }()
	time.Sleep(3 * pollInterval)

	// When: new lines are appended
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"time":"2026-03-01T10:01:00Z","level":"DEBUG","msg":"hidden"}` + "\n" +
		`{"time":"2026-03-01T10:01:01Z","level":"INFO","msg":"watch_update_started"}` + "\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	// Then: only the new matching entry is delivered
	select {
	case e := <-entries:
		assert.Equal(t, "watch_update_started", e.Msg)
	case <-ctx.Done():
		t.Fatal("no entry followed")
	}
	cancel()
	require.NoError(t, <-done)
}
