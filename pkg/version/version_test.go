package version

import (
	"encoding/json"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withVersion(t *testing.T, v string) {
	t.Helper()
	old := Version
	Version = v
	t.Cleanup(func() { Version = old })
}

func TestIsRelease(t *testing.T) {
	tests := []struct {
		version string
		want    bool
	}{
		{"1.4.0", true},
		{"v2.0.1", true},
		{"1.5.0-rc.1", false},
		{"dev", false},
	}
	for _, tt := range tests {
		t.Run(tt.version, func(t *testing.T) {
			withVersion(t, tt.version)
			assert.Equal(t, tt.want, IsRelease())
		})
	}
}

func TestGet_JSON(t *testing.T) {
	// Given: an ldflags-injected version
	withVersion(t, "1.2.3")

	// When: the build info is encoded
	data, err := json.Marshal(Get())
	require.NoError(t, err)

	// Then: every field is present
	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "1.2.3", got["version"])
	assert.Equal(t, runtime.GOOS, got["os"])
	assert.Equal(t, true, got["release"])
	for _, key := range []string{"commit", "date", "go_version", "arch"} {
		assert.Contains(t, got, key)
	}
}

func TestString(t *testing.T) {
	withVersion(t, "0.9.0")
	assert.Contains(t, String(), "ambiance 0.9.0")
	assert.Contains(t, String(), runtime.Version())
}
