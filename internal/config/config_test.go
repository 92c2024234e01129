package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate points the user config lookup at an empty directory.
func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
}

// ============================================================================
// Defaults
// ============================================================================

func TestNewConfig_Defaults(t *testing.T) {
	cfg := NewConfig()

	assert.Equal(t, "static", cfg.Embeddings.Provider)
	assert.True(t, cfg.Embeddings.Quantize)
	assert.Equal(t, 0.15, cfg.Retrieval.SimilarityThreshold)
	assert.Equal(t, 3000, cfg.Retrieval.TokenBudget)
	assert.Equal(t, 0.4, cfg.Retrieval.MMRLambda)
	assert.Equal(t, "exact", cfg.Retrieval.ANN)
	assert.Contains(t, cfg.Paths.Exclude, "node_modules")
	assert.NoError(t, cfg.Validate())
}

func TestConfig_StorePath(t *testing.T) {
	cfg := NewConfig()
	cfg.Paths.DataDir = "/data"

	assert.Equal(t, filepath.Join("/data", "embeddings.db"), cfg.StorePath())
}

// ============================================================================
// Layering
// ============================================================================

func TestLoad_ProjectOverridesUser(t *testing.T) {
	// Given: a user config and a project config that disagree
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)
	require.NoError(t, os.MkdirAll(filepath.Join(xdg, "ambiance"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(xdg, "ambiance", "config.yaml"), []byte(`
retrieval:
  token_budget: 5000
  facet_cap: 5
`), 0o644))

	project := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(project, ProjectConfigName), []byte(`
retrieval:
  token_budget: 1200
embeddings:
  quantize: false
paths:
  exclude: [fixtures]
`), 0o644))

	// When: loading
	cfg, err := Load(project)
	require.NoError(t, err)

	// Then: project wins, untouched user keys survive, defaults fill the rest
	assert.Equal(t, 1200, cfg.Retrieval.TokenBudget)
	assert.Equal(t, 5, cfg.Retrieval.FacetCap)
	assert.False(t, cfg.Embeddings.Quantize)
	assert.Equal(t, 0.15, cfg.Retrieval.SimilarityThreshold)
	assert.Contains(t, cfg.Paths.Exclude, "fixtures")
	assert.Contains(t, cfg.Paths.Exclude, ".git")
}

func TestLoad_YmlFallback(t *testing.T) {
	isolate(t)
	project := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(project, ".ambiance.yml"), []byte("retrieval:\n  max_similar_chunks: 7\n"), 0o644))

	cfg, err := Load(project)

	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Retrieval.MaxSimilarChunks)
}

func TestLoad_EnvOverridesFiles(t *testing.T) {
	isolate(t)
	project := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(project, ProjectConfigName), []byte("retrieval:\n  similarity_threshold: 0.3\n"), 0o644))
	t.Setenv("AMBIANCE_SIMILARITY_THRESHOLD", "0.2")
	t.Setenv("AMBIANCE_QUANTIZE", "false")
	t.Setenv("AMBIANCE_EMBEDDINGS_PROVIDER", "OpenAI")
	t.Setenv("AMBIANCE_TOKEN_BUDGET", "not-a-number")

	cfg, err := Load(project)

	require.NoError(t, err)
	assert.Equal(t, 0.2, cfg.Retrieval.SimilarityThreshold)
	assert.False(t, cfg.Embeddings.Quantize)
	assert.Equal(t, "openai", cfg.Embeddings.Provider)
	assert.Equal(t, 3000, cfg.Retrieval.TokenBudget)
}

func TestLoad_InvalidYAML(t *testing.T) {
	isolate(t)
	project := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(project, ProjectConfigName), []byte("retrieval: [unclosed"), 0o644))

	_, err := Load(project)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config file")
}

// ============================================================================
// Validation
// ============================================================================

func TestValidate_RejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"provider", func(c *Config) { c.Embeddings.Provider = "mlx" }, "embeddings.provider"},
		{"lambda low", func(c *Config) { c.Retrieval.MMRLambda = 0.1 }, "mmr_lambda"},
		{"lambda high", func(c *Config) { c.Retrieval.MMRLambda = 0.9 }, "mmr_lambda"},
		{"threshold", func(c *Config) { c.Retrieval.SimilarityThreshold = 1.5 }, "similarity_threshold"},
		{"budget", func(c *Config) { c.Retrieval.TokenBudget = 0 }, "token_budget"},
		{"ann", func(c *Config) { c.Retrieval.ANN = "ivf" }, "retrieval.ann"},
		{"duration", func(c *Config) { c.Generation.WatchDebounce = "soon" }, "watch_debounce"},
		{"batch", func(c *Config) { c.Embeddings.BatchSize = 1000 }, "batch_size"},
		{"log level", func(c *Config) { c.Server.LogLevel = "trace" }, "log_level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			tt.mutate(cfg)

			err := cfg.Validate()

			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestGenerationDurations(t *testing.T) {
	g := GenerationConfig{InterBatchDelay: "250ms", WatchDebounce: "", FixTimeout: "5m"}

	assert.Equal(t, 250*time.Millisecond, g.InterBatchDelayDuration())
	assert.Equal(t, 2*time.Second, g.WatchDebounceDuration())
	assert.Equal(t, 5*time.Minute, g.FixTimeoutDuration())
}

func TestFindProjectRoot(t *testing.T) {
	// Given: a repo with a nested directory
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".git"), 0o755))
	nested := filepath.Join(root, "src", "db")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	// When: searching from the nested directory
	found, err := FindProjectRoot(nested)

	// Then: the repo root is returned
	require.NoError(t, err)
	assert.Equal(t, root, found)
}

func TestWriteYAML_RoundTripsThroughLoad(t *testing.T) {
	isolate(t)
	project := t.TempDir()
	cfg := NewConfig()
	cfg.Retrieval.FacetCap = 9
	require.NoError(t, cfg.WriteYAML(filepath.Join(project, ProjectConfigName)))

	loaded, err := Load(project)

	require.NoError(t, err)
	assert.Equal(t, 9, loaded.Retrieval.FacetCap)
}
