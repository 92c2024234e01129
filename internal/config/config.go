// Package config loads ambiance configuration from defaults, YAML files and
// environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ProjectConfigName is the per-project configuration file (".yml" also accepted).
const ProjectConfigName = ".ambiance.yaml"

// Config is the complete ambiance configuration.
type Config struct {
	Version    int              `yaml:"version" json:"version"`
	Paths      PathsConfig      `yaml:"paths" json:"paths"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" json:"embeddings"`
	Retrieval  RetrievalConfig  `yaml:"retrieval" json:"retrieval"`
	Generation GenerationConfig `yaml:"generation" json:"generation"`
	Server     ServerConfig     `yaml:"server" json:"server"`
}

// PathsConfig configures storage location and discovery exclusions.
type PathsConfig struct {
	// DataDir holds the embeddings database, locks and logs. One per machine.
	DataDir string   `yaml:"data_dir" json:"data_dir"`
	Exclude []string `yaml:"exclude" json:"exclude"`
}

// EmbeddingsConfig selects and tunes the embedding provider.
type EmbeddingsConfig struct {
	// Provider is "static" (offline hash embeddings) or "openai" (any
	// OpenAI-compatible endpoint, including local servers).
	Provider   string `yaml:"provider" json:"provider"`
	Model      string `yaml:"model" json:"model"`
	Dimensions int    `yaml:"dimensions" json:"dimensions"`
	BaseURL    string `yaml:"base_url" json:"base_url"`
	// APIKeyEnv names the environment variable holding the API key.
	APIKeyEnv string `yaml:"api_key_env" json:"api_key_env"`
	BatchSize int    `yaml:"batch_size" json:"batch_size"`
	// Quantize stores vectors as int8 instead of float32.
	Quantize  bool `yaml:"quantize" json:"quantize"`
	CacheSize int  `yaml:"cache_size" json:"cache_size"`
}

// RetrievalConfig tunes the query path.
type RetrievalConfig struct {
	// SimilarityThreshold is the canonical similarity floor applied after widening.
	SimilarityThreshold float64 `yaml:"similarity_threshold" json:"similarity_threshold"`
	WidenTopK           int     `yaml:"widen_top_k" json:"widen_top_k"`
	MaxSimilarChunks    int     `yaml:"max_similar_chunks" json:"max_similar_chunks"`
	TokenBudget         int     `yaml:"token_budget" json:"token_budget"`
	MMRLambda           float64 `yaml:"mmr_lambda" json:"mmr_lambda"`
	FacetCap            int     `yaml:"facet_cap" json:"facet_cap"`
	// ANN is "exact" (full scan) or "hnsw" (approximate candidates, exact re-score).
	ANN          string `yaml:"ann" json:"ann"`
	AutoGenerate bool   `yaml:"auto_generate" json:"auto_generate"`
}

// GenerationConfig tunes background embedding generation.
type GenerationConfig struct {
	MaxFiles         int    `yaml:"max_files" json:"max_files"`
	Workers          int    `yaml:"workers" json:"workers"`
	InterBatchDelay  string `yaml:"inter_batch_delay" json:"inter_batch_delay"`
	PruneGenerations bool   `yaml:"prune_generations" json:"prune_generations"`
	Watch            bool   `yaml:"watch" json:"watch"`
	WatchDebounce    string `yaml:"watch_debounce" json:"watch_debounce"`
	// FixTimeout caps health_check auto-fix wall clock time. Advisory.
	FixTimeout string `yaml:"fix_timeout" json:"fix_timeout"`
}

// ServerConfig configures the MCP server.
type ServerConfig struct {
	Transport   string `yaml:"transport" json:"transport"`
	LogLevel    string `yaml:"log_level" json:"log_level"`
	MetricsAddr string `yaml:"metrics_addr" json:"metrics_addr"`
}

var defaultExcludePatterns = []string{
	".git", "node_modules", "vendor", "dist", "build", "out", "target",
	".next", ".cache", "coverage", "__pycache__", ".venv", ".idea", ".vscode",
}

// NewConfig creates a Config with defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Paths: PathsConfig{
			DataDir: defaultDataDir(),
			Exclude: append([]string(nil), defaultExcludePatterns...),
		},
		Embeddings: EmbeddingsConfig{
			Provider:   "static",
			Model:      "static-hash-v1",
			Dimensions: 0, // taken from the embedder
			BaseURL:    "",
			APIKeyEnv:  "OPENAI_API_KEY",
			BatchSize:  32,
			Quantize:   true,
			CacheSize:  1000,
		},
		Retrieval: RetrievalConfig{
			SimilarityThreshold: 0.15,
			WidenTopK:           200,
			MaxSimilarChunks:    20,
			TokenBudget:         3000,
			MMRLambda:           0.4,
			FacetCap:            3,
			ANN:                 "exact",
			AutoGenerate:        true,
		},
		Generation: GenerationConfig{
			MaxFiles:        5000,
			Workers:         min(4, runtime.NumCPU()),
			InterBatchDelay: "",
			WatchDebounce:   "2s",
			FixTimeout:      "5m",
		},
		Server: ServerConfig{
			Transport: "stdio",
			LogLevel:  "info",
		},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".ambiance")
	}
	return filepath.Join(home, ".ambiance")
}

// StorePath returns the embeddings database path.
func (c *Config) StorePath() string {
	return filepath.Join(c.Paths.DataDir, "embeddings.db")
}

// GetUserConfigPath returns the user configuration file, following XDG:
//   - $XDG_CONFIG_HOME/ambiance/config.yaml
//   - ~/.config/ambiance/config.yaml
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "ambiance", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "ambiance", "config.yaml")
	}
	return filepath.Join(home, ".config", "ambiance", "config.yaml")
}

// Load loads configuration for the project rooted at dir.
// Precedence, lowest first:
//  1. Defaults
//  2. User config (~/.config/ambiance/config.yaml)
//  3. Project config (.ambiance.yaml in dir)
//  4. Environment variables (AMBIANCE_*)
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if path := GetUserConfigPath(); fileExists(path) {
		if err := cfg.loadYAML(path); err != nil {
			return nil, fmt.Errorf("failed to load user config: %w", err)
		}
	}

	if dir != "" {
		for _, name := range []string{ProjectConfigName, ".ambiance.yml"} {
			path := filepath.Join(dir, name)
			if fileExists(path) {
				if err := cfg.loadYAML(path); err != nil {
					return nil, err
				}
				break
			}
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// loadYAML overlays the keys present in path onto c. Exclusions extend the
// current list instead of replacing it.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	exclude := c.Paths.Exclude
	c.Paths.Exclude = nil
	if err := yaml.Unmarshal(data, c); err != nil {
		c.Paths.Exclude = exclude
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	c.Paths.Exclude = mergeUnique(exclude, c.Paths.Exclude)
	return nil
}

func mergeUnique(base, extra []string) []string {
	seen := make(map[string]bool, len(base)+len(extra))
	out := make([]string, 0, len(base)+len(extra))
	for _, s := range append(append([]string(nil), base...), extra...) {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// applyEnvOverrides applies AMBIANCE_* environment variables. Unparseable
// values are ignored.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("AMBIANCE_DATA_DIR"); v != "" {
		c.Paths.DataDir = v
	}
	if v := os.Getenv("AMBIANCE_EMBEDDINGS_PROVIDER"); v != "" {
		c.Embeddings.Provider = strings.ToLower(v)
	}
	if v := os.Getenv("AMBIANCE_EMBEDDINGS_MODEL"); v != "" {
		c.Embeddings.Model = v
	}
	if v := os.Getenv("AMBIANCE_OPENAI_BASE_URL"); v != "" {
		c.Embeddings.BaseURL = v
	}
	if v := os.Getenv("AMBIANCE_QUANTIZE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Embeddings.Quantize = b
		}
	}
	if v := os.Getenv("AMBIANCE_SIMILARITY_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 && f <= 1 {
			c.Retrieval.SimilarityThreshold = f
		}
	}
	if v := os.Getenv("AMBIANCE_TOKEN_BUDGET"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Retrieval.TokenBudget = n
		}
	}
	if v := os.Getenv("AMBIANCE_MAX_FILES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Generation.MaxFiles = n
		}
	}
	if v := os.Getenv("AMBIANCE_LOG_LEVEL"); v != "" {
		c.Server.LogLevel = v
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch c.Embeddings.Provider {
	case "static", "openai":
	default:
		return fmt.Errorf("embeddings.provider must be 'static' or 'openai', got %q", c.Embeddings.Provider)
	}
	if c.Embeddings.Dimensions < 0 {
		return fmt.Errorf("embeddings.dimensions must be non-negative, got %d", c.Embeddings.Dimensions)
	}
	if c.Embeddings.BatchSize < 1 || c.Embeddings.BatchSize > 256 {
		return fmt.Errorf("embeddings.batch_size must be between 1 and 256, got %d", c.Embeddings.BatchSize)
	}
	if c.Retrieval.SimilarityThreshold < 0 || c.Retrieval.SimilarityThreshold > 1 {
		return fmt.Errorf("retrieval.similarity_threshold must be between 0 and 1, got %f", c.Retrieval.SimilarityThreshold)
	}
	if c.Retrieval.MMRLambda < 0.3 || c.Retrieval.MMRLambda > 0.5 {
		return fmt.Errorf("retrieval.mmr_lambda must be between 0.3 and 0.5, got %f", c.Retrieval.MMRLambda)
	}
	if c.Retrieval.TokenBudget <= 0 {
		return fmt.Errorf("retrieval.token_budget must be positive, got %d", c.Retrieval.TokenBudget)
	}
	if c.Retrieval.MaxSimilarChunks <= 0 {
		return fmt.Errorf("retrieval.max_similar_chunks must be positive, got %d", c.Retrieval.MaxSimilarChunks)
	}
	if c.Retrieval.FacetCap < 0 {
		return fmt.Errorf("retrieval.facet_cap must be non-negative, got %d", c.Retrieval.FacetCap)
	}
	switch c.Retrieval.ANN {
	case "exact", "hnsw":
	default:
		return fmt.Errorf("retrieval.ann must be 'exact' or 'hnsw', got %q", c.Retrieval.ANN)
	}
	if c.Generation.MaxFiles <= 0 {
		return fmt.Errorf("generation.max_files must be positive, got %d", c.Generation.MaxFiles)
	}
	if c.Generation.Workers <= 0 {
		return fmt.Errorf("generation.workers must be positive, got %d", c.Generation.Workers)
	}
	for name, v := range map[string]string{
		"generation.inter_batch_delay": c.Generation.InterBatchDelay,
		"generation.watch_debounce":    c.Generation.WatchDebounce,
		"generation.fix_timeout":       c.Generation.FixTimeout,
	} {
		if _, err := parseDuration(v); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Server.LogLevel)] {
		return fmt.Errorf("server.log_level must be 'debug', 'info', 'warn', or 'error', got %s", c.Server.LogLevel)
	}
	if strings.ToLower(c.Server.Transport) != "stdio" {
		return fmt.Errorf("server.transport must be 'stdio', got %s", c.Server.Transport)
	}
	return nil
}

// InterBatchDelayDuration returns the pause between embedding batches.
func (g GenerationConfig) InterBatchDelayDuration() time.Duration {
	d, _ := parseDuration(g.InterBatchDelay)
	return d
}

// WatchDebounceDuration returns the watcher debounce window.
func (g GenerationConfig) WatchDebounceDuration() time.Duration {
	d, _ := parseDuration(g.WatchDebounce)
	if d <= 0 {
		return 2 * time.Second
	}
	return d
}

// FixTimeoutDuration returns the advisory health_check auto-fix budget.
func (g GenerationConfig) FixTimeoutDuration() time.Duration {
	d, _ := parseDuration(g.FixTimeout)
	return d
}

// parseDuration accepts "" and "0" as zero.
func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "0" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("duration must be non-negative, got %s", s)
	}
	return d, nil
}

// WriteYAML writes the configuration to path.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// FindProjectRoot walks up from startDir looking for a .git directory or a
// project config file. Falls back to startDir itself.
func FindProjectRoot(startDir string) (string, error) {
	absDir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}

	current := absDir
	for {
		if dirExists(filepath.Join(current, ".git")) ||
			fileExists(filepath.Join(current, ProjectConfigName)) ||
			fileExists(filepath.Join(current, ".ambiance.yml")) {
			return current, nil
		}
		parent := filepath.Dir(current)
		if parent == current {
			return absDir, nil
		}
		current = parent
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
