// Package config loads pipeline configuration: defaults, then an
// optional autonomy.yaml in the project root, then environment
// overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigFile is the optional YAML file name in the project root.
const ConfigFile = "autonomy.yaml"

// Config is the full pipeline configuration.
type Config struct {
	// ProjectRoot is the tree the pipeline operates on.
	ProjectRoot string `yaml:"project_root"`
	// StateDir holds pipeline bookkeeping, relative to ProjectRoot.
	StateDir string `yaml:"state_dir"`
	// DatabasePath is the sqlite audit database, relative to StateDir
	// unless absolute.
	DatabasePath string `yaml:"database_path"`

	Model             string `yaml:"model"`
	RequestsPerMinute int    `yaml:"requests_per_minute"`

	// MaxCycles bounds one pipeline run; 0 means run until interrupted.
	MaxCycles int `yaml:"max_cycles"`

	// ReanalyzeInterval is how stale the last analysis may get before
	// the queue is rebuilt.
	ReanalyzeInterval time.Duration `yaml:"reanalyze_interval"`
	// ReanalyzeChangedFiles forces re-analysis when more than this
	// many files changed since the last one.
	ReanalyzeChangedFiles int `yaml:"reanalyze_changed_files"`

	// MaxToolBatches bounds executed tool batches per task, across
	// attempts, before a forced developer review.
	MaxToolBatches int `yaml:"max_tool_batches"`

	// FailClosedVerification makes an analyzer error count as a failed
	// verification instead of a passed one.
	FailClosedVerification bool `yaml:"fail_closed_verification"`
}

// Default returns the production defaults for a project root.
func Default(projectRoot string) Config {
	return Config{
		ProjectRoot:           projectRoot,
		StateDir:              ".autonomy",
		DatabasePath:          "audit.db",
		Model:                 "",
		RequestsPerMinute:     30,
		MaxCycles:             0,
		ReanalyzeInterval:     time.Hour,
		ReanalyzeChangedFiles: 10,
		MaxToolBatches:        8,
	}
}

// Load builds the configuration for a project root.
func Load(projectRoot string) (Config, error) {
	cfg := Default(projectRoot)

	path := filepath.Join(projectRoot, ConfigFile)
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("invalid %s: %w", ConfigFile, err)
		}
		// The file never overrides the root it was loaded from.
		cfg.ProjectRoot = projectRoot
	}

	cfg.StateDir = getEnvString("AUTONOMY_STATE_DIR", cfg.StateDir)
	cfg.Model = getEnvString("AUTONOMY_MODEL", cfg.Model)
	cfg.MaxCycles = getEnvInt("AUTONOMY_MAX_CYCLES", cfg.MaxCycles)
	cfg.ReanalyzeInterval = getEnvDuration("AUTONOMY_REANALYZE_INTERVAL", cfg.ReanalyzeInterval)
	cfg.ReanalyzeChangedFiles = getEnvInt("AUTONOMY_REANALYZE_CHANGED_FILES", cfg.ReanalyzeChangedFiles)
	cfg.MaxToolBatches = getEnvInt("AUTONOMY_MAX_TOOL_BATCHES", cfg.MaxToolBatches)
	cfg.FailClosedVerification = getEnvBool("AUTONOMY_FAIL_CLOSED_VERIFICATION", cfg.FailClosedVerification)

	if cfg.StateDir == "" {
		return cfg, fmt.Errorf("state_dir cannot be empty")
	}
	if cfg.ReanalyzeChangedFiles <= 0 {
		return cfg, fmt.Errorf("reanalyze_changed_files must be positive")
	}
	return cfg, nil
}

// StatePath returns the absolute state directory.
func (c Config) StatePath() string {
	if filepath.IsAbs(c.StateDir) {
		return c.StateDir
	}
	return filepath.Join(c.ProjectRoot, c.StateDir)
}

// DBPath returns the absolute audit database path.
func (c Config) DBPath() string {
	if filepath.IsAbs(c.DatabasePath) {
		return c.DatabasePath
	}
	return filepath.Join(c.StatePath(), c.DatabasePath)
}

func getEnvString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: invalid %s=%q, using %d\n", key, v, def)
		return def
	}
	return n
}

func getEnvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: invalid %s=%q, using %t\n", key, v, def)
		return def
	}
	return b
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: invalid %s=%q, using %s\n", key, v, def)
		return def
	}
	return d
}
