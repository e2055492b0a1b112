package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	root := t.TempDir()
	cfg, err := Load(root)
	require.NoError(t, err)

	assert.Equal(t, ".autonomy", cfg.StateDir)
	assert.Equal(t, time.Hour, cfg.ReanalyzeInterval)
	assert.Equal(t, 10, cfg.ReanalyzeChangedFiles)
	assert.Equal(t, filepath.Join(root, ".autonomy"), cfg.StatePath())
	assert.Equal(t, filepath.Join(root, ".autonomy", "audit.db"), cfg.DBPath())
}

func TestYAMLOverrides(t *testing.T) {
	root := t.TempDir()
	yaml := "reanalyze_interval: 30m\nmax_tool_batches: 4\nproject_root: /elsewhere\n"
	require.NoError(t, os.WriteFile(filepath.Join(root, ConfigFile), []byte(yaml), 0644))

	cfg, err := Load(root)
	require.NoError(t, err)

	assert.Equal(t, 30*time.Minute, cfg.ReanalyzeInterval)
	assert.Equal(t, 4, cfg.MaxToolBatches)
	assert.Equal(t, root, cfg.ProjectRoot, "config file must not override the project root")
}

func TestEnvOverridesYAML(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, ConfigFile), []byte("max_cycles: 5\n"), 0644))
	t.Setenv("AUTONOMY_MAX_CYCLES", "12")
	t.Setenv("AUTONOMY_FAIL_CLOSED_VERIFICATION", "true")

	cfg, err := Load(root)
	require.NoError(t, err)

	assert.Equal(t, 12, cfg.MaxCycles)
	assert.True(t, cfg.FailClosedVerification)
}

func TestInvalidEnvFallsBack(t *testing.T) {
	root := t.TempDir()
	t.Setenv("AUTONOMY_MAX_CYCLES", "not-a-number")

	cfg, err := Load(root)
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.MaxCycles)
}

func TestInvalidYAMLIsAnError(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, ConfigFile), []byte(":\n bad"), 0644))

	_, err := Load(root)
	assert.Error(t, err, "invalid yaml must fail loudly")
}
