package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRoot() *cobra.Command {
	cmd := &cobra.Command{Use: "treesync"}
	addGlobalFlags(cmd)
	return cmd
}

func TestLoadConfigEnv(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("TREESYNC_CONFIG_PATH", filepath.Join(dir, "missing.json"))
	t.Setenv("TREESYNC_DATA_DIR", filepath.Join(dir, "data"))
	t.Setenv("TREESYNC_REMOTE_URL", "https://dav.example.com/remote.php/dav/files/alice/")
	t.Setenv("TREESYNC_USERNAME", "alice")
	t.Setenv("TREESYNC_PASSWORD", "s3cret")
	t.Setenv("TREESYNC_DIRECTIONS", "pull, push")
	t.Setenv("TREESYNC_POLICY", "resolve")
	t.Setenv("TREESYNC_DETECT_CONFLICTS", "true")
	t.Setenv("TREESYNC_INTERVAL", "1m")
	t.Setenv("TREESYNC_CONCURRENCY", "8")

	cfg, err := loadConfig(newTestRoot())
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, filepath.Join(dir, "missing.json"), cfg.Path)
	assert.Equal(t, filepath.Join(dir, "data"), cfg.DataDir)
	assert.Equal(t, "https://dav.example.com/remote.php/dav/files/alice/", cfg.RemoteURL)
	assert.Equal(t, "alice", cfg.Username)
	assert.Equal(t, "s3cret", cfg.Password)
	assert.Equal(t, []string{"pull", "push"}, cfg.Directions)
	assert.Equal(t, "resolve", cfg.Policy)
	require.NotNil(t, cfg.DetectConflicts)
	assert.True(t, *cfg.DetectConflicts)
	assert.Equal(t, "1m", cfg.Interval)
	assert.Equal(t, 8, cfg.Concurrency)
}

func TestLoadConfigJSON(t *testing.T) {
	dummyConfig := `
{
	"data_dir": "/tmp/treesync-test-json",
	"remote_url": "https://dav.example.com/files/",
	"username": "bob",
	"directions": ["push"],
	"policy": "track",
	"include": ["docs/**", "*.md"]
}
`
	dummyConfigFile := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(dummyConfigFile, []byte(dummyConfig), 0o644))

	cmd := newTestRoot()
	require.NoError(t, cmd.PersistentFlags().Set("config", dummyConfigFile))

	cfg, err := loadConfig(cmd)
	require.NoError(t, err)

	assert.Equal(t, dummyConfigFile, cfg.Path)
	assert.Equal(t, "/tmp/treesync-test-json", cfg.DataDir)
	assert.Equal(t, "https://dav.example.com/files/", cfg.RemoteURL)
	assert.Equal(t, "bob", cfg.Username)
	assert.Equal(t, []string{"push"}, cfg.Directions)
	assert.Equal(t, "track", cfg.Policy)
	assert.Equal(t, []string{"docs/**", "*.md"}, cfg.Include)
}

func TestLoadConfig_FlagsBeatEnvAndFile(t *testing.T) {
	configFile := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(configFile, []byte(`{"remote_url": "https://file.example.com/"}`), 0o644))
	t.Setenv("TREESYNC_REMOTE_URL", "https://env.example.com/")

	cmd := newTestRoot()
	require.NoError(t, cmd.PersistentFlags().Set("config", configFile))

	cfg, err := loadConfig(cmd)
	require.NoError(t, err)
	assert.Equal(t, "https://env.example.com/", cfg.RemoteURL)

	require.NoError(t, cmd.PersistentFlags().Set("remote", "https://flag.example.com/"))
	cfg, err = loadConfig(cmd)
	require.NoError(t, err)
	assert.Equal(t, "https://flag.example.com/", cfg.RemoteURL)
}

func TestLoadConfig_BrokenFile(t *testing.T) {
	configFile := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(configFile, []byte(`{"remote_url": `), 0o644))

	cmd := newTestRoot()
	require.NoError(t, cmd.PersistentFlags().Set("config", configFile))

	_, err := loadConfig(cmd)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config read")
}
