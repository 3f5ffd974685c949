package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoader(t *testing.T) {
	loader := NewLoader("/path/to/config.json")
	assert.NotNil(t, loader)
	assert.Equal(t, "/path/to/config.json", loader.GetConfigPath())
}

func TestLoaderLoad(t *testing.T) {
	t.Run("defaults when file doesn't exist", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "nonexistent.json")

		cfg, err := NewLoader(configPath).Load()

		require.NoError(t, err)
		assert.Equal(t, "atlas", cfg.Agent.Name)
		assert.Equal(t, filepath.Dir(configPath), cfg.DataDir)
		assert.NotNil(t, cfg.Pipeline.Tools)
	})

	t.Run("file values merge over defaults", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "atlas.json")
		content := `{
			"agent": {"name": "calc", "capabilities": ["calculator", "math.*"]},
			"pipeline": {"max_concurrent": 2, "tools": {"sleep": {"timeout_ms": 500}}},
			"store": {"driver": "sqlite"}
		}`
		require.NoError(t, os.WriteFile(configPath, []byte(content), 0644))

		cfg, err := Load(configPath)

		require.NoError(t, err)
		assert.Equal(t, "calc", cfg.Agent.Name)
		assert.Equal(t, []string{"calculator", "math.*"}, cfg.Agent.Capabilities)
		assert.Equal(t, 2, cfg.Pipeline.MaxConcurrent)
		assert.Equal(t, 30000, cfg.Pipeline.DefaultTimeoutMs)
		assert.Equal(t, 500, cfg.Pipeline.Tools["sleep"].TimeoutMs)
		assert.Equal(t, filepath.Join(tmpDir, "tasks.db"), cfg.Store.Path)
		assert.Equal(t, "queue", cfg.Pipeline.Overflow)
	})

	t.Run("environment overrides without a file", func(t *testing.T) {
		t.Setenv("ATLAS_LOGGING_LEVEL", "debug")
		t.Setenv("ATLAS_PIPELINE_OVERFLOW", "reject")
		t.Setenv("ATLAS_SERVER_TRANSPORT", "http")

		cfg, err := Load(filepath.Join(t.TempDir(), "missing.json"))

		require.NoError(t, err)
		assert.Equal(t, "debug", cfg.Logging.Level)
		assert.Equal(t, "reject", cfg.Pipeline.Overflow)
		assert.Equal(t, "http", cfg.Server.Transport)
	})

	t.Run("invalid json", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "atlas.json")
		require.NoError(t, os.WriteFile(configPath, []byte("{not json"), 0644))

		_, err := Load(configPath)
		assert.Error(t, err)
	})
}

func TestLoaderSave(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "nested", "atlas.json")
	loader := NewLoader(configPath)

	cfg := DefaultConfig()
	cfg.Agent.Name = "saved"
	cfg.Pipeline.Overflow = "reject"
	cfg.Pipeline.Tools["echo"] = ToolConfig{MaxConcurrent: 1}
	cfg.Server.Transport = "http"

	require.NoError(t, loader.Save(cfg))
	_, err := os.Stat(configPath)
	require.NoError(t, err)

	loaded, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, "saved", loaded.Agent.Name)
	assert.Equal(t, "reject", loaded.Pipeline.Overflow)
	assert.Equal(t, 1, loaded.Pipeline.Tools["echo"].MaxConcurrent)
	assert.Equal(t, "http", loaded.Server.Transport)
}

func TestLoaderGetConfigPath(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	assert.Equal(t, filepath.Join(home, ".atlas", "atlas.json"), NewLoader("").GetConfigPath())
}
