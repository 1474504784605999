package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	assert.NotNil(t, config)
	assert.Equal(t, "0.0.0.0", config.Server.Host)
	assert.Equal(t, 8080, config.Server.Port)
	assert.True(t, config.Server.EnableCORS)
	assert.Equal(t, "sqlite", config.Database.Type)
	assert.Equal(t, "./data", config.Database.DataDir)
	assert.Equal(t, "http://localhost:8000", config.Worker.BaseURL)
	assert.Equal(t, 30*time.Second, config.Worker.Timeout)
	assert.Equal(t, "Florence-2-base", config.Worker.DefaultModel)
	assert.Contains(t, config.Worker.Models, "Florence-2-base")
	assert.Equal(t, 4, config.Worker.BulkConcurrency)
	assert.False(t, config.Embedding.Enabled)
	assert.Equal(t, 384, config.Embedding.Dimensions)
	assert.Equal(t, 5*time.Minute, config.Scanner.TickInterval)
	assert.Equal(t, 3, config.Scanner.BreakerThreshold)
	assert.Equal(t, 30*time.Minute, config.Scanner.BreakerTTL)
	assert.Equal(t, 1000, config.Events.BufferSize)
	assert.True(t, config.Events.PersistHistory)
	assert.Equal(t, "info", config.Logging.Level)
}

func TestLoadConfigWithoutFileUsesDefaults(t *testing.T) {
	cm := NewConfigManager()
	require.NoError(t, cm.LoadConfig(""))

	config := cm.GetConfig()
	assert.Equal(t, 8080, config.Server.Port)
	// The sqlite path is derived from the data dir when not set explicitly.
	assert.Equal(t, filepath.Join("./data", "captiond.db"), config.Database.DatabasePath)
}

func TestLoadConfigFromYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "captiond.yaml")
	yaml := `
server:
  port: 9090
worker:
  base_url: http://worker.internal:8000
  default_model: moondream2
scanner:
  tick_interval: 90s
  media_root: /srv/images
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0644))

	cm := NewConfigManager()
	require.NoError(t, cm.LoadConfig(path))

	config := cm.GetConfig()
	assert.Equal(t, 9090, config.Server.Port)
	assert.Equal(t, "http://worker.internal:8000", config.Worker.BaseURL)
	assert.Equal(t, "moondream2", config.Worker.DefaultModel)
	assert.Equal(t, 90*time.Second, config.Scanner.TickInterval)
	assert.Equal(t, "/srv/images", config.Scanner.MediaRoot)

	// Untouched sections keep their defaults.
	assert.Equal(t, "0.0.0.0", config.Server.Host)
	assert.Equal(t, "sqlite", config.Database.Type)
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "captiond.yaml")
	yaml := `
server:
  port: 9090
scanner:
  media_root: /srv/from-file
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0644))

	t.Setenv("SERVER_PORT", "7070")
	t.Setenv("MEDIA_ROOT", "/srv/from-env")
	t.Setenv("SCAN_TICK_INTERVAL", "2m")

	cm := NewConfigManager()
	require.NoError(t, cm.LoadConfig(path))

	config := cm.GetConfig()
	assert.Equal(t, 7070, config.Server.Port)
	assert.Equal(t, "/srv/from-env", config.Scanner.MediaRoot)
	assert.Equal(t, 2*time.Minute, config.Scanner.TickInterval)
}

func TestEnvModelListSplitsOnCommas(t *testing.T) {
	t.Setenv("WORKER_MODELS", "alpha, beta,gamma")
	t.Setenv("WORKER_DEFAULT_MODEL", "beta")

	cm := NewConfigManager()
	require.NoError(t, cm.LoadConfig(""))

	config := cm.GetConfig()
	assert.Equal(t, []string{"alpha", "beta", "gamma"}, config.Worker.Models)
	assert.Equal(t, "beta", config.Worker.DefaultModel)
}

func TestLoadConfigUnsupportedFormat(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "captiond.toml")
	require.NoError(t, os.WriteFile(path, []byte("port = 9090"), 0644))

	cm := NewConfigManager()
	err := cm.LoadConfig(path)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported config file format")
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "default config is valid",
			mutate:  func(c *Config) {},
			wantErr: "",
		},
		{
			name:    "port out of range",
			mutate:  func(c *Config) { c.Server.Port = 70000 },
			wantErr: "invalid server port",
		},
		{
			name:    "unknown database type",
			mutate:  func(c *Config) { c.Database.Type = "oracle" },
			wantErr: "unsupported database type",
		},
		{
			name:    "empty worker url",
			mutate:  func(c *Config) { c.Worker.BaseURL = "" },
			wantErr: "worker base URL",
		},
		{
			name:    "default model outside allow-list",
			mutate:  func(c *Config) { c.Worker.DefaultModel = "gpt-vision" },
			wantErr: "not in the configured model list",
		},
		{
			name: "embedding enabled with bad dimensions",
			mutate: func(c *Config) {
				c.Embedding.Enabled = true
				c.Embedding.Dimensions = 0
			},
			wantErr: "invalid embedding dimensions",
		},
		{
			name:    "zero tick interval",
			mutate:  func(c *Config) { c.Scanner.TickInterval = 0 },
			wantErr: "invalid scan tick interval",
		},
		{
			name:    "breaker threshold below one",
			mutate:  func(c *Config) { c.Scanner.BreakerThreshold = 0 },
			wantErr: "invalid breaker threshold",
		},
		{
			name:    "bulk concurrency below one",
			mutate:  func(c *Config) { c.Worker.BulkConcurrency = 0 },
			wantErr: "invalid bulk concurrency",
		},
	}

	cm := NewConfigManager()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.mutate(config)

			err := cm.validateConfig(config)
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestGetConfigReturnsCopy(t *testing.T) {
	cm := NewConfigManager()
	require.NoError(t, cm.LoadConfig(""))

	first := cm.GetConfig()
	first.Server.Port = 1

	second := cm.GetConfig()
	assert.Equal(t, 8080, second.Server.Port)
}
