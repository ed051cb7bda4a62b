package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "127.0.0.1:65432", cfg.Addr())
	assert.Equal(t, 10, cfg.MaxConnections)
	assert.Equal(t, 10, cfg.NameQueueSize)
	assert.Equal(t, 10*time.Second, cfg.NameBackoff)
	assert.Equal(t, 30*time.Second, cfg.CapacityWait)
	assert.Equal(t, ModeProcess, cfg.WorkerMode)
}

func TestLoad(t *testing.T) {
	t.Run("empty path gives defaults", func(t *testing.T) {
		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, Default(), cfg)
	})

	t.Run("missing file gives defaults", func(t *testing.T) {
		cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		require.NoError(t, err)
		assert.Equal(t, Default(), cfg)
	})

	t.Run("file overrides defaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "envserver.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
host: 0.0.0.0
port: 7000
max_connections: 2
name_backoff: 250ms
worker_mode: goroutine
log:
  level: debug
`), 0o644))

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "0.0.0.0:7000", cfg.Addr())
		assert.Equal(t, 2, cfg.MaxConnections)
		assert.Equal(t, 250*time.Millisecond, cfg.NameBackoff)
		assert.Equal(t, ModeGoroutine, cfg.WorkerMode)
		assert.Equal(t, "debug", cfg.Log.Level)
		assert.Equal(t, 500*time.Millisecond, cfg.PollInterval)
	})

	t.Run("invalid yaml", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("port: [1"), 0o644))

		_, err := Load(path)
		assert.ErrorContains(t, err, "parse config")
	})

	t.Run("invalid values are rejected", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("worker_mode: thread\n"), 0o644))

		_, err := Load(path)
		assert.ErrorContains(t, err, "worker_mode")
	})
}

func TestConfig_Save(t *testing.T) {
	cfg := Default()
	cfg.Port = 9000
	cfg.PollInterval = 75 * time.Millisecond

	path := filepath.Join(t.TempDir(), "nested", "envserver.yaml")
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestConfig_Validate(t *testing.T) {
	mutate := func(f func(*Config)) Config {
		cfg := Default()
		f(&cfg)
		return cfg
	}

	assert.Error(t, mutate(func(c *Config) { c.Host = "" }).Validate())
	assert.Error(t, mutate(func(c *Config) { c.Port = 70000 }).Validate())
	assert.Error(t, mutate(func(c *Config) { c.MaxConnections = 0 }).Validate())
	assert.Error(t, mutate(func(c *Config) { c.NameQueueSize = 0 }).Validate())
	assert.Error(t, mutate(func(c *Config) { c.PollInterval = 0 }).Validate())
	assert.Error(t, mutate(func(c *Config) { c.WorkerMode = "thread" }).Validate())
	assert.Error(t, mutate(func(c *Config) { c.Log.Format = "xml" }).Validate())
	assert.Error(t, mutate(func(c *Config) { c.Log.Format = "file" }).Validate())
	assert.NoError(t, mutate(func(c *Config) { c.Log.Format, c.Log.Dir = "file", "/var/log/envserver" }).Validate())
	assert.NoError(t, mutate(func(c *Config) { c.Port = 0 }).Validate())
}
