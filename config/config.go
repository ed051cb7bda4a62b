// Package config holds the server settings, loaded from a YAML file with
// defaults for anything the file leaves out.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// WorkerMode selects how sessions are isolated.
type WorkerMode string

const (
	// ModeProcess runs one OS process per session.
	ModeProcess WorkerMode = "process"

	// ModeGoroutine runs workers inside the server process.
	ModeGoroutine WorkerMode = "goroutine"
)

// Log configures the server logger.
type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Dir    string `yaml:"dir"`
}

// Config is the complete server configuration.
type Config struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	WorkspaceDir string `yaml:"workspace_dir"`

	MaxConnections int           `yaml:"max_connections"`
	CapacityWait   time.Duration `yaml:"capacity_wait"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`

	NameQueueSize int           `yaml:"name_queue_size"`
	NameBackoff   time.Duration `yaml:"name_backoff"`

	WorkerMode        WorkerMode    `yaml:"worker_mode"`
	WorkerJoinTimeout time.Duration `yaml:"worker_join_timeout"`

	HistoryTTL time.Duration `yaml:"history_ttl"`

	Log Log `yaml:"log"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Host:              "127.0.0.1",
		Port:              65432,
		WorkspaceDir:      filepath.Join(os.TempDir(), "envserver"),
		MaxConnections:    10,
		CapacityWait:      30 * time.Second,
		PollInterval:      500 * time.Millisecond,
		WriteTimeout:      10 * time.Second,
		NameQueueSize:     10,
		NameBackoff:       10 * time.Second,
		WorkerMode:        ModeProcess,
		WorkerJoinTimeout: 5 * time.Second,
		HistoryTTL:        time.Hour,
		Log: Log{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads path over the defaults. An empty path or a missing file yields
// the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()

	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(trimmed)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}

	return cfg, cfg.Validate()
}

// Save writes the configuration as YAML, creating parent directories.
func (c Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o644)
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	switch {
	case c.Host == "":
		return fmt.Errorf("host is required")
	case c.Port < 0 || c.Port > 65535:
		return fmt.Errorf("port %d out of range", c.Port)
	case c.WorkspaceDir == "":
		return fmt.Errorf("workspace_dir is required")
	case c.MaxConnections < 1:
		return fmt.Errorf("max_connections must be at least 1, got %d", c.MaxConnections)
	case c.NameQueueSize < 1:
		return fmt.Errorf("name_queue_size must be at least 1, got %d", c.NameQueueSize)
	case c.PollInterval <= 0:
		return fmt.Errorf("poll_interval must be positive")
	case c.CapacityWait <= 0:
		return fmt.Errorf("capacity_wait must be positive")
	case c.NameBackoff <= 0:
		return fmt.Errorf("name_backoff must be positive")
	case c.WorkerMode != ModeProcess && c.WorkerMode != ModeGoroutine:
		return fmt.Errorf("worker_mode must be %q or %q, got %q", ModeProcess, ModeGoroutine, c.WorkerMode)
	case c.Log.Format != "" && c.Log.Format != "console" && c.Log.Format != "json" && c.Log.Format != "file":
		return fmt.Errorf("log.format must be console, json or file, got %q", c.Log.Format)
	case c.Log.Format == "file" && c.Log.Dir == "":
		return fmt.Errorf("log.dir is required for file logging")
	}

	return nil
}

// Addr returns host:port.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
