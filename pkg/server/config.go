package server

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/etushar89/rdbms-core/pkg/buffer"
	"github.com/etushar89/rdbms-core/pkg/storage"
)

// Config holds the admin server settings, loadable from a YAML file.
type Config struct {
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	DataDir string `yaml:"data_dir"`

	// Backend selects the block file store: "os" (default), "direct"
	// for O_DIRECT I/O that bypasses the OS page cache, or "memory"
	// for an ephemeral in-memory store.
	Backend string `yaml:"backend"`

	// Buffer pool applied to every opened table and index
	BufferFrames int    `yaml:"buffer_frames"`
	Strategy     string `yaml:"strategy"`

	// Cron schedules; empty disables the job
	FlushSchedule    string `yaml:"flush_schedule"`
	SnapshotSchedule string `yaml:"snapshot_schedule"`
	SnapshotDir      string `yaml:"snapshot_dir"`

	// Passphrase seals scheduled snapshots when set
	SnapshotPassphrase string `yaml:"snapshot_passphrase"`
}

// DefaultConfig returns the settings used when no file is given.
func DefaultConfig() *Config {
	return &Config{
		Host:         "127.0.0.1",
		Port:         8421,
		DataDir:      "./data",
		Backend:      "os",
		BufferFrames: 64,
		Strategy:     "LRU",
	}
}

// LoadConfig reads a YAML config file, filling unset fields from the
// defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate checks the settings that cannot be defaulted away.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.BufferFrames <= 0 {
		return fmt.Errorf("buffer_frames must be positive, got %d", c.BufferFrames)
	}
	if _, ok := buffer.ParseStrategy(c.Strategy); !ok {
		return fmt.Errorf("unknown replacement strategy %q", c.Strategy)
	}
	if _, err := c.FileSystem(); err != nil {
		return err
	}
	if c.SnapshotSchedule != "" && c.SnapshotDir == "" {
		return fmt.Errorf("snapshot_schedule needs snapshot_dir")
	}
	return nil
}

// FileSystem resolves the configured block file backend.
func (c *Config) FileSystem() (storage.FileSystem, error) {
	switch c.Backend {
	case "", "os":
		return storage.OSFileSystem{}, nil
	case "direct":
		return storage.DirectFileSystem{}, nil
	case "memory":
		return storage.NewMemFS(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", c.Backend)
	}
}

// ReplacementStrategy resolves the configured strategy.
func (c *Config) ReplacementStrategy() buffer.ReplacementStrategy {
	s, _ := buffer.ParseStrategy(c.Strategy)
	return s
}

// Addr returns the host:port listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
