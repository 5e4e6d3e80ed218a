package zpak

import (
	"fmt"
	"os"
	"runtime"

	"gopkg.in/yaml.v3"

	"github.com/meigma/zpak/internal/chunk"
)

// Config carries tool-level settings that map onto create options.
// It is the on-disk configuration surface for cmd/zpak, kept in the
// library so other frontends can reuse it.
type Config struct {
	// CompressionLevel is the zstd effort level (1-22).
	CompressionLevel int `yaml:"compression_level"`

	// Compression optionally forces a single algorithm ("none",
	// "lz4", "zstd"). Empty enables per-file profile detection.
	Compression string `yaml:"compression,omitempty"`

	// MaxThreads bounds the worker pools (1-1024).
	MaxThreads int `yaml:"max_threads"`

	// BlockSize is the dedup block size in bytes (1 KiB - 1 GiB).
	BlockSize int `yaml:"block_size"`

	// Verbose enables debug logging.
	Verbose bool `yaml:"verbose"`
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() Config {
	return Config{
		CompressionLevel: DefaultLevel,
		MaxThreads:       runtime.GOMAXPROCS(0),
		BlockSize:        DefaultBlockSize,
	}
}

// LoadConfig reads and validates a YAML config file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the configuration as YAML.
func (c Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("serializing config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// Validate checks all values against their supported ranges.
func (c Config) Validate() error {
	if c.CompressionLevel < MinLevel || c.CompressionLevel > MaxLevel {
		return fmt.Errorf("compression level must be between %d and %d, got %d",
			MinLevel, MaxLevel, c.CompressionLevel)
	}
	if c.Compression != "" {
		if _, err := ParseCompression(c.Compression); err != nil {
			return err
		}
	}
	if c.MaxThreads < 1 || c.MaxThreads > 1024 {
		return fmt.Errorf("max threads must be between 1 and 1024, got %d", c.MaxThreads)
	}
	if err := chunk.ValidateBlockSize(c.BlockSize); err != nil {
		return err
	}
	return nil
}

// CreateOptions converts the configuration to create options.
func (c Config) CreateOptions() []CreateOption {
	opts := []CreateOption{
		CreateWithBlockSize(c.BlockSize),
		CreateWithLevel(c.CompressionLevel),
		CreateWithWorkers(c.MaxThreads),
	}
	if c.Compression != "" {
		if tag, err := ParseCompression(c.Compression); err == nil {
			opts = append(opts, CreateWithCompression(tag))
		}
	}
	return opts
}
