package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lfelipegg/civitai-model-downloader-sub000/internal/progress"
)

// Config defines configuration for the civitai-dl CLI.
type Config struct {
	APIKey         string      `yaml:"api_key"`
	DownloadDir    string      `yaml:"download_dir"`
	Workers        int         `yaml:"workers"`
	ChunkSize      int64       `yaml:"chunk_size"`
	BandwidthLimit int64       `yaml:"bandwidth_limit"`
	Progress       bool        `yaml:"progress"`
	Retry          RetryConfig `yaml:"retry"`
}

// RetryConfig defines retry behavior.
type RetryConfig struct {
	Attempts   int           `yaml:"attempts"`
	Backoff    time.Duration `yaml:"backoff"`
	MaxBackoff time.Duration `yaml:"max_backoff"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		DownloadDir: "downloads",
		Workers:     3,
		ChunkSize:   64 * 1024,
		Retry: RetryConfig{
			Attempts:   3,
			Backoff:    2 * time.Second,
			MaxBackoff: 60 * time.Second,
		},
	}
}

// yamlConfig is used for YAML unmarshaling with human-readable sizes
// and durations.
type yamlConfig struct {
	APIKey         string          `yaml:"api_key"`
	DownloadDir    string          `yaml:"download_dir"`
	Workers        int             `yaml:"workers"`
	ChunkSize      string          `yaml:"chunk_size"`
	BandwidthLimit string          `yaml:"bandwidth_limit"`
	Progress       bool            `yaml:"progress"`
	Retry          yamlRetryConfig `yaml:"retry"`
}

type yamlRetryConfig struct {
	Attempts   int    `yaml:"attempts"`
	Backoff    string `yaml:"backoff"`
	MaxBackoff string `yaml:"max_backoff"`
}

// LoadFromFile loads configuration from a YAML file.
func LoadFromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	var yc yamlConfig
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}

	cfg := Default()

	if yc.APIKey != "" {
		cfg.APIKey = yc.APIKey
	}
	if yc.DownloadDir != "" {
		cfg.DownloadDir = yc.DownloadDir
	}
	if yc.Workers != 0 {
		cfg.Workers = yc.Workers
	}
	if yc.ChunkSize != "" {
		size, err := progress.ParseBytes(yc.ChunkSize)
		if err != nil {
			return Config{}, fmt.Errorf("parse chunk_size: %w", err)
		}
		cfg.ChunkSize = size
	}
	if yc.BandwidthLimit != "" {
		limit, err := progress.ParseBytes(yc.BandwidthLimit)
		if err != nil {
			return Config{}, fmt.Errorf("parse bandwidth_limit: %w", err)
		}
		cfg.BandwidthLimit = limit
	}
	cfg.Progress = yc.Progress
	if yc.Retry.Attempts != 0 {
		cfg.Retry.Attempts = yc.Retry.Attempts
	}
	if yc.Retry.Backoff != "" {
		d, err := time.ParseDuration(yc.Retry.Backoff)
		if err != nil {
			return Config{}, fmt.Errorf("parse retry.backoff: %w", err)
		}
		cfg.Retry.Backoff = d
	}
	if yc.Retry.MaxBackoff != "" {
		d, err := time.ParseDuration(yc.Retry.MaxBackoff)
		if err != nil {
			return Config{}, fmt.Errorf("parse retry.max_backoff: %w", err)
		}
		cfg.Retry.MaxBackoff = d
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the CIVITAI_ prefix.
func (c *Config) LoadFromEnv() error {
	if v := os.Getenv("CIVITAI_API_KEY"); v != "" {
		c.APIKey = v
	}
	if v := os.Getenv("CIVITAI_DOWNLOAD_DIR"); v != "" {
		c.DownloadDir = v
	}
	if v := os.Getenv("CIVITAI_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse CIVITAI_WORKERS: %w", err)
		}
		c.Workers = n
	}
	if v := os.Getenv("CIVITAI_CHUNK_SIZE"); v != "" {
		size, err := progress.ParseBytes(v)
		if err != nil {
			return fmt.Errorf("parse CIVITAI_CHUNK_SIZE: %w", err)
		}
		c.ChunkSize = size
	}
	if v := os.Getenv("CIVITAI_BANDWIDTH_LIMIT"); v != "" {
		limit, err := progress.ParseBytes(v)
		if err != nil {
			return fmt.Errorf("parse CIVITAI_BANDWIDTH_LIMIT: %w", err)
		}
		c.BandwidthLimit = limit
	}
	if v := os.Getenv("CIVITAI_PROGRESS"); v != "" {
		c.Progress = v == "true" || v == "1"
	}
	if v := os.Getenv("CIVITAI_RETRY_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse CIVITAI_RETRY_ATTEMPTS: %w", err)
		}
		c.Retry.Attempts = n
	}
	if v := os.Getenv("CIVITAI_RETRY_BACKOFF"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse CIVITAI_RETRY_BACKOFF: %w", err)
		}
		c.Retry.Backoff = d
	}
	if v := os.Getenv("CIVITAI_RETRY_MAX_BACKOFF"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse CIVITAI_RETRY_MAX_BACKOFF: %w", err)
		}
		c.Retry.MaxBackoff = d
	}

	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.DownloadDir == "" {
		return errors.New("config: download_dir is required")
	}
	if c.Workers <= 0 {
		return errors.New("config: workers must be positive")
	}
	if c.ChunkSize <= 0 {
		return errors.New("config: chunk_size must be positive")
	}
	if c.BandwidthLimit < 0 {
		return errors.New("config: bandwidth_limit must not be negative")
	}
	if c.Retry.Attempts < 0 {
		return errors.New("config: retry.attempts must not be negative")
	}
	return nil
}

// Merge merges override values into c, returning a new Config.
// Zero values in override are ignored.
func (c Config) Merge(override Config) Config {
	if override.APIKey != "" {
		c.APIKey = override.APIKey
	}
	if override.DownloadDir != "" {
		c.DownloadDir = override.DownloadDir
	}
	if override.Workers != 0 {
		c.Workers = override.Workers
	}
	if override.ChunkSize != 0 {
		c.ChunkSize = override.ChunkSize
	}
	if override.BandwidthLimit != 0 {
		c.BandwidthLimit = override.BandwidthLimit
	}
	if override.Progress {
		c.Progress = override.Progress
	}
	if override.Retry.Attempts != 0 {
		c.Retry.Attempts = override.Retry.Attempts
	}
	if override.Retry.Backoff != 0 {
		c.Retry.Backoff = override.Retry.Backoff
	}
	if override.Retry.MaxBackoff != 0 {
		c.Retry.MaxBackoff = override.Retry.MaxBackoff
	}
	return c
}
