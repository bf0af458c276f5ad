// Package config loads the pipeline's JSON configuration file, in the
// defaults-then-validate shape the teacher repo uses for its own config.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Config is the top-level pipeline configuration.
type Config struct {
	Database DatabaseConfig `json:"database"`
	Catalog  CatalogConfig  `json:"catalog"`
	Parser   ParserConfig   `json:"parser"`
	Logging  LoggingConfig  `json:"logging"`
}

// DatabaseConfig configures the single SQLite catalog file.
type DatabaseConfig struct {
	Path          string `json:"path"`
	EnableWAL     bool   `json:"enable_wal"`
	CacheSize     int    `json:"cache_size"`
	BusyTimeoutMs int    `json:"busy_timeout_ms"`
}

// CatalogConfig holds catalog-wide knobs, including pool sizing reused
// directly from the teacher's CatalogConfig.
type CatalogConfig struct {
	ThumbnailDir       string `json:"thumbnail_dir"`
	MaxConcurrentScans int    `json:"max_concurrent_scans"`
	ScannerConcurrency int    `json:"scanner_concurrency"`
}

// ParserConfig configures the per-service worker pools. MaxQueuedPerPool
// bounds each pool's queue. ProberThreads and ThumbnailThreads are
// validated but not read by the pools, whose worker counts come from each
// service's NbThreads.
type ParserConfig struct {
	ProberThreads    int `json:"prober_threads"`
	ThumbnailThreads int `json:"thumbnail_threads"`
	MaxQueuedPerPool int `json:"max_queued_per_pool"` // 0 = unbounded
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// LoadConfig loads configuration from configPath, creating a default file
// when none exists, matching the teacher's config/config.go behavior.
func LoadConfig(configPath string) (*Config, error) {
	cfg := defaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := saveConfig(cfg, configPath); err != nil {
			return nil, fmt.Errorf("create default config: %w", err)
		}
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:          "./catalog.db",
			EnableWAL:     true,
			CacheSize:     -2000,
			BusyTimeoutMs: 5000,
		},
		Catalog: CatalogConfig{
			ThumbnailDir:       "./thumbnails",
			MaxConcurrentScans: 3,
			ScannerConcurrency: 4,
		},
		Parser: ParserConfig{
			ProberThreads:    1,
			ThumbnailThreads: 1,
			MaxQueuedPerPool: 0,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

func validateConfig(cfg *Config) error {
	if cfg.Database.Path == "" {
		return fmt.Errorf("database path cannot be empty")
	}
	if cfg.Parser.ProberThreads <= 0 {
		return fmt.Errorf("parser.prober_threads must be positive")
	}
	if cfg.Parser.ThumbnailThreads <= 0 {
		return fmt.Errorf("parser.thumbnail_threads must be positive")
	}
	if cfg.Parser.MaxQueuedPerPool < 0 {
		return fmt.Errorf("parser.max_queued_per_pool cannot be negative")
	}
	return nil
}

func saveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(configPath, data, 0600)
}
