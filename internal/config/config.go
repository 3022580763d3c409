// Package config provides unified configuration for all Lumen services.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Mode represents the service mode to run.
type Mode string

const (
	ModeAll     Mode = "all"
	ModeServe   Mode = "serve"
	ModeIndex   Mode = "index"
	ModeJanitor Mode = "janitor"
)

// Config holds the unified configuration for all Lumen services.
type Config struct {
	// Mode specifies which services to run: all, serve, index, janitor
	Mode Mode `json:"mode" yaml:"mode"`

	// DataDir is the base directory for all data files
	DataDir string `json:"data_dir" yaml:"data_dir"`

	// HTTP configuration
	HTTP HTTPConfig `json:"http" yaml:"http"`

	// Bundles service configuration
	Bundles BundlesConfig `json:"bundles" yaml:"bundles"`

	// Metrics expression builder configuration
	Metrics MetricsConfig `json:"metrics" yaml:"metrics"`

	// Storage configuration
	Storage StorageConfig `json:"storage" yaml:"storage"`
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	// Addr is the HTTP server address
	Addr string `json:"addr" yaml:"addr"`

	// ReadTimeout is the HTTP read timeout
	ReadTimeout time.Duration `json:"read_timeout" yaml:"read_timeout"`

	// WriteTimeout is the HTTP write timeout
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`

	// IdleTimeout is the HTTP idle timeout
	IdleTimeout time.Duration `json:"idle_timeout" yaml:"idle_timeout"`

	// MaxUploadSizeMB caps bundle upload bodies in megabytes (1–2048, default 512)
	MaxUploadSizeMB int `json:"max_upload_size_mb" yaml:"max_upload_size_mb"`
}

// BundlesConfig holds bundle catalog and indexing configuration.
type BundlesConfig struct {
	// WorkDir is the directory for temporary archive downloads
	WorkDir string `json:"work_dir" yaml:"work_dir"`

	// CacheDir is the directory for the local archive cache
	CacheDir string `json:"cache_dir" yaml:"cache_dir"`

	// CacheMaxMB caps the archive cache size in megabytes; 0 disables caching
	CacheMaxMB int `json:"cache_max_mb" yaml:"cache_max_mb"`

	// TTLDays is the days an unrenewed bundle survives before deletion
	TTLDays int `json:"ttl_days" yaml:"ttl_days"`

	// JanitorInterval is the interval between expiry sweeps
	JanitorInterval time.Duration `json:"janitor_interval" yaml:"janitor_interval"`
}

// MetricsConfig holds configuration for the expression builder.
type MetricsConfig struct {
	// TagValuesAreStrings selects the null transaction-name representation:
	// the empty string when true, the integer 0 when false
	TagValuesAreStrings bool `json:"tag_values_are_strings" yaml:"tag_values_are_strings"`
}

// StorageConfig holds storage configuration.
type StorageConfig struct {
	// Type is the storage type: local, s3
	Type string `json:"type" yaml:"type"`

	// Path is the local storage path (for local type)
	Path string `json:"path" yaml:"path"`

	// S3 configuration (for s3 type)
	S3 S3Config `json:"s3" yaml:"s3"`
}

// S3Config holds S3 storage configuration.
type S3Config struct {
	// Bucket is the S3 bucket name
	Bucket string `json:"bucket" yaml:"bucket"`

	// Region is the AWS region
	Region string `json:"region" yaml:"region"`

	// Endpoint is the S3 endpoint (for S3-compatible storage)
	Endpoint string `json:"endpoint" yaml:"endpoint"`

	// UsePathStyle forces path-style addressing (for S3-compatible storage)
	UsePathStyle bool `json:"use_path_style" yaml:"use_path_style"`
}

// DefaultConfig returns the default configuration for local development.
func DefaultConfig() *Config {
	return &Config{
		Mode:    ModeAll,
		DataDir: "./data/lumen",
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			IdleTimeout:     120 * time.Second,
			MaxUploadSizeMB: 512,
		},
		Bundles: BundlesConfig{
			WorkDir:         "",
			CacheDir:        "",
			CacheMaxMB:      1024,
			TTLDays:         30,
			JanitorInterval: 1 * time.Hour,
		},
		Metrics: MetricsConfig{
			TagValuesAreStrings: false,
		},
		Storage: StorageConfig{
			Type: "local",
			Path: "",
		},
	}
}

// Resolve resolves relative paths and sets defaults based on DataDir.
func (c *Config) Resolve() {
	if c.DataDir == "" {
		c.DataDir = "./data/lumen"
	}

	if c.Storage.Path == "" {
		c.Storage.Path = filepath.Join(c.DataDir, "storage")
	}

	if c.Bundles.WorkDir == "" {
		c.Bundles.WorkDir = filepath.Join(c.DataDir, "work")
	}

	if c.Bundles.CacheDir == "" {
		c.Bundles.CacheDir = filepath.Join(c.DataDir, "cache")
	}
}

// CatalogPath returns the path to the bundle catalog database.
func (c *Config) CatalogPath() string {
	return filepath.Join(c.DataDir, "catalog.db")
}

// ThresholdsPath returns the path to the threshold configuration database.
func (c *Config) ThresholdsPath() string {
	return filepath.Join(c.DataDir, "thresholds.db")
}

// IndexerPath returns the path to the metric string indexer database.
func (c *Config) IndexerPath() string {
	return filepath.Join(c.DataDir, "indexer.db")
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeAll, ModeServe, ModeIndex, ModeJanitor:
		// Valid modes
	default:
		return fmt.Errorf("invalid mode: %s (must be all, serve, index, or janitor)", c.Mode)
	}

	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}

	if c.Storage.Type != "local" && c.Storage.Type != "s3" {
		return fmt.Errorf("invalid storage type: %s (must be local or s3)", c.Storage.Type)
	}

	if c.Storage.Type == "s3" && c.Storage.S3.Bucket == "" {
		return fmt.Errorf("s3.bucket is required when storage type is s3")
	}

	if c.HTTP.MaxUploadSizeMB < 1 || c.HTTP.MaxUploadSizeMB > 2048 {
		return fmt.Errorf("http.max_upload_size_mb must be between 1 and 2048, got %d", c.HTTP.MaxUploadSizeMB)
	}

	if c.Bundles.TTLDays < 1 {
		return fmt.Errorf("bundles.ttl_days must be at least 1, got %d", c.Bundles.TTLDays)
	}

	if c.Bundles.CacheMaxMB < 0 {
		return fmt.Errorf("bundles.cache_max_mb must not be negative, got %d", c.Bundles.CacheMaxMB)
	}

	return nil
}

// ShouldRunServe returns true if the HTTP API should run.
func (c *Config) ShouldRunServe() bool {
	return c.Mode == ModeAll || c.Mode == ModeServe
}

// ShouldRunIndex returns true if the indexing pipeline should run.
func (c *Config) ShouldRunIndex() bool {
	return c.Mode == ModeAll || c.Mode == ModeIndex
}

// ShouldRunJanitor returns true if the expiry janitor should run.
func (c *Config) ShouldRunJanitor() bool {
	return c.Mode == ModeAll || c.Mode == ModeJanitor
}

// LoadFromFile loads configuration from a YAML or JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the LUMEN_ prefix.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("LUMEN_MODE"); v != "" {
		cfg.Mode = Mode(v)
	}
	if v := os.Getenv("LUMEN_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}

	// HTTP configuration
	if v := os.Getenv("LUMEN_HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}
	if v := os.Getenv("LUMEN_HTTP_MAX_UPLOAD_SIZE_MB"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.HTTP.MaxUploadSizeMB)
	}

	// Bundles configuration
	if v := os.Getenv("LUMEN_BUNDLES_TTL_DAYS"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Bundles.TTLDays)
	}
	if v := os.Getenv("LUMEN_BUNDLES_CACHE_MAX_MB"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Bundles.CacheMaxMB)
	}
	if v := os.Getenv("LUMEN_BUNDLES_JANITOR_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Bundles.JanitorInterval = d
		}
	}

	// Metrics configuration
	if v := os.Getenv("LUMEN_METRICS_TAG_VALUES_ARE_STRINGS"); v != "" {
		cfg.Metrics.TagValuesAreStrings = v == "true" || v == "1"
	}

	// Storage configuration
	if v := os.Getenv("LUMEN_STORAGE_TYPE"); v != "" {
		cfg.Storage.Type = v
	}
	if v := os.Getenv("LUMEN_STORAGE_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("LUMEN_S3_BUCKET"); v != "" {
		cfg.Storage.S3.Bucket = v
	}
	if v := os.Getenv("LUMEN_S3_REGION"); v != "" {
		cfg.Storage.S3.Region = v
	}
	if v := os.Getenv("LUMEN_S3_ENDPOINT"); v != "" {
		cfg.Storage.S3.Endpoint = v
	}
}

// EnsureDirectories creates all required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.DataDir,
		c.Storage.Path,
		c.Bundles.WorkDir,
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}
