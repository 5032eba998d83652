// Package config loads and validates the engine configuration from a
// YAML file with environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sroyama/dicom-server/pkg/cache"
)

// Config represents the complete engine configuration
type Config struct {
	NATS     NATSConfig     `json:"nats" yaml:"nats"`
	Buckets  BucketsConfig  `json:"buckets" yaml:"buckets"`
	Ingest   IngestConfig   `json:"ingest" yaml:"ingest"`
	Retrieve RetrieveConfig `json:"retrieve" yaml:"retrieve"`
	Schema   SchemaConfig   `json:"schema" yaml:"schema"`
	Metrics  MetricsConfig  `json:"metrics" yaml:"metrics"`
	Logging  LoggingConfig  `json:"logging" yaml:"logging"`
}

// NATSConfig defines NATS connection settings
type NATSConfig struct {
	URL           string        `json:"url" yaml:"url"`
	MaxReconnects int           `json:"max_reconnects" yaml:"max_reconnects"`
	ReconnectWait time.Duration `json:"reconnect_wait" yaml:"reconnect_wait"`
	Timeout       time.Duration `json:"timeout" yaml:"timeout"`
	Username      string        `json:"username,omitempty" yaml:"username,omitempty"`
	Password      string        `json:"password,omitempty" yaml:"password,omitempty"`
	Token         string        `json:"token,omitempty" yaml:"token,omitempty"`
	ClientName    string        `json:"client_name" yaml:"client_name"`
}

// BucketConfig defines configuration for a single JetStream bucket
type BucketConfig struct {
	Name     string `json:"name" yaml:"name"`
	MaxBytes int64  `json:"max_bytes,omitempty" yaml:"max_bytes,omitempty"`
	Replicas int    `json:"replicas,omitempty" yaml:"replicas,omitempty"`
	History  int    `json:"history,omitempty" yaml:"history,omitempty"`
}

// BucketsConfig names the engine's persistent buckets. Blob is an object
// store bucket, Index and Control are KV buckets.
type BucketsConfig struct {
	Blob    BucketConfig `json:"blob" yaml:"blob"`
	Index   BucketConfig `json:"index" yaml:"index"`
	Control BucketConfig `json:"control" yaml:"control"`
}

// IngestConfig configures the instance ingestion pipeline
type IngestConfig struct {
	// Lenient drops invalid non-core attributes instead of rejecting the
	// entry.
	Lenient bool `json:"lenient" yaml:"lenient"`

	// MaxEntrySizeBytes rejects entries whose payload exceeds this size.
	// 0 means unlimited.
	MaxEntrySizeBytes int64 `json:"max_entry_size_bytes" yaml:"max_entry_size_bytes"`

	Disposal DisposalConfig `json:"disposal" yaml:"disposal"`
}

// DisposalConfig configures the background cleanup worker pool
type DisposalConfig struct {
	Workers     int           `json:"workers" yaml:"workers"`
	QueueSize   int           `json:"queue_size" yaml:"queue_size"`
	StopTimeout time.Duration `json:"stop_timeout" yaml:"stop_timeout"`
}

// RetrieveConfig configures the retrieval pipeline
type RetrieveConfig struct {
	// MaxObjectSizeBytes rejects single-object transcoded retrieval when
	// the stored object exceeds this size. 0 means unlimited.
	MaxObjectSizeBytes int64 `json:"max_object_size_bytes" yaml:"max_object_size_bytes"`

	MetadataCache   cache.Config `json:"metadata_cache" yaml:"metadata_cache"`
	FrameRangeCache cache.Config `json:"frame_range_cache" yaml:"frame_range_cache"`
}

// SchemaConfig configures versioned index schema resolution
type SchemaConfig struct {
	// ActiveVersionKey is the control bucket key holding the current
	// schema version.
	ActiveVersionKey string `json:"active_version_key" yaml:"active_version_key"`

	// WatchEnabled re-resolves implementations when the active version
	// changes.
	WatchEnabled bool `json:"watch_enabled" yaml:"watch_enabled"`
}

// MetricsConfig configures the Prometheus scrape endpoint
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Port    int    `json:"port" yaml:"port"`
	Path    string `json:"path" yaml:"path"`
}

// LoggingConfig configures structured logging
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`   // debug, info, warn, error
	Format string `json:"format" yaml:"format"` // json, text
}

// Default returns the default configuration
func Default() *Config {
	return &Config{
		NATS: NATSConfig{
			URL:           "nats://localhost:4222",
			MaxReconnects: -1,
			ReconnectWait: 2 * time.Second,
			Timeout:       5 * time.Second,
			ClientName:    "dicom-server",
		},
		Buckets: BucketsConfig{
			Blob:    BucketConfig{Name: "dicom-blobs"},
			Index:   BucketConfig{Name: "dicom-index", History: 1},
			Control: BucketConfig{Name: "dicom-control", History: 5},
		},
		Ingest: IngestConfig{
			Lenient: false,
			Disposal: DisposalConfig{
				Workers:     4,
				QueueSize:   256,
				StopTimeout: 10 * time.Second,
			},
		},
		Retrieve: RetrieveConfig{
			MaxObjectSizeBytes: 2 << 30, // 2 GiB
			MetadataCache:      cache.DefaultConfig(),
			FrameRangeCache:    cache.DefaultConfig(),
		},
		Schema: SchemaConfig{
			ActiveVersionKey: "schema.active",
			WatchEnabled:     true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
			Path:    "/metrics",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads the configuration from a YAML file, applies environment
// overrides on top, and validates the result. An empty path returns the
// defaults with environment overrides applied.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides overrides selected settings from environment variables
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("DICOM_NATS_URL"); v != "" {
		c.NATS.URL = v
	}
	if v := os.Getenv("DICOM_NATS_USERNAME"); v != "" {
		c.NATS.Username = v
	}
	if v := os.Getenv("DICOM_NATS_PASSWORD"); v != "" {
		c.NATS.Password = v
	}
	if v := os.Getenv("DICOM_NATS_TOKEN"); v != "" {
		c.NATS.Token = v
	}
	if v := os.Getenv("DICOM_METRICS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Metrics.Port = port
		}
	}
	if v := os.Getenv("DICOM_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// Validate checks if the config is valid
func (c *Config) Validate() error {
	if c.NATS.URL == "" {
		return errors.New("nats.url is required")
	}

	if c.Buckets.Blob.Name == "" {
		return errors.New("buckets.blob.name is required")
	}
	if c.Buckets.Index.Name == "" {
		return errors.New("buckets.index.name is required")
	}
	if c.Buckets.Control.Name == "" {
		return errors.New("buckets.control.name is required")
	}
	if c.Buckets.Blob.Name == c.Buckets.Index.Name ||
		c.Buckets.Index.Name == c.Buckets.Control.Name ||
		c.Buckets.Blob.Name == c.Buckets.Control.Name {
		return errors.New("bucket names must be distinct")
	}

	if c.Ingest.MaxEntrySizeBytes < 0 {
		return errors.New("ingest.max_entry_size_bytes cannot be negative")
	}
	if c.Ingest.Disposal.Workers < 0 {
		return errors.New("ingest.disposal.workers cannot be negative")
	}
	if c.Ingest.Disposal.QueueSize < 0 {
		return errors.New("ingest.disposal.queue_size cannot be negative")
	}

	if c.Retrieve.MaxObjectSizeBytes < 0 {
		return errors.New("retrieve.max_object_size_bytes cannot be negative")
	}

	if c.Schema.ActiveVersionKey == "" {
		return errors.New("schema.active_version_key is required")
	}

	if c.Metrics.Enabled {
		if c.Metrics.Port <= 0 || c.Metrics.Port > 65535 {
			return fmt.Errorf("metrics.port %d is out of range", c.Metrics.Port)
		}
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is invalid", c.Logging.Level)
	}

	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("logging.format %q is invalid", c.Logging.Format)
	}

	return nil
}
