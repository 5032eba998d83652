package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "nats://localhost:4222", cfg.NATS.URL)
	assert.Equal(t, "dicom-blobs", cfg.Buckets.Blob.Name)
	assert.True(t, cfg.Retrieve.MetadataCache.Enabled)
	assert.True(t, cfg.Schema.WatchEnabled)
}

func TestLoad_MissingFileDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().NATS.URL, cfg.NATS.URL)
}

func TestLoad_YAMLFile(t *testing.T) {
	content := `
nats:
  url: nats://nats.internal:4222
  client_name: test-engine
ingest:
  lenient: true
  disposal:
    workers: 8
retrieve:
  max_object_size_bytes: 1048576
  metadata_cache:
    enabled: false
logging:
  level: debug
  format: text
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "nats://nats.internal:4222", cfg.NATS.URL)
	assert.Equal(t, "test-engine", cfg.NATS.ClientName)
	assert.True(t, cfg.Ingest.Lenient)
	assert.Equal(t, 8, cfg.Ingest.Disposal.Workers)
	assert.Equal(t, int64(1048576), cfg.Retrieve.MaxObjectSizeBytes)
	assert.False(t, cfg.Retrieve.MetadataCache.Enabled)
	assert.Equal(t, "debug", cfg.Logging.Level)

	// Defaults survive for sections the file does not touch.
	assert.Equal(t, "dicom-index", cfg.Buckets.Index.Name)
	assert.Equal(t, 2*time.Second, cfg.NATS.ReconnectWait)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("nats: ["), 0o600))

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("DICOM_NATS_URL", "nats://override:4222")
	t.Setenv("DICOM_METRICS_PORT", "9191")
	t.Setenv("DICOM_LOG_LEVEL", "warn")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "nats://override:4222", cfg.NATS.URL)
	assert.Equal(t, 9191, cfg.Metrics.Port)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing nats url", func(c *Config) { c.NATS.URL = "" }},
		{"missing blob bucket", func(c *Config) { c.Buckets.Blob.Name = "" }},
		{"duplicate bucket names", func(c *Config) { c.Buckets.Index.Name = c.Buckets.Blob.Name }},
		{"negative max object size", func(c *Config) { c.Retrieve.MaxObjectSizeBytes = -1 }},
		{"negative disposal workers", func(c *Config) { c.Ingest.Disposal.Workers = -1 }},
		{"missing schema key", func(c *Config) { c.Schema.ActiveVersionKey = "" }},
		{"metrics port out of range", func(c *Config) { c.Metrics.Port = 70000 }},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestNewLogger(t *testing.T) {
	for _, cfg := range []LoggingConfig{
		{Level: "debug", Format: "text"},
		{Level: "info", Format: "json"},
		{Level: "error", Format: "json"},
	} {
		logger := cfg.NewLogger()
		require.NotNil(t, logger)
	}
}
