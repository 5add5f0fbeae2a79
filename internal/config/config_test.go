package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv(ConfigFileEnv, "")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, TransportRedis, cfg.QueueTransport)
	assert.Equal(t, "docscan:jobs", cfg.QueueName)
	assert.Equal(t, 30*time.Second, cfg.PrimaryTimeout())
	assert.Equal(t, 60*time.Second, cfg.FallbackTimeout())
	assert.Equal(t, 3*time.Minute, cfg.ProcessingTimeout())
	assert.False(t, cfg.SemanticSearchEnabled())
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv(ConfigFileEnv, "")
	t.Setenv("QUEUE_TRANSPORT", "asynq")
	t.Setenv("WORKER_CONCURRENCY", "8")
	t.Setenv("OCR_FALLBACK_TIMEOUT_MS", "0")
	t.Setenv("JPEG_COMPRESS", "0.5")
	t.Setenv("OCR_LOCAL_TESSERACT", "true")
	t.Setenv("QDRANT_URL", "localhost:6334")
	t.Setenv("VOYAGE_API_KEY", "key")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, TransportAsynq, cfg.QueueTransport)
	assert.Equal(t, 8, cfg.WorkerConcurrency)
	assert.Equal(t, time.Duration(0), cfg.FallbackTimeout())
	assert.Equal(t, 0.5, cfg.JPEGCompress)
	assert.True(t, cfg.LocalTesseract)
	assert.True(t, cfg.SemanticSearchEnabled())
}

func TestLoadConfig_YAMLOverlayThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docscan.yaml")
	yaml := "queue_name: scans:test\nworker_concurrency: 12\ntarget_width: 800\n"
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	t.Setenv(ConfigFileEnv, path)
	t.Setenv("WORKER_CONCURRENCY", "2")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "scans:test", cfg.QueueName)
	assert.Equal(t, 800, cfg.TargetWidth)
	assert.Equal(t, 2, cfg.WorkerConcurrency, "environment wins over the file")
	assert.Equal(t, "eng", cfg.TesseractLanguage, "unset keys keep defaults")
}

func TestLoadConfig_Errors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		t.Setenv(ConfigFileEnv, filepath.Join(t.TempDir(), "absent.yaml"))
		_, err := LoadConfig()
		assert.Error(t, err)
	})

	t.Run("bad integer", func(t *testing.T) {
		t.Setenv(ConfigFileEnv, "")
		t.Setenv("TARGET_WIDTH", "wide")
		_, err := LoadConfig()
		assert.ErrorContains(t, err, "TARGET_WIDTH")
	})

	t.Run("bad transport", func(t *testing.T) {
		t.Setenv(ConfigFileEnv, "")
		t.Setenv("QUEUE_TRANSPORT", "sqs")
		_, err := LoadConfig()
		assert.ErrorContains(t, err, "QUEUE_TRANSPORT")
	})
}

func TestValidate(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"concurrency", func(c *Config) { c.WorkerConcurrency = 0 }},
		{"primary timeout", func(c *Config) { c.PrimaryTimeoutMs = 0 }},
		{"fallback timeout", func(c *Config) { c.FallbackTimeoutMs = -1 }},
		{"target width", func(c *Config) { c.TargetWidth = 10 }},
		{"compress", func(c *Config) { c.JPEGCompress = 1.5 }},
		{"file size", func(c *Config) { c.MaxFileSize = 1 }},
		{"redis", func(c *Config) { c.RedisURL = "" }},
		{"temp age", func(c *Config) { c.TempMaxAgeMinutes = 0 }},
		{"image dir is temp dir", func(c *Config) { c.ImageDir = c.TempDir + "/" }},
	}

	require.NoError(t, Default().Validate())
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestRedactURL(t *testing.T) {
	assert.Equal(t, "postgres://scan:***@db:5432/docscan", redactURL("postgres://scan:secret@db:5432/docscan"))
	assert.Equal(t, "redis://localhost:6379", redactURL("redis://localhost:6379"))
	assert.Equal(t, "none", redactURL(""))
}
