package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, "https://rostender.info", cfg.Crawler.BaseURL)
	require.Equal(t, "/extsearch", cfg.Crawler.ListingPath)
	require.Equal(t, 20, cfg.Crawler.PageSize)
	require.Equal(t, 10, cfg.Crawler.DefaultTargetCount)
	require.Equal(t, "Mozilla/5.0 (Windows NT 10.0; Win64; x64)", cfg.Crawler.UserAgent)
	require.Equal(t, 3, cfg.HTTP.MaxAttempts)
	require.Equal(t, 2*time.Second, cfg.RetryDelay())
	require.Equal(t, 15*time.Second, cfg.FetchTimeout())
	require.Equal(t, "memory", cfg.Queue.Backend)
	require.Equal(t, "memory", cfg.JobStore.Backend)
	require.Equal(t, "local", cfg.Storage.Backend)
	require.Equal(t, "tenders.csv", cfg.Output.File)
	require.Equal(t, 24*time.Hour, cfg.JobTTL())
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  port: 9090
crawler:
  default_target_count: 40
queue:
  backend: kafka
  kafka:
    broker: localhost:9092
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, 40, cfg.Crawler.DefaultTargetCount)
	require.Equal(t, "kafka", cfg.Queue.Backend)
	require.Equal(t, "localhost:9092", cfg.Queue.Kafka.Broker)
	// Unset keys keep their defaults.
	require.Equal(t, 20, cfg.Crawler.PageSize)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	base, err := Load("")
	require.NoError(t, err)

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero port", func(c *Config) { c.Server.Port = 0 }},
		{"empty base url", func(c *Config) { c.Crawler.BaseURL = "" }},
		{"zero page size", func(c *Config) { c.Crawler.PageSize = 0 }},
		{"zero concurrency", func(c *Config) { c.Crawler.Concurrency = 0 }},
		{"zero attempts", func(c *Config) { c.HTTP.MaxAttempts = 0 }},
		{"kafka without broker", func(c *Config) { c.Queue.Backend = "kafka" }},
		{"redis without addr", func(c *Config) { c.JobStore.Backend = "redis" }},
		{"gcs without bucket", func(c *Config) { c.Storage.Backend = "gcs" }},
		{"auth without key", func(c *Config) { c.Auth.Enabled = true }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tc.mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}
}
