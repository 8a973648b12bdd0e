package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 8000, cfg.Server.Port)
	require.Equal(t, DriverSQLite, cfg.Database.Driver)
	require.Equal(t, 3, cfg.Retention.KeepDays)
	require.Equal(t, 5, cfg.Retention.KeepSessions)
	require.Equal(t, 800, cfg.Render.Width)
	require.Equal(t, 400, cfg.Render.Height)
	require.Equal(t, 100, cfg.Render.MaxWords)
	require.EqualValues(t, 42, cfg.Render.Seed)
	require.Equal(t, "id", cfg.Normalize.Language)
	require.Equal(t, 60*time.Second, cfg.RequestTimeout())
	require.Zero(t, cfg.RetentionInterval())
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
auth:
  enabled: true
  api_key: secret
database:
  driver: postgres
  dsn: postgres://localhost/reviews
scraper:
  timeout_seconds: 10
  max_count: 200
normalize:
  language: session
retention:
  keep_days: 7
  keep_sessions: 2
  interval_minutes: 15
cache:
  backend: local
  base_dir: /tmp/render
logging:
  development: false
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 9090, cfg.Server.Port)
	require.True(t, cfg.Auth.Enabled)
	require.Equal(t, DriverPostgres, cfg.Database.Driver)
	require.Equal(t, 10*time.Second, cfg.ScraperTimeout())
	require.Equal(t, 200, cfg.Scraper.MaxCount)
	require.Equal(t, "session", cfg.Normalize.Language)
	require.Equal(t, 15*time.Minute, cfg.RetentionInterval())
	require.Equal(t, CacheLocal, cfg.Cache.Backend)
	require.False(t, cfg.Logging.Development)
	require.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	base, err := Load("")
	require.NoError(t, err)

	cases := map[string]func(*Config){
		"port":          func(c *Config) { c.Server.Port = 0 },
		"auth key":      func(c *Config) { c.Auth.Enabled = true },
		"driver":        func(c *Config) { c.Database.Driver = "mysql" },
		"postgres dsn":  func(c *Config) { c.Database.Driver = DriverPostgres },
		"retention":     func(c *Config) { c.Retention.KeepDays = -1 },
		"render":        func(c *Config) { c.Render.MaxWords = 0 },
		"cache backend": func(c *Config) { c.Cache.Backend = "redis" },
		"gcs bucket":    func(c *Config) { c.Cache.Backend = CacheGCS },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}
}
