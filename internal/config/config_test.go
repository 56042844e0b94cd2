package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, 30, cfg.RefreshIntervalSeconds)
	assert.Equal(t, 20, cfg.PageSize)
	assert.False(t, cfg.AutoRefresh)
	assert.Equal(t, "/api/vehicle-status/rows", cfg.RowsPath)
	assert.Equal(t, "/api/vehicle-status/stream", cfg.StreamPath)
	assert.True(t, cfg.LiveUpdates)
	assert.Equal(t, 5*time.Second, cfg.LiveRetryInterval)
}

func TestLoadFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vehiclestatus.toml")
	content := `
log_level = "debug"

[server]
http_addr = ":9090"
prune_interval = "2m"
filter_depots = ["CA", "JG"]
redis_db = 3

[console]
api_base_url = "http://status.example:9090"
refresh_interval_seconds = 45
auto_refresh = true
page_size = 50
live_updates = false
live_retry_interval = "20s"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	t.Setenv("PAGE_SIZE", "10")
	t.Setenv("FILTER_DEPOTS", " OF , ,YU")
	t.Setenv("STREAM_PATH", "/live")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, 2*time.Minute, cfg.PruneInterval)
	assert.Equal(t, 3, cfg.RedisDB)
	assert.Equal(t, "http://status.example:9090", cfg.APIBaseURL)
	assert.Equal(t, 45, cfg.RefreshIntervalSeconds)
	assert.True(t, cfg.AutoRefresh)
	assert.Equal(t, 10, cfg.PageSize, "environment wins over the file")
	assert.Equal(t, []string{"OF", "YU"}, cfg.FilterDepots)
	assert.False(t, cfg.LiveUpdates)
	assert.Equal(t, 20*time.Second, cfg.LiveRetryInterval)
	assert.Equal(t, "/live", cfg.StreamPath)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Run("non-positive refresh interval", func(t *testing.T) {
		t.Setenv("REFRESH_INTERVAL_SECONDS", "0")
		_, err := Load("")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "REFRESH_INTERVAL_SECONDS")
	})

	t.Run("unknown log format", func(t *testing.T) {
		t.Setenv("LOG_FORMAT", "xml")
		_, err := Load("")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "LOG_FORMAT")
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
		require.Error(t, err)
	})
}

func TestMalformedEnvKeepsPreviousValue(t *testing.T) {
	t.Setenv("READ_TIMEOUT", "soon")
	t.Setenv("AUTO_REFRESH", "maybe")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, cfg.ReadTimeout)
	assert.False(t, cfg.AutoRefresh)
}
