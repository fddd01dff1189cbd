package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chartfeed/internal/model"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chartfeed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("ALPACA_API_KEY", "")
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 300*time.Millisecond, cfg.Feed.Throttle)
	assert.Equal(t, time.Second, cfg.Feed.InitialBackoff)
	assert.Equal(t, 30*time.Second, cfg.Feed.MaxBackoff)
	assert.Equal(t, 5*time.Minute, cfg.History.CacheTTL)
	assert.Equal(t, 200*time.Millisecond, cfg.Sync.Interval)
	assert.Equal(t, model.TF1Min, cfg.Timeframe())
	assert.Equal(t, 500, cfg.History.Limit)
	assert.False(t, cfg.Redis.Enabled)
	assert.Nil(t, cfg.Credentials())
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, `
user_id: alice
log_level: debug
feed:
  throttle: 500ms
history:
  timeframe: 5Min
  limit: 200
redis:
  enabled: true
  addr: redis:6379
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "alice", cfg.UserID)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 500*time.Millisecond, cfg.Feed.Throttle)
	assert.Equal(t, model.TF5Min, cfg.Timeframe())
	assert.Equal(t, 200, cfg.History.Limit)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	// untouched defaults survive
	assert.Equal(t, 30*time.Second, cfg.Feed.MaxBackoff)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ALPACA_API_KEY", "k")
	t.Setenv("ALPACA_API_SECRET", "s")
	t.Setenv("REDIS_ADDR", "10.0.0.1:6379")
	t.Setenv("SQLITE_PATH", "/tmp/x.db")
	t.Setenv("CHARTFEED_SYNC_INTERVAL", "1s")
	t.Setenv("CHARTFEED_LIMIT", "50")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, &model.Credentials{APIKey: "k", APISecret: "s"}, cfg.Credentials())
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "10.0.0.1:6379", cfg.Redis.Addr)
	assert.Equal(t, "/tmp/x.db", cfg.SQLite.Path)
	assert.Equal(t, time.Second, cfg.Sync.Interval)
	assert.Equal(t, 50, cfg.History.Limit)
}

func TestValidationErrors(t *testing.T) {
	tests := []struct {
		name  string
		yaml  string
		field string
	}{
		{"bad timeframe", "history:\n  timeframe: 2Min\n", "Timeframe"},
		{"throttle too low", "feed:\n  throttle: 10ms\n", "Throttle"},
		{"max below initial", "feed:\n  initial_backoff: 5s\n  max_backoff: 1s\n", "MaxBackoff"},
		{"bad level", "log_level: loud\n", "LogLevel"},
		{"zero limit", "history:\n  limit: 0\n", "Limit"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, tt.yaml))
			var cerr *model.ConfigError
			require.True(t, errors.As(err, &cerr), "got %v", err)
			assert.Contains(t, cerr.Field, tt.field)
			assert.False(t, cerr.IsRetriable())
		})
	}
}

func TestBadEnvDuration(t *testing.T) {
	t.Setenv("CHARTFEED_THROTTLE", "fast")
	_, err := Load("")
	var cerr *model.ConfigError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "CHARTFEED_THROTTLE", cerr.Field)
}
