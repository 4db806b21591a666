package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":7000", cfg.Listen)
	assert.Empty(t, cfg.Etcd.Endpoints)
	assert.Equal(t, uint(30), cfg.SyncIntervalSeconds)
	assert.Equal(t, uint(600), cfg.AntiReplaySeconds)
	assert.Equal(t, 1, cfg.DefaultWeight)
	assert.Equal(t, int64(4<<20), cfg.MaxBodyBytes)
	assert.False(t, cfg.EnableStatistics)
	assert.False(t, cfg.RateLimit.Enabled)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "acorle.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen: ":8080"
etcd:
  endpoints:
    - "10.0.0.1:2379"
    - "10.0.0.2:2379"
sync_interval_seconds: 10
enable_statistics: true
rate_limit:
  enabled: true
  per_second: 50
  burst: 100
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Listen)
	assert.Equal(t, []string{"10.0.0.1:2379", "10.0.0.2:2379"}, cfg.Etcd.Endpoints)
	assert.Equal(t, uint(10), cfg.SyncIntervalSeconds)
	assert.True(t, cfg.EnableStatistics)
	assert.True(t, cfg.RateLimit.Enabled)
	assert.Equal(t, float64(50), cfg.RateLimit.PerSecond)
	assert.Equal(t, 100, cfg.RateLimit.Burst)
	assert.Equal(t, uint(600), cfg.AntiReplaySeconds, "unset keys keep their defaults")
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("ACORLE_LISTEN", ":9999")
	t.Setenv("ACORLE_DEFAULT_WEIGHT", "5")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.Listen)
	assert.Equal(t, 5, cfg.DefaultWeight)
}

func TestLoadMissingExplicitFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
