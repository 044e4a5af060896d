package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWhenMissing(t *testing.T) {
	t.Setenv("CHATFEED_CONFIG_DIR", t.TempDir())
	t.Setenv("CHATFEED_SOURCE_DB", "/tmp/fixture/chat.db")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "/tmp/fixture/chat.db", cfg.Source.ChatDBPath)
	require.Equal(t, DefaultBatchSize, cfg.Polling.BatchSize)
	require.Equal(t, time.Duration(DefaultPollIntervalSeconds)*time.Second, cfg.PollInterval())
	require.Equal(t, time.Duration(DefaultSnapshotTTLSeconds)*time.Second, cfg.SnapshotTTL())
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("CHATFEED_CONFIG_DIR", dir)

	yaml := `
source:
  chat_db: /var/db/chat.db
polling:
  interval_seconds: 30
  batch_size: 250
snapshot:
  cache_ttl_seconds: 120
metrics:
  listen: ":9464"
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "/var/db/chat.db", cfg.Source.ChatDBPath)
	require.Equal(t, 250, cfg.Polling.BatchSize)
	require.Equal(t, 30*time.Second, cfg.PollInterval())
	require.Equal(t, 2*time.Minute, cfg.SnapshotTTL())
	require.Equal(t, ":9464", cfg.Metrics.Listen)
}

func TestSave_RoundTrip(t *testing.T) {
	t.Setenv("CHATFEED_CONFIG_DIR", t.TempDir())
	t.Setenv("CHATFEED_SOURCE_DB", "/tmp/fixture/chat.db")

	cfg, err := Load()
	require.NoError(t, err)
	cfg.Polling.BatchSize = 42
	require.NoError(t, cfg.Save())

	again, err := Load()
	require.NoError(t, err)
	require.Equal(t, 42, again.Polling.BatchSize)
	require.Equal(t, "/tmp/fixture/chat.db", again.Source.ChatDBPath)
}

func TestGetDataDir_Override(t *testing.T) {
	t.Setenv("CHATFEED_DATA_DIR", "/custom/data")
	dir, err := GetDataDir()
	require.NoError(t, err)
	require.Equal(t, "/custom/data", dir)
}
