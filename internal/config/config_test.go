package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
	assert.Equal(t, []string{"localhost:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "signals", cfg.SignalsTopic)
	assert.Equal(t, 4, cfg.WorkerCount)
	assert.Equal(t, 8001, cfg.Port)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.False(t, cfg.ArchiveEnabled)
	assert.Equal(t, 60*time.Second, cfg.Prefetch.Interval)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("WORKER_COUNT", "8")
	t.Setenv("DEV_MODE", "true")
	t.Setenv("PREFETCH_INTERVAL_SECONDS", "30")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 8, cfg.WorkerCount)
	assert.True(t, cfg.DevMode)
	assert.Equal(t, 30*time.Second, cfg.Prefetch.Interval)
}

func TestLoadIgnoresMalformedNumbers(t *testing.T) {
	t.Setenv("WORKER_COUNT", "lots")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.WorkerCount)
}

func TestValidate(t *testing.T) {
	cfg := &Config{DatabaseURL: "postgres://x", KafkaBrokers: []string{"k:9092"}}
	assert.NoError(t, cfg.Validate())

	assert.Error(t, (&Config{KafkaBrokers: []string{"k:9092"}}).Validate())
	assert.Error(t, (&Config{DatabaseURL: "postgres://x"}).Validate())

	cfg.ArchiveEnabled = true
	assert.Error(t, cfg.Validate())
	cfg.ArchiveBucket = "archive"
	assert.NoError(t, cfg.Validate())
}
