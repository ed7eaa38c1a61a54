package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terraskye/tabflow/config"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.ShardCount)
	assert.Equal(t, 64, cfg.QueueBuffer)
	assert.Equal(t, uint64(5), cfg.ConflictRetries)
	assert.Equal(t, 64, cfg.BusBuffer)
	assert.Equal(t, 250*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
	assert.Equal(t, "tabflow.events", cfg.RedisChannel)
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("TABFLOW_SHARD_COUNT", "8")
	t.Setenv("TABFLOW_CONFLICT_RETRIES", "0")
	t.Setenv("TABFLOW_POLL_INTERVAL", "1s")
	t.Setenv("TABFLOW_STORE_PATH", "/var/lib/tabflow/events.db")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.ShardCount)
	assert.Equal(t, uint64(0), cfg.ConflictRetries)
	assert.Equal(t, time.Second, cfg.PollInterval)
	assert.Equal(t, "/var/lib/tabflow/events.db", cfg.StorePath)
}

func TestLoad_RejectsMalformedValues(t *testing.T) {
	t.Setenv("TABFLOW_SHARD_COUNT", "many")

	_, err := config.Load()
	assert.Error(t, err)
}
