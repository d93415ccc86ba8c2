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

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "info", cfg.LogLevel)

	assert.Equal(t, 300, cfg.Cache.TTL)
	assert.Equal(t, 600, cfg.Cache.ReadTTL)
	assert.Equal(t, 60, cfg.Cache.CriticalTTL)

	assert.Equal(t, 10, cfg.Warmup.Threshold)
	assert.Equal(t, 3600, cfg.Warmup.Window)
	assert.Equal(t, 50, cfg.Warmup.BatchSize)

	assert.Equal(t, 24, cfg.Matrix.ExpiryHours)
	assert.Equal(t, 100, cfg.Matrix.BatchSize)
	assert.Equal(t, 100, cfg.Matrix.HighPriorityThreshold)

	assert.Equal(t, 100*time.Millisecond, cfg.Check.Timeout())
	assert.Equal(t, 30*time.Second, cfg.Check.BatchTimeout())
	assert.Equal(t, 100, cfg.Check.BatchMaxSize)

	assert.Equal(t, 5, cfg.Breakers.Database.FailureThreshold)
	assert.Equal(t, 30*time.Second, cfg.Breakers.Cache.ResetTimeout)
	assert.Equal(t, 3, cfg.Breakers.Matrix.HalfOpenMaxAttempts)

	assert.Equal(t, 8, cfg.Invalidation.Workers)
	assert.True(t, cfg.Scheduler.Enabled)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("REDIS_HOST", "cache.internal")
	t.Setenv("REDIS_PORT", "6380")
	t.Setenv("CACHE_TTL", "120")
	t.Setenv("MATRIX_EXPIRY_HOURS", "12")
	t.Setenv("CHECK_TIMEOUT_MS", "250")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "cache.internal:6380", cfg.Redis.Addr())
	assert.Equal(t, 120, cfg.Cache.TTL)
	assert.Equal(t, 12, cfg.Matrix.ExpiryHours)
	assert.Equal(t, 250*time.Millisecond, cfg.Check.Timeout())
}

func TestDatabaseDSN(t *testing.T) {
	d := DatabaseConfig{Host: "db", Port: 5432, User: "authz", Password: "s3cret", DBName: "authz", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=authz password=s3cret dbname=authz sslmode=disable", d.DSN())

	d.URL = "postgres://u:p@db:5432/authz"
	assert.Equal(t, "postgres://u:p@db:5432/authz", d.DSN())
}

func TestValidateConfigRejects(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	cfg.Check.BatchMaxSize = 5000
	assert.Error(t, validateConfig(cfg))

	cfg.Check.BatchMaxSize = 100
	cfg.LogLevel = "verbose"
	assert.Error(t, validateConfig(cfg))
}
