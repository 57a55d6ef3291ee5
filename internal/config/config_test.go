package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("APP_ENV", "")
	t.Setenv("POLL_INTERVAL", "")

	cfg, err := Load()
	require.NoError(t, err)
	require.False(t, cfg.Production)
	require.Equal(t, 30*time.Second, cfg.PollInterval)
	require.Equal(t, 100, cfg.MaxRecords)
	require.Equal(t, "sportlens", cfg.StoreNamespace)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("POLL_INTERVAL", "5s")
	t.Setenv("STORE_MEDIUM", "REDIS")

	cfg, err := Load()
	require.NoError(t, err)
	require.True(t, cfg.Production)
	require.Equal(t, 5*time.Second, cfg.PollInterval)
	require.Equal(t, "redis", cfg.StoreMedium)
	require.Equal(t, "production", cfg.LogMode)
}
