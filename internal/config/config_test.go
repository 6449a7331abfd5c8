package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("STORE_TIMEOUT", "")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "8080", cfg.Port)
	require.Equal(t, 5*time.Second, cfg.StoreTimeout)
	require.Equal(t, 24*time.Hour, cfg.TokenTTL)
	require.True(t, cfg.AllowRegistration)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("STORE_TIMEOUT", "750ms")
	t.Setenv("ALLOW_REGISTRATION", "false")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "9090", cfg.Port)
	require.Equal(t, 750*time.Millisecond, cfg.StoreTimeout)
	require.False(t, cfg.AllowRegistration)
}
