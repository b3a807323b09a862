package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultMatchesSpecDefaults(t *testing.T) {
	cfg := Default()

	require.Equal(t, 30*time.Second, cfg.BlockTimeout)
	require.Equal(t, 30*time.Second, cfg.DHTQueryTimeout)
	require.Equal(t, 24*time.Hour, cfg.IPNSLifetime)
	require.Equal(t, 4*time.Hour, cfg.IPNSRepublishInterval)
}

func TestWithIPNSRepublishIntervalOverridesDefault(t *testing.T) {
	cfg := New(WithIPNSRepublishInterval(time.Hour))
	require.Equal(t, time.Hour, cfg.IPNSRepublishInterval)
}
