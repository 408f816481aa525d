package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("BROKER", "")
	t.Setenv("OPTION_STRIKE_STEPS", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "paper", cfg.Broker)
	assert.Equal(t, 30*time.Second, cfg.PriceMonitorInterval)
	assert.Equal(t, []float64{5, 2.5}, cfg.OptionStrikeSteps)
	assert.Equal(t, 35, cfg.OptionTargetDays)
	assert.InDelta(t, 0.90, cfg.OptionStrikeMinPct, 1e-9)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("BROKER", "ALPACA")
	t.Setenv("PRICE_MONITOR_INTERVAL", "15")
	t.Setenv("STATUS_SYNC_INTERVAL", "1m")
	t.Setenv("OPTION_STRIKE_STEPS", "10, 1, bad, -2")
	t.Setenv("MAX_PARALLEL_BOTS", "3")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "alpaca", cfg.Broker)
	assert.Equal(t, 15*time.Second, cfg.PriceMonitorInterval)
	assert.Equal(t, time.Minute, cfg.StatusSyncInterval)
	assert.Equal(t, []float64{10, 1}, cfg.OptionStrikeSteps)
	assert.Equal(t, 3, cfg.MaxParallelBots)
}
