package risk

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trendline-core/pkg/db"
)

func TestBucketFor(t *testing.T) {
	tests := map[string]string{
		"1m":  Bucket5m,
		"5m":  Bucket5m,
		"10m": Bucket15m,
		"15m": Bucket15m,
		"30m": Bucket1h,
		"1h":  Bucket1h,
		"1D":  Bucket1h,
		"bad": Bucket15m,
		"":    Bucket15m,
	}
	for in, want := range tests {
		assert.Equal(t, want, BucketFor(in), in)
	}
}

func TestManagerForInterval(t *testing.T) {
	ctx := context.Background()
	store, err := db.Open(db.MemoryPath)
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.UpsertRiskConfig(ctx, db.RiskConfiguration{
		Bucket: Bucket15m, SoftStopPct: 1.5, SoftStopMinutes: 10, HardStopPct: 4,
	}))

	m := NewManager(store, 25)
	cfg, err := m.ForInterval(ctx, "15m")
	require.NoError(t, err)
	assert.Equal(t, 1.5, cfg.SoftStopPct)
	assert.Equal(t, 25.0, cfg.DefaultTradeSize, "missing trade size falls back to the global default")

	cfg, err = m.ForInterval(ctx, "1h")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(Bucket1h, 25), cfg)

	assert.Equal(t, 40.0, TradeSize(40, cfg))
	assert.Equal(t, 25.0, TradeSize(0, cfg))

	cfg, err = NewManager(nil, 10).ForInterval(ctx, "5m")
	require.NoError(t, err)
	assert.Equal(t, Bucket5m, cfg.Bucket)
}
