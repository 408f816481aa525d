package risk

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"trendline-core/pkg/db"
)

// Buckets the risk configuration is keyed by.
const (
	Bucket5m  = "5m"
	Bucket15m = "15m"
	Bucket1h  = "1h"
)

// BucketFor maps a chart interval onto a risk bucket: up to 5 minutes uses
// 5m, up to 15 minutes uses 15m, anything longer uses 1h.
func BucketFor(interval string) string {
	d, err := parseInterval(interval)
	if err != nil {
		return Bucket15m
	}
	switch {
	case d <= 5*time.Minute:
		return Bucket5m
	case d <= 15*time.Minute:
		return Bucket15m
	default:
		return Bucket1h
	}
}

// parseInterval understands candle notations like 1m, 15m, 4h, 1d and 1w.
func parseInterval(s string) (time.Duration, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if len(s) < 2 {
		return 0, fmt.Errorf("invalid interval %q", s)
	}
	n, err := strconv.Atoi(s[:len(s)-1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid interval %q", s)
	}
	unit := map[byte]time.Duration{
		's': time.Second,
		'm': time.Minute,
		'h': time.Hour,
		'd': 24 * time.Hour,
		'w': 7 * 24 * time.Hour,
	}[s[len(s)-1]]
	if unit == 0 {
		return 0, fmt.Errorf("invalid interval %q", s)
	}
	return time.Duration(n) * unit, nil
}

// DefaultConfig returns the settings used when a bucket has no stored row.
func DefaultConfig(bucket string, tradeSize float64) db.RiskConfiguration {
	cfg := db.RiskConfiguration{
		Bucket:           bucket,
		SoftStopPct:      2,
		SoftStopMinutes:  5,
		HardStopPct:      5,
		DefaultTradeSize: tradeSize,
	}
	switch bucket {
	case Bucket5m:
		cfg.SoftStopPct, cfg.HardStopPct = 1, 3
	case Bucket1h:
		cfg.SoftStopPct, cfg.SoftStopMinutes, cfg.HardStopPct = 3, 15, 8
	}
	return cfg
}

// Manager resolves risk configuration for charts from the store.
type Manager struct {
	store            *db.Database
	defaultTradeSize float64
}

// NewManager creates a manager; a nil store always yields defaults.
func NewManager(store *db.Database, defaultTradeSize float64) *Manager {
	return &Manager{store: store, defaultTradeSize: defaultTradeSize}
}

// ForInterval loads the bucket of interval, falling back to DefaultConfig.
func (m *Manager) ForInterval(ctx context.Context, interval string) (db.RiskConfiguration, error) {
	bucket := BucketFor(interval)
	if m.store == nil {
		return DefaultConfig(bucket, m.defaultTradeSize), nil
	}
	cfg, err := m.store.GetRiskConfig(ctx, bucket)
	if errors.Is(err, db.ErrNotFound) {
		return DefaultConfig(bucket, m.defaultTradeSize), nil
	}
	if err != nil {
		return db.RiskConfiguration{}, fmt.Errorf("load risk bucket %s: %w", bucket, err)
	}
	if cfg.DefaultTradeSize <= 0 {
		cfg.DefaultTradeSize = m.defaultTradeSize
	}
	return *cfg, nil
}

// TradeSize picks the chart's own size, then the bucket default.
func TradeSize(chartSize float64, cfg db.RiskConfiguration) float64 {
	if chartSize > 0 {
		return chartSize
	}
	return cfg.DefaultTradeSize
}
