package market

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"trendline-core/pkg/cache"
	"trendline-core/pkg/exchanges/common"
)

// Feed serves last prices to the price monitor. Concurrent requests for one
// symbol share a single upstream fetch, and a quote fetched within Reuse is
// served from the cache so bots on the same symbol see the same price in one
// sweep.
type Feed struct {
	src    common.PriceSource
	name   string
	cache  *cache.QuoteCache
	group  singleflight.Group
	log    *zap.SugaredLogger
	reuse  time.Duration
	maxAge time.Duration
}

// NewFeed wraps src. reuse is how long a fetched quote is shared; maxAge is
// how old a cached quote may be when the source fails.
func NewFeed(src common.PriceSource, name string, c *cache.QuoteCache, reuse, maxAge time.Duration, log *zap.SugaredLogger) *Feed {
	if c == nil {
		c = cache.NewQuoteCache()
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Feed{src: src, name: name, cache: c, reuse: reuse, maxAge: maxAge, log: log}
}

// LastPrice returns the last price of symbol or an error wrapping
// common.ErrPriceUnavailable.
func (f *Feed) LastPrice(ctx context.Context, symbol string) (float64, error) {
	symbol = strings.ToUpper(symbol)
	if q, age, ok := f.cache.Get(symbol); ok && age < f.reuse {
		return q.Price, nil
	}

	v, err, _ := f.group.Do(symbol, func() (any, error) {
		if q, age, ok := f.cache.Get(symbol); ok && age < f.reuse {
			return q.Price, nil
		}
		px, err := f.src.LastPrice(ctx, symbol)
		if err == nil && px <= 0 {
			err = fmt.Errorf("non-positive price %v", px)
		}
		if err != nil {
			return 0.0, err
		}
		f.cache.Set(symbol, px, f.name)
		return px, nil
	})
	if err == nil {
		return v.(float64), nil
	}

	if q, age, ok := f.cache.Get(symbol); ok && f.maxAge > 0 && age <= f.maxAge {
		f.log.Warnf("price %s from %s failed, serving %s old quote: %v", symbol, f.name, age.Round(time.Second), err)
		return q.Price, nil
	}
	return 0, fmt.Errorf("price %s: %w: %v", symbol, common.ErrPriceUnavailable, err)
}

// Quotes returns the cached quotes.
func (f *Feed) Quotes() map[string]cache.Quote {
	return f.cache.Snapshot()
}

// Prune drops quotes older than maxAge and returns how many were dropped.
func (f *Feed) Prune(maxAge time.Duration) int {
	return f.cache.Cleanup(maxAge)
}
