package order

import (
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jxskiss/base62"
	"github.com/shopspring/decimal"

	"trendline-core/internal/strategy"
	"trendline-core/internal/trendline"
)

// Config holds order lifecycle settings.
type Config struct {
	// RefreshInterval is how often working limit prices are re-resolved.
	RefreshInterval time.Duration
	OptionPolicy    strategy.OptionPolicy
	Session         trendline.Session
}

// NewClientID returns a compact client order id, e.g. tl-3hG8cPq...
func NewClientID() string {
	id := uuid.New()
	return "tl-" + base62.EncodeToString(id[:])
}

// RoundToTick rounds price to the nearest multiple of tick. Without a tick
// the price is rounded to cents.
func RoundToTick(price, tick float64) float64 {
	p := decimal.NewFromFloat(price)
	if tick <= 0 {
		return p.Round(2).InexactFloat64()
	}
	t := decimal.NewFromFloat(tick)
	return p.Div(t).Round(0).Mul(t).InexactFloat64()
}

// movedByMoreThanTick reports whether two prices differ by more than one increment.
func movedByMoreThanTick(a, b, tick float64) bool {
	if tick <= 0 {
		tick = 0.01
	}
	diff := decimal.NewFromFloat(a).Sub(decimal.NewFromFloat(b)).Abs()
	return diff.GreaterThan(decimal.NewFromFloat(tick))
}

// RealizedPnL returns the profit of closing qty units bought at entry and
// sold at exit. Option quantities are contracts of 100.
func RealizedPnL(dir strategy.Direction, qty, entry, exit float64) float64 {
	q := math.Abs(qty)
	if q == 0 || entry <= 0 {
		return 0
	}
	pnl := decimal.NewFromFloat(exit).Sub(decimal.NewFromFloat(entry)).Mul(decimal.NewFromFloat(q))
	if dir == strategy.Options {
		pnl = pnl.Mul(decimal.NewFromInt(100))
	}
	return pnl.Round(2).InexactFloat64()
}
