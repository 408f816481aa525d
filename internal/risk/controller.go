package risk

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"trendline-core/internal/events"
	"trendline-core/internal/state"
	"trendline-core/pkg/db"
)

// Liquidator closes a bot's whole open position at market.
type Liquidator interface {
	Liquidate(ctx context.Context, b *state.Bot, reason string) error
}

// Controller enforces the soft and hard stops of bought bots.
type Controller struct {
	liq Liquidator
	rec events.Recorder
	log *zap.SugaredLogger
	now func() time.Time
}

// NewController creates a controller. A nil recorder discards audit records.
func NewController(liq Liquidator, rec events.Recorder, log *zap.SugaredLogger) *Controller {
	if rec == nil {
		rec = events.Discard
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Controller{liq: liq, rec: rec, log: log, now: time.Now}
}

// SetClock replaces the time source; used by tests.
func (c *Controller) SetClock(now func() time.Time) { c.now = now }

// Evaluate runs the stop checks for one tick. The hard stop is checked first
// and wins over a running soft-stop timer. A failed liquidation leaves the
// bot untouched so the next tick retries.
func (c *Controller) Evaluate(ctx context.Context, b *state.Bot, price float64) (Decision, error) {
	now := c.now()
	d := Decision{Action: ActionNone, Price: price}

	if !b.Bought() {
		if b.SoftStop.Reset() {
			c.audit(b, events.SoftStopReset, map[string]any{"reason": "position_closed"}, now)
		}
		return d, nil
	}

	d.Levels = ComputeLevels(b.Direction, b.Record.EntryPrice, b.Risk.SoftStopPct, b.Risk.HardStopPct)

	if d.Levels.HardBreached(price) {
		b.SoftStop.Reset()
		shares := b.Record.OpenShares
		if err := c.liq.Liquidate(ctx, b, "hard_stop"); err != nil {
			return d, fmt.Errorf("hard stop liquidation: %w", err)
		}
		d.Action = ActionHardLiquidated
		if b.Done {
			// the resting stop-loss executed first and already finished the bot
			return d, nil
		}
		c.audit(b, events.HardStopLiquidation, map[string]any{
			"price":     price,
			"hard_stop": d.Levels.HardStop,
			"shares":    shares,
		}, now)
		b.Finish(db.BotHardStoppedOut, now)
		c.log.Warnf("bot %s hard stop at %.4f (level %.4f), liquidated %.4f", b.ID(), price, d.Levels.HardStop, shares)
		return d, nil
	}

	if d.Levels.SoftBreached(price) {
		if b.SoftStop.Start(now) {
			d.Action = ActionSoftStarted
			c.audit(b, events.SoftStopStarted, map[string]any{"price": price, "soft_stop": d.Levels.SoftStop}, now)
		} else {
			d.Action = ActionSoftWaiting
		}
		d.Elapsed = b.SoftStop.Elapsed(now)
		limit := time.Duration(b.Risk.SoftStopMinutes * float64(time.Minute))
		if d.Elapsed < limit {
			return d, nil
		}

		shares := b.Record.OpenShares
		if err := c.liq.Liquidate(ctx, b, "soft_stop"); err != nil {
			return d, fmt.Errorf("soft stop liquidation: %w", err)
		}
		if b.Done {
			d.Action = ActionHardLiquidated
			return d, nil
		}
		d.Action = ActionSoftLiquidated
		c.audit(b, events.SoftStopLiquidation, map[string]any{
			"price":     price,
			"soft_stop": d.Levels.SoftStop,
			"elapsed":   d.Elapsed.String(),
			"shares":    shares,
		}, now)
		b.Finish(db.BotSoftStoppedOut, now)
		c.log.Warnf("bot %s soft stop after %s at %.4f, liquidated %.4f", b.ID(), d.Elapsed, price, shares)
		return d, nil
	}

	if b.SoftStop.Reset() {
		d.Action = ActionSoftReset
		c.audit(b, events.SoftStopReset, map[string]any{"price": price}, now)
	}
	return d, nil
}

func (c *Controller) audit(b *state.Bot, typ events.Type, payload map[string]any, now time.Time) {
	c.rec.Record(events.Audit{BotID: b.ID(), Type: typ, Payload: payload, At: now})
}
