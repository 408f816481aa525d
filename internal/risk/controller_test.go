package risk

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"trendline-core/internal/events"
	"trendline-core/internal/state"
	"trendline-core/internal/strategy"
	"trendline-core/pkg/db"
)

type fakeLiquidator struct {
	calls   int
	reasons []string
	fail    error

	// stopFilled books the resting stop-loss instead of selling
	stopFilled bool
}

func (f *fakeLiquidator) Liquidate(_ context.Context, b *state.Bot, reason string) error {
	f.calls++
	if f.fail != nil {
		err := f.fail
		f.fail = nil
		return err
	}
	f.reasons = append(f.reasons, reason)
	b.ApplyExit(b.Record.OpenShares)
	if f.stopFilled {
		b.Finish(db.BotHardStoppedOut, time.Now())
	}
	return nil
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func boughtBot(dir strategy.Direction) *state.Bot {
	rec := db.BotInstance{ID: "bot-1", Symbol: "AAPL", Strategy: string(dir), TradeSize: 100, Active: true}
	risk := db.RiskConfiguration{Bucket: "15m", SoftStopPct: 2, SoftStopMinutes: 5, HardStopPct: 5}
	b := state.NewBot(rec, dir, risk, strategy.Classification{})
	b.ApplyEntryFill(100, 100)
	return b
}

func newController(liq Liquidator) (*Controller, *clock, *events.Memory) {
	mem := &events.Memory{}
	c := NewController(liq, mem, zap.NewNop().Sugar())
	clk := &clock{t: time.Date(2026, 10, 12, 14, 0, 0, 0, time.UTC)}
	c.SetClock(clk.now)
	return c, clk, mem
}

func TestHardStopLiquidatesOnce(t *testing.T) {
	liq := &fakeLiquidator{}
	c, clk, mem := newController(liq)
	b := boughtBot(strategy.Spot)
	ctx := context.Background()

	for _, p := range []float64{99, 97} {
		_, err := c.Evaluate(ctx, b, p)
		require.NoError(t, err)
		clk.advance(30 * time.Second)
	}
	assert.True(t, b.SoftStop.Active)

	d, err := c.Evaluate(ctx, b, 94)
	require.NoError(t, err)
	assert.Equal(t, ActionHardLiquidated, d.Action)
	assert.InDelta(t, 95, d.Levels.HardStop, 1e-9)

	d, err = c.Evaluate(ctx, b, 93)
	require.NoError(t, err)
	assert.Equal(t, ActionNone, d.Action)

	assert.Equal(t, 1, liq.calls)
	assert.Equal(t, []string{"hard_stop"}, liq.reasons)
	assert.Equal(t, db.BotHardStoppedOut, b.Record.Status)
	assert.False(t, b.Record.Active)
	assert.False(t, b.SoftStop.Active)
	assert.True(t, b.Done)
	assert.Equal(t, 1, mem.Count(events.HardStopLiquidation))
	assert.Zero(t, b.Record.OpenShares)
}

func TestSoftStopTimerResetsOnRecovery(t *testing.T) {
	liq := &fakeLiquidator{}
	c, clk, mem := newController(liq)
	b := boughtBot(strategy.Spot)
	ctx := context.Background()

	steps := []struct {
		after time.Duration
		price float64
		want  Action
	}{
		{0, 97, ActionSoftStarted},
		{2 * time.Minute, 97, ActionSoftWaiting},
		{2 * time.Minute, 97, ActionSoftWaiting},
		{30 * time.Second, 99, ActionSoftReset},
		{30 * time.Second, 99, ActionNone},
		{0, 97, ActionSoftStarted},
		{4 * time.Minute, 97.5, ActionSoftWaiting},
		{time.Minute, 97, ActionSoftLiquidated},
	}
	for i, s := range steps {
		clk.advance(s.after)
		d, err := c.Evaluate(ctx, b, s.price)
		require.NoError(t, err)
		assert.Equal(t, s.want, d.Action, "step %d", i)
	}

	assert.Equal(t, 1, liq.calls)
	assert.Equal(t, db.BotSoftStoppedOut, b.Record.Status)
	assert.Equal(t, 2, mem.Count(events.SoftStopStarted))
	assert.Equal(t, 1, mem.Count(events.SoftStopReset))
	assert.Equal(t, 1, mem.Count(events.SoftStopLiquidation))
}

func TestOptionsAdverseDirectionIsRising(t *testing.T) {
	liq := &fakeLiquidator{}
	c, _, _ := newController(liq)
	b := boughtBot(strategy.Options)
	ctx := context.Background()

	d, err := c.Evaluate(ctx, b, 90)
	require.NoError(t, err)
	assert.Equal(t, ActionNone, d.Action, "a falling underlying is the profitable side for puts")

	d, err = c.Evaluate(ctx, b, 103)
	require.NoError(t, err)
	assert.Equal(t, ActionSoftStarted, d.Action)

	d, err = c.Evaluate(ctx, b, 105.5)
	require.NoError(t, err)
	assert.Equal(t, ActionHardLiquidated, d.Action)
	assert.InDelta(t, 105, d.Levels.HardStop, 1e-9)
}

func TestFailedLiquidationRetries(t *testing.T) {
	liq := &fakeLiquidator{fail: errors.New("broker unavailable")}
	c, _, mem := newController(liq)
	b := boughtBot(strategy.Spot)
	ctx := context.Background()

	_, err := c.Evaluate(ctx, b, 90)
	require.Error(t, err)
	assert.Equal(t, "", b.Record.Status)
	assert.True(t, b.Bought())
	assert.Zero(t, mem.Count(events.HardStopLiquidation))

	d, err := c.Evaluate(ctx, b, 90)
	require.NoError(t, err)
	assert.Equal(t, ActionHardLiquidated, d.Action)
	assert.Equal(t, 2, liq.calls)
}

func TestStopOrderFilledDuringLiquidation(t *testing.T) {
	liq := &fakeLiquidator{stopFilled: true}
	c, clk, mem := newController(liq)
	b := boughtBot(strategy.Spot)
	ctx := context.Background()

	_, err := c.Evaluate(ctx, b, 97)
	require.NoError(t, err)
	clk.advance(6 * time.Minute)

	d, err := c.Evaluate(ctx, b, 97)
	require.NoError(t, err)
	assert.Equal(t, ActionHardLiquidated, d.Action)
	assert.Equal(t, db.BotHardStoppedOut, b.Record.Status)
	assert.Zero(t, mem.Count(events.SoftStopLiquidation))
	assert.Zero(t, mem.Count(events.HardStopLiquidation))
}

func TestNoPositionIsNoop(t *testing.T) {
	liq := &fakeLiquidator{}
	c, _, _ := newController(liq)
	rec := db.BotInstance{ID: "flat"}
	b := state.NewBot(rec, strategy.Spot, db.RiskConfiguration{HardStopPct: 5}, strategy.Classification{})
	b.SoftStop.Active = true

	d, err := c.Evaluate(context.Background(), b, 1)
	require.NoError(t, err)
	assert.Equal(t, ActionNone, d.Action)
	assert.False(t, b.SoftStop.Active)
	assert.Zero(t, liq.calls)
}

func TestLevels(t *testing.T) {
	l := ComputeLevels(strategy.Spot, 100, 2, 5)
	assert.InDelta(t, 98, l.SoftStop, 1e-9)
	assert.True(t, l.SoftBreached(98))
	assert.False(t, l.HardBreached(95.01))

	disabled := ComputeLevels(strategy.Spot, 100, 0, 0)
	assert.False(t, disabled.HardBreached(1))
	assert.InDelta(t, 105, HardStopPrice(strategy.Options, 100, 5), 1e-9)
}
