package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"trendline-core/internal/events"
	"trendline-core/internal/order"
	"trendline-core/internal/persistence"
	"trendline-core/internal/state"
	"trendline-core/internal/strategy"
	"trendline-core/internal/trendline"
	"trendline-core/pkg/db"
	"trendline-core/pkg/exchanges/common"
	"trendline-core/pkg/exchanges/paper"
)

var session = trendline.MustSession("America/New_York")

type harness struct {
	db     *db.Database
	broker *paper.Broker
	store  *persistence.CheckpointStore
	mem    *events.Memory
	now    time.Time
}

func (h *harness) clock() time.Time { return h.now }
func (h *harness) advance(d time.Duration) { h.now = h.now.Add(d) }

func flatLine(id string, price float64) db.TrendLine {
	t0 := time.Date(2026, 10, 12, 14, 0, 0, 0, time.UTC)
	return db.TrendLine{ID: id, Anchors: []db.Anchor{{Time: t0, Price: price}, {Time: t0.Add(time.Hour), Price: price}}}
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()
	d, err := db.Open(db.MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })

	store, err := persistence.NewMemoryCheckpointStore()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	require.NoError(t, d.UpsertRiskConfig(ctx, db.RiskConfiguration{Bucket: "15m", SoftStopPct: 2, SoftStopMinutes: 5, HardStopPct: 5, DefaultTradeSize: 10}))
	require.NoError(t, d.UpsertChart(ctx, db.ChartConfiguration{
		ID:        "chart-1",
		Symbol:    "AAPL",
		Interval:  "15m",
		Strategy:  "spot",
		TradeSize: 100,
		Lines:     []db.TrendLine{flatLine("support", 100), flatLine("t1", 120), flatLine("t2", 130)},
	}))

	h := &harness{
		db:     d,
		broker: paper.New(1_000_000),
		store:  store,
		mem:    &events.Memory{},
		now:    time.Date(2026, 10, 12, 15, 0, 0, 0, time.UTC),
	}
	h.broker.SetPrice("AAPL", 99)
	return h
}

func (h *harness) engine(t *testing.T, prices common.PriceSource) *Impl {
	t.Helper()
	e := NewImpl(Config{PriceInterval: time.Second, MaxParallel: 4, DefaultTradeSize: 10, Venue: "paper"}, Deps{
		DB:          h.db,
		Broker:      h.broker,
		Prices:      prices,
		Checkpoints: h.store,
		Audit:       h.mem,
		Bus:         events.NewBus(),
		Session:     session,
		Orders:      order.Config{RefreshInterval: time.Minute, OptionPolicy: strategy.DefaultOptionPolicy()},
		Log:         zap.NewNop().Sugar(),
	})
	e.SetClock(h.clock)
	return e
}

func (h *harness) tickAt(e *Impl, price float64) {
	h.broker.SetPrice("AAPL", price)
	e.Sweep(context.Background())
	h.advance(30 * time.Second)
}

// flush writes every registered record like the status sync task does.
func flush(t *testing.T, e *Impl, d *db.Database) {
	t.Helper()
	for _, id := range e.Registry().IDs() {
		require.NoError(t, e.Registry().With(id, func(b *state.Bot) error {
			return d.SaveBotState(context.Background(), b.Record)
		}))
	}
}

func ordersOf(b *paper.Broker, side common.Side, typ common.OrderType, status common.OrderStatus) []paper.Order {
	var out []paper.Order
	for _, o := range b.Orders() {
		if o.Request.Side == side && o.Request.Type == typ && (status == "" || o.Status == status) {
			out = append(out, o)
		}
	}
	return out
}

func createBot(t *testing.T, e *Impl) string {
	t.Helper()
	st, err := e.CreateBot(context.Background(), CreateBotRequest{ChartID: "chart-1"})
	require.NoError(t, err)
	return st.Bot.ID
}

func TestCreateBot(t *testing.T) {
	h := newHarness(t)
	e := h.engine(t, nil)
	ctx := context.Background()

	st, err := e.CreateBot(ctx, CreateBotRequest{ChartID: "chart-1"})
	require.NoError(t, err)
	assert.True(t, st.Registered)
	assert.Equal(t, 100.0, st.Bot.TradeSize)
	assert.Equal(t, db.BotActive, st.Bot.Status)
	require.NotNil(t, st.Runtime)
	require.Len(t, st.Runtime.Entries, 1)
	assert.Equal(t, "support", st.Runtime.Entries[0].ID)
	assert.Len(t, st.Runtime.Exits, 2)

	rec, err := h.db.GetBot(ctx, st.Bot.ID)
	require.NoError(t, err)
	assert.True(t, rec.Active)
	assert.Equal(t, []events.Type{events.BotCreated}, h.mem.Types(st.Bot.ID))

	_, err = e.CreateBot(ctx, CreateBotRequest{ChartID: "missing"})
	assert.ErrorIs(t, err, ErrChartNotFound)

	sized, err := e.CreateBot(ctx, CreateBotRequest{ChartID: "chart-1", TradeSize: 7})
	require.NoError(t, err)
	assert.Equal(t, 7.0, sized.Bot.TradeSize)
}

func TestEntryFiresOnce(t *testing.T) {
	h := newHarness(t)
	e := h.engine(t, nil)
	id := createBot(t, e)

	for _, p := range []float64{99, 101, 101} {
		h.tickAt(e, p)
	}

	assert.Equal(t, 1, h.mem.Count(events.EntryFired))
	buys := ordersOf(h.broker, common.SideBuy, common.OrderTypeMarket, "")
	require.Len(t, buys, 1)
	assert.Equal(t, 100.0, buys[0].Request.Qty)

	st, err := e.GetBotStatus(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, st.Bot.Bought)
	assert.Equal(t, 101.0, st.Bot.EntryPrice)
	assert.Len(t, ordersOf(h.broker, common.SideSell, common.OrderTypeLimit, common.StatusNew), 2)
	stops := ordersOf(h.broker, common.SideSell, common.OrderTypeStop, common.StatusNew)
	require.Len(t, stops, 1)
	assert.Equal(t, 95.95, stops[0].Price)
}

func TestStopOrderFillHardStopsBot(t *testing.T) {
	h := newHarness(t)
	e := h.engine(t, nil)
	id := createBot(t, e)
	h.tickAt(e, 99)
	h.tickAt(e, 101)

	h.tickAt(e, 94)
	h.tickAt(e, 94)

	assert.Equal(t, 1, h.mem.Count(events.HardStopLiquidation))
	assert.False(t, e.Registry().Has(id))
	rec, err := h.db.GetBot(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, db.BotHardStoppedOut, rec.Status)
	assert.False(t, rec.Active)
	assert.Zero(t, rec.OpenShares)
	assert.Empty(t, ordersOf(h.broker, common.SideSell, common.OrderTypeLimit, common.StatusNew), "exits are cancelled")

	cp, err := h.store.Load(id)
	require.NoError(t, err)
	assert.Nil(t, cp, "checkpoint is dropped once the final status is stored")
	assert.Equal(t, uint64(1), e.metrics.GetSnapshot().Liquidations)
}

func TestSoftStopLiquidatesAfterGracePeriod(t *testing.T) {
	h := newHarness(t)
	e := h.engine(t, nil)
	id := createBot(t, e)
	h.tickAt(e, 99)
	h.tickAt(e, 101)

	h.broker.SetPrice("AAPL", 98.5)
	e.Sweep(context.Background())
	assert.Equal(t, 1, h.mem.Count(events.SoftStopStarted))

	h.advance(4 * time.Minute)
	e.Sweep(context.Background())
	assert.True(t, e.Registry().Has(id))

	h.advance(time.Minute)
	e.Sweep(context.Background())
	assert.False(t, e.Registry().Has(id))
	assert.Equal(t, 1, h.mem.Count(events.SoftStopLiquidation))

	rec, err := h.db.GetBot(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, db.BotSoftStoppedOut, rec.Status)
	sells := ordersOf(h.broker, common.SideSell, common.OrderTypeMarket, "")
	require.Len(t, sells, 1)
	assert.Equal(t, 100.0, sells[0].Request.Qty)
}

func TestSoftStopResetsWhenPriceRecovers(t *testing.T) {
	h := newHarness(t)
	e := h.engine(t, nil)
	id := createBot(t, e)
	h.tickAt(e, 99)
	h.tickAt(e, 101)

	h.tickAt(e, 98.5)
	h.tickAt(e, 100)
	h.advance(10 * time.Minute)
	h.tickAt(e, 100)

	assert.Equal(t, 1, h.mem.Count(events.SoftStopReset))
	assert.Zero(t, h.mem.Count(events.SoftStopLiquidation))
	assert.True(t, e.Registry().Has(id))
}

func TestExitsCompleteBot(t *testing.T) {
	h := newHarness(t)
	e := h.engine(t, nil)
	id := createBot(t, e)
	h.tickAt(e, 99)
	h.tickAt(e, 101)

	h.tickAt(e, 125)
	st, err := e.GetBotStatus(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 50.0, st.Bot.OpenShares)
	stops := ordersOf(h.broker, common.SideSell, common.OrderTypeStop, common.StatusNew)
	require.Len(t, stops, 1)
	assert.Equal(t, 50.0, stops[0].Request.Qty, "stop follows the open position")

	h.tickAt(e, 135)
	assert.False(t, e.Registry().Has(id))
	rec, err := h.db.GetBot(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, db.BotCompleted, rec.Status)
	assert.NotNil(t, rec.CompletedAt)
	assert.Equal(t, 100.0, rec.SharesExited)
	assert.Equal(t, 1, h.mem.Count(events.BotCompleted))
	assert.Empty(t, ordersOf(h.broker, common.SideSell, common.OrderTypeStop, common.StatusNew))
}

func TestRestartResumesFromCheckpoint(t *testing.T) {
	h := newHarness(t)
	first := h.engine(t, nil)
	id := createBot(t, first)
	h.tickAt(first, 99)
	h.tickAt(first, 101)
	flush(t, first, h.db)

	second := h.engine(t, nil)
	report, err := second.LoadActive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{id}, report.Resumed)

	h.tickAt(second, 101)
	h.tickAt(second, 102)

	assert.Len(t, ordersOf(h.broker, common.SideBuy, common.OrderTypeMarket, ""), 1, "no second entry after restart")
	assert.Len(t, ordersOf(h.broker, common.SideSell, common.OrderTypeStop, common.StatusNew), 1)
	assert.Len(t, ordersOf(h.broker, common.SideSell, common.OrderTypeLimit, common.StatusNew), 2)
}

func TestLoadActiveOrphansBotsWithoutChart(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := createBot(t, h.engine(t, nil))
	require.NoError(t, h.db.DeleteChart(ctx, "chart-1"))

	e := h.engine(t, nil)
	report, err := e.LoadActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{id}, report.Orphaned)
	assert.Zero(t, e.Registry().Len())

	rec, err := h.db.GetBot(ctx, id)
	require.NoError(t, err)
	assert.False(t, rec.Active)
	assert.Equal(t, db.BotStopped, rec.Status)
	assert.Equal(t, 1, h.mem.Count(events.BotOrphaned))
}

func TestStopKeepsOrdersAndStartResumes(t *testing.T) {
	h := newHarness(t)
	e := h.engine(t, nil)
	ctx := context.Background()
	id := createBot(t, e)
	h.tickAt(e, 99)
	h.tickAt(e, 101)

	require.NoError(t, e.StopBot(ctx, id))
	assert.False(t, e.Registry().Has(id))
	rec, err := h.db.GetBot(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, db.BotStopped, rec.Status)
	assert.True(t, rec.Bought)
	assert.Len(t, ordersOf(h.broker, common.SideSell, common.OrderTypeLimit, common.StatusNew), 2, "stop leaves orders working")

	require.NoError(t, e.StartBot(ctx, id))
	require.NoError(t, e.StartBot(ctx, id))
	assert.True(t, e.Registry().Has(id))
	h.tickAt(e, 101)
	assert.Len(t, ordersOf(h.broker, common.SideBuy, common.OrderTypeMarket, ""), 1)

	types := h.mem.Types(id)
	assert.Contains(t, types, events.BotStopped)
	assert.Contains(t, types, events.BotStarted)
}

func TestCancelOrdersOnStoppedBot(t *testing.T) {
	h := newHarness(t)
	e := h.engine(t, nil)
	ctx := context.Background()
	id := createBot(t, e)
	h.tickAt(e, 99)
	h.tickAt(e, 101)
	require.NoError(t, e.StopBot(ctx, id))

	n, err := e.CancelOrders(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Empty(t, ordersOf(h.broker, common.SideSell, common.OrderTypeLimit, common.StatusNew))
	assert.Empty(t, ordersOf(h.broker, common.SideSell, common.OrderTypeStop, common.StatusNew))

	n, err = e.CancelOrders(ctx, id)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestStartFinishedBotFails(t *testing.T) {
	h := newHarness(t)
	e := h.engine(t, nil)
	ctx := context.Background()
	id := createBot(t, e)
	h.tickAt(e, 99)
	h.tickAt(e, 101)
	h.tickAt(e, 94)

	assert.ErrorIs(t, e.StartBot(ctx, id), ErrBotFinished)
	assert.ErrorIs(t, e.StartBot(ctx, "nope"), ErrBotNotFound)
}

type priceFunc func(ctx context.Context, symbol string) (float64, error)

func (f priceFunc) LastPrice(ctx context.Context, symbol string) (float64, error) { return f(ctx, symbol) }

func TestPriceUnavailableSkipsTick(t *testing.T) {
	h := newHarness(t)
	e := h.engine(t, priceFunc(func(context.Context, string) (float64, error) {
		return 0, common.ErrPriceUnavailable
	}))
	id := createBot(t, e)

	e.Sweep(context.Background())

	assert.True(t, e.Registry().Has(id))
	assert.Zero(t, h.mem.Count(events.TickError))
	snap := e.metrics.GetSnapshot()
	assert.Equal(t, uint64(1), snap.SkipReasons["price_unavailable"])
}

func TestHungPriceSourceDoesNotBlockOtherBots(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.db.UpsertChart(ctx, db.ChartConfiguration{
		ID:        "chart-2",
		Symbol:    "MSFT",
		Interval:  "15m",
		Strategy:  "spot",
		TradeSize: 10,
		Lines:     []db.TrendLine{flatLine("msft-support", 400), flatLine("msft-t1", 450)},
	}))

	var (
		mu      sync.Mutex
		stalled []error
	)
	e := h.engine(t, priceFunc(func(ctx context.Context, symbol string) (float64, error) {
		if symbol == "MSFT" {
			<-ctx.Done()
			mu.Lock()
			stalled = append(stalled, ctx.Err())
			mu.Unlock()
			return 0, ctx.Err()
		}
		return h.broker.LastPrice(ctx, symbol)
	}))
	e.cfg.TickTimeout = 200 * time.Millisecond

	slow, err := e.CreateBot(ctx, CreateBotRequest{ChartID: "chart-2"})
	require.NoError(t, err)
	fast := createBot(t, e)

	start := time.Now()
	h.tickAt(e, 99)
	h.tickAt(e, 101)
	assert.Less(t, time.Since(start), 2*time.Second, "each sweep is bounded by the tick timeout")

	buys := ordersOf(h.broker, common.SideBuy, common.OrderTypeMarket, "")
	require.Len(t, buys, 1)
	assert.Equal(t, "AAPL", buys[0].Request.Instrument.Symbol)
	st, err := e.GetBotStatus(ctx, fast)
	require.NoError(t, err)
	assert.True(t, st.Bot.Bought)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, stalled, 2)
	for _, err := range stalled {
		assert.True(t, errors.Is(err, context.DeadlineExceeded))
	}
	assert.True(t, e.Registry().Has(slow.Bot.ID), "a timed out tick leaves the bot registered")
	assert.Equal(t, uint64(2), e.metrics.GetSnapshot().SkipReasons["price_unavailable"])
	assert.Zero(t, h.mem.Count(events.TickError))
}

func TestPanicMarksBotError(t *testing.T) {
	h := newHarness(t)
	e := h.engine(t, priceFunc(func(context.Context, string) (float64, error) {
		panic("feed exploded")
	}))
	id := createBot(t, e)
	other := createBot(t, e)

	e.Sweep(context.Background())

	assert.Zero(t, e.Registry().Len())
	for _, bid := range []string{id, other} {
		rec, err := h.db.GetBot(context.Background(), bid)
		require.NoError(t, err)
		assert.Equal(t, db.BotError, rec.Status)
		assert.Contains(t, rec.LastError, "feed exploded")
	}
	assert.Equal(t, 2, h.mem.Count(events.TickError))
}

func TestListOverlaysRuntime(t *testing.T) {
	h := newHarness(t)
	e := h.engine(t, nil)
	id := createBot(t, e)
	h.tickAt(e, 99)
	h.tickAt(e, 101)

	bots, err := e.ListBots(context.Background())
	require.NoError(t, err)
	require.Len(t, bots, 1)
	assert.Equal(t, id, bots[0].ID)
	assert.True(t, bots[0].Bought, "live runtime wins over the stored row")

	sys := e.GetSystemStatus(context.Background())
	assert.Equal(t, 1, sys.ActiveBots)
	assert.Equal(t, common.StateConnected, sys.Broker.State)
	assert.False(t, sys.LastSweep.IsZero())
}
