package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"trendline-core/internal/events"
	"trendline-core/internal/monitor"
	"trendline-core/internal/order"
	"trendline-core/internal/risk"
	"trendline-core/internal/state"
	"trendline-core/internal/strategy"
	"trendline-core/internal/trendline"
	"trendline-core/pkg/db"
	"trendline-core/pkg/exchanges/common"
)

// CheckpointStore persists the runtime state of bots between restarts.
type CheckpointStore interface {
	Save(cp state.Checkpoint) error
	Load(botID string) (*state.Checkpoint, error)
	Delete(botID string) error
}

// Config holds the engine settings.
type Config struct {
	PriceInterval    time.Duration
	MaxParallel      int
	TickTimeout      time.Duration
	DefaultTradeSize float64
	Venue            string
	DryRun           bool
	Version          string
}

// Deps are the collaborators of the engine. Prices, Supervisor, Checkpoints,
// Audit, Bus and Metrics are optional.
type Deps struct {
	DB          *db.Database
	Broker      common.Broker
	Prices      common.PriceSource
	Supervisor  *common.Supervisor
	Checkpoints CheckpointStore
	Audit       events.Recorder
	Bus         *events.Bus
	Metrics     *monitor.SystemMetrics
	Session     trendline.Session
	Orders      order.Config
	Log         *zap.SugaredLogger
}

// Impl implements Service.
type Impl struct {
	cfg         Config
	db          *db.Database
	broker      common.Broker
	prices      common.PriceSource
	sup         *common.Supervisor
	checkpoints CheckpointStore
	rec         events.Recorder
	bus         *events.Bus
	metrics     *monitor.SystemMetrics
	session     trendline.Session
	log         *zap.SugaredLogger

	registry *state.Registry
	orders   *order.Manager
	risk     *risk.Controller
	buckets  *risk.Manager

	now   func() time.Time
	newID func() string

	mu         sync.Mutex
	pending    map[string]bool // active bots whose runtime could not be built yet
	lastSweep  time.Time
	lastHealth common.ConnState
}

// NewImpl wires the engine from its collaborators.
func NewImpl(cfg Config, d Deps) *Impl {
	if cfg.PriceInterval <= 0 {
		cfg.PriceInterval = 30 * time.Second
	}
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = 8
	}
	if cfg.TickTimeout <= 0 {
		cfg.TickTimeout = 20 * time.Second
	}
	log := d.Log
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	metrics := d.Metrics
	if metrics == nil {
		metrics = monitor.NewSystemMetrics()
	}
	prices := d.Prices
	if prices == nil {
		if ps, ok := d.Broker.(common.PriceSource); ok {
			prices = ps
		}
	}
	if d.Orders.Session == (trendline.Session{}) {
		d.Orders.Session = d.Session
	}

	rec := &auditFanout{store: d.Audit, bus: d.Bus, metrics: metrics}
	orders := order.NewManager(d.Broker, rec, d.Orders, log.Named("order"))

	return &Impl{
		cfg:         cfg,
		db:          d.DB,
		broker:      d.Broker,
		prices:      prices,
		sup:         d.Supervisor,
		checkpoints: d.Checkpoints,
		rec:         rec,
		bus:         d.Bus,
		metrics:     metrics,
		session:     d.Session,
		log:         log,
		registry:    state.NewRegistry(),
		orders:      orders,
		risk:        risk.NewController(orders, rec, log.Named("risk")),
		buckets:     risk.NewManager(d.DB, cfg.DefaultTradeSize),
		now:         time.Now,
		newID:       uuid.NewString,
		pending:     make(map[string]bool),
	}
}

// SetClock replaces the time source of the engine and its components.
func (e *Impl) SetClock(now func() time.Time) {
	e.now = now
	e.orders.SetClock(now)
	e.risk.SetClock(now)
}

// Registry exposes the active bot registry, e.g. to the status sync task.
func (e *Impl) Registry() *state.Registry { return e.registry }

func (e *Impl) audit(botID string, typ events.Type, payload map[string]any) {
	e.rec.Record(events.Audit{BotID: botID, Type: typ, Payload: payload, At: e.now()})
}

func (e *Impl) publishStatus(r db.BotInstance) {
	if e.bus != nil {
		e.bus.Publish(events.EventBotStatus, events.StatusChange{BotID: r.ID, Status: r.Status, Active: r.Active})
	}
}

// --- Bot Commands ---

func (e *Impl) CreateBot(ctx context.Context, req CreateBotRequest) (*BotStatus, error) {
	chart, err := e.db.GetChart(ctx, req.ChartID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, fmt.Errorf("%s: %w", req.ChartID, ErrChartNotFound)
	}
	if err != nil {
		return nil, err
	}
	dir, err := strategy.ParseDirection(chart.Strategy)
	if err != nil {
		return nil, fmt.Errorf("chart %s: %v: %w", chart.ID, err, ErrInvalidBot)
	}
	bucket, err := e.buckets.ForInterval(ctx, chart.Interval)
	if err != nil {
		return nil, err
	}
	size := req.TradeSize
	if size <= 0 {
		size = risk.TradeSize(chart.TradeSize, bucket)
	}
	if size <= 0 {
		return nil, fmt.Errorf("chart %s has no trade size: %w", chart.ID, ErrInvalidBot)
	}

	rec := db.BotInstance{
		ID:        e.newID(),
		ChartID:   chart.ID,
		Symbol:    chart.Symbol,
		Interval:  chart.Interval,
		Strategy:  string(dir),
		MultiBuy:  chart.MultiBuy,
		TradeSize: size,
		Active:    true,
		Running:   true,
		Status:    db.BotActive,
		CreatedAt: e.now().UTC(),
	}
	b, err := e.buildRuntime(ctx, rec, chart)
	if err != nil {
		return nil, err
	}
	if err := e.db.CreateBot(ctx, rec); err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}
	e.registry.Add(b)
	e.metrics.SetActiveBots(e.registry.Len())

	e.audit(rec.ID, events.BotCreated, map[string]any{
		"chart_id":   rec.ChartID,
		"symbol":     rec.Symbol,
		"strategy":   rec.Strategy,
		"multi_buy":  b.MultiBuy.Enabled,
		"trade_size": rec.TradeSize,
		"entries":    len(b.Entries),
		"exits":      len(b.Exits),
		"bucket":     b.Risk.Bucket,
	})
	e.publishStatus(rec)
	e.log.Infof("bot %s created on %s %s (%s, size %.4f)", rec.ID, rec.Symbol, rec.Interval, rec.Strategy, rec.TradeSize)

	return &BotStatus{Bot: rec, Registered: true, Runtime: viewOf(b)}, nil
}

func (e *Impl) StartBot(ctx context.Context, id string) error {
	rec, err := e.getBot(ctx, id)
	if err != nil {
		return err
	}
	if terminalStatus(rec.Status) {
		return fmt.Errorf("bot %s is %s: %w", id, rec.Status, ErrBotFinished)
	}
	if e.registry.Has(id) {
		return nil
	}

	rec.Active, rec.Running, rec.Status, rec.LastError = true, true, db.BotActive, ""
	b, err := e.buildRuntime(ctx, *rec, nil)
	if err != nil {
		return err
	}
	if err := e.db.SetBotFlags(ctx, id, true, true, db.BotActive); err != nil {
		return err
	}
	e.registry.Add(b)
	e.clearPending(id)
	e.metrics.SetActiveBots(e.registry.Len())
	e.audit(id, events.BotStarted, nil)
	e.publishStatus(b.Record)
	e.log.Infof("bot %s started", id)
	return nil
}

func (e *Impl) StopBot(ctx context.Context, id string) error {
	rec, err := e.getBot(ctx, id)
	if err != nil {
		return err
	}
	if terminalStatus(rec.Status) {
		return fmt.Errorf("bot %s is %s: %w", id, rec.Status, ErrBotFinished)
	}
	e.clearPending(id)

	working := 0
	err = e.registry.With(id, func(b *state.Bot) error {
		b.Record.Active, b.Record.Running, b.Record.Status = false, false, db.BotStopped
		b.SoftStop.Reset()
		working = len(b.LiveSlots())
		e.saveCheckpoint(b)
		*rec = b.Record
		return nil
	})
	switch {
	case errors.Is(err, state.ErrNotRegistered):
		rec.Active, rec.Running, rec.Status = false, false, db.BotStopped
	case err != nil:
		return err
	}
	e.registry.Remove(id)
	if err := e.db.SaveBotState(ctx, *rec); err != nil {
		return err
	}
	e.metrics.SetActiveBots(e.registry.Len())

	e.audit(id, events.BotStopped, map[string]any{"working_orders": working})
	e.publishStatus(*rec)
	if working > 0 {
		e.log.Warnf("bot %s stopped with %d working orders left at the broker", id, working)
	} else {
		e.log.Infof("bot %s stopped", id)
	}
	return nil
}

// CancelOrders cancels every working order of a bot. Bots that are not
// registered are rebuilt from their checkpoint for the duration of the call.
func (e *Impl) CancelOrders(ctx context.Context, id string) (int, error) {
	var n int
	err := e.registry.With(id, func(b *state.Bot) error {
		var err error
		n, err = e.orders.CancelAll(ctx, b, "manual")
		e.saveCheckpoint(b)
		return err
	})
	if !errors.Is(err, state.ErrNotRegistered) {
		return n, err
	}

	rec, err := e.getBot(ctx, id)
	if err != nil {
		return 0, err
	}
	b, err := e.buildRuntime(ctx, *rec, nil)
	if err != nil {
		return 0, err
	}
	n, err = e.orders.CancelAll(ctx, b, "manual")
	e.saveCheckpoint(b)
	if serr := e.db.SaveBotState(ctx, b.Record); serr != nil {
		e.log.Warnf("bot %s: persist after cancel: %v", id, serr)
	}
	return n, err
}

// --- Bot Queries ---

func (e *Impl) GetBotStatus(ctx context.Context, id string) (*BotStatus, error) {
	rec, err := e.getBot(ctx, id)
	if err != nil {
		return nil, err
	}
	st := &BotStatus{Bot: *rec}
	err = e.registry.With(id, func(b *state.Bot) error {
		st.Bot = b.Record
		st.Registered = true
		st.Runtime = viewOf(b)
		return nil
	})
	if err != nil && !errors.Is(err, state.ErrNotRegistered) {
		return nil, err
	}
	return st, nil
}

func (e *Impl) ListBots(ctx context.Context) ([]db.BotInstance, error) {
	bots, err := e.db.ListBots(ctx)
	if err != nil {
		return nil, err
	}
	for i := range bots {
		_ = e.registry.With(bots[i].ID, func(b *state.Bot) error {
			bots[i] = b.Record
			return nil
		})
	}
	return bots, nil
}

func (e *Impl) ListBotEvents(ctx context.Context, id string, limit int) ([]db.BotEvent, error) {
	if _, err := e.getBot(ctx, id); err != nil {
		return nil, err
	}
	return e.db.ListBotEvents(ctx, id, limit)
}

// --- System ---

func (e *Impl) GetSystemStatus(ctx context.Context) *SystemStatus {
	st := &SystemStatus{
		Venue:      e.cfg.Venue,
		DryRun:     e.cfg.DryRun,
		ActiveBots: e.registry.Len(),
		Version:    e.cfg.Version,
		ServerTime: e.now().UTC(),
	}
	if e.sup != nil {
		st.Broker = e.sup.Health()
	} else {
		st.Broker = common.Health{State: common.StateConnected}
	}
	e.mu.Lock()
	st.Pending = len(e.pending)
	st.LastSweep = e.lastSweep
	e.mu.Unlock()
	return st
}

// --- Startup recovery ---

// LoadActive rebuilds the runtime of every persisted active bot. Bots whose
// chart is gone are deactivated as orphaned; bots that cannot be built
// because the broker is unreachable are retried on later sweeps.
func (e *Impl) LoadActive(ctx context.Context) (LoadReport, error) {
	var report LoadReport
	bots, err := e.db.ListActiveBots(ctx)
	if err != nil {
		return report, err
	}
	for _, rec := range bots {
		switch err := e.load(ctx, rec); {
		case err == nil:
			report.Resumed = append(report.Resumed, rec.ID)
		case errors.Is(err, ErrChartNotFound):
			report.Orphaned = append(report.Orphaned, rec.ID)
		case common.IsUnavailable(err):
			report.Deferred = append(report.Deferred, rec.ID)
		default:
			report.Failed = append(report.Failed, rec.ID)
		}
	}
	e.metrics.SetActiveBots(e.registry.Len())
	e.log.Infof("loaded active bots: %d resumed, %d orphaned, %d failed, %d deferred",
		len(report.Resumed), len(report.Orphaned), len(report.Failed), len(report.Deferred))
	return report, nil
}

func (e *Impl) load(ctx context.Context, rec db.BotInstance) error {
	if e.registry.Has(rec.ID) {
		return nil
	}
	ok, err := e.db.ChartExists(ctx, rec.ChartID)
	if err != nil {
		return err
	}
	if !ok {
		rec.Active, rec.Running, rec.Status = false, false, db.BotStopped
		rec.LastError = "chart " + rec.ChartID + " no longer exists"
		if err := e.db.SaveBotState(ctx, rec); err != nil {
			e.log.Warnf("bot %s: persist orphan: %v", rec.ID, err)
		}
		e.audit(rec.ID, events.BotOrphaned, map[string]any{"chart_id": rec.ChartID})
		e.publishStatus(rec)
		e.log.Warnf("bot %s orphaned: chart %s was deleted", rec.ID, rec.ChartID)
		return fmt.Errorf("bot %s: %w", rec.ID, ErrChartNotFound)
	}

	b, err := e.buildRuntime(ctx, rec, nil)
	if common.IsUnavailable(err) {
		e.markPending(rec.ID)
		e.log.Warnf("bot %s: runtime deferred, broker unavailable: %v", rec.ID, err)
		return err
	}
	if err != nil {
		rec.Active, rec.Running, rec.Status, rec.LastError = false, false, db.BotError, err.Error()
		if serr := e.db.SaveBotState(ctx, rec); serr != nil {
			e.log.Warnf("bot %s: persist error status: %v", rec.ID, serr)
		}
		e.audit(rec.ID, events.TickError, map[string]any{"phase": "load", "error": err.Error()})
		e.publishStatus(rec)
		e.log.Errorf("bot %s: cannot rebuild runtime: %v", rec.ID, err)
		return err
	}
	e.registry.Add(b)
	e.clearPending(rec.ID)
	e.log.Infof("bot %s resumed (bought=%v open=%.4f)", rec.ID, rec.Bought, rec.OpenShares)
	return nil
}

// buildRuntime classifies the chart lines, qualifies the symbol, picks the
// risk bucket and applies the saved checkpoint.
func (e *Impl) buildRuntime(ctx context.Context, rec db.BotInstance, chart *db.ChartConfiguration) (*state.Bot, error) {
	if chart == nil {
		c, err := e.db.GetChart(ctx, rec.ChartID)
		if errors.Is(err, db.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", rec.ChartID, ErrChartNotFound)
		}
		if err != nil {
			return nil, err
		}
		chart = c
	}
	dir, err := strategy.ParseDirection(rec.Strategy)
	if err != nil {
		return nil, fmt.Errorf("bot %s: %v: %w", rec.ID, err, ErrInvalidBot)
	}
	bucket, err := e.buckets.ForInterval(ctx, rec.Interval)
	if err != nil {
		return nil, err
	}
	cls, err := strategy.Classify(dir, rec.MultiBuy, strategy.RawLines(chart), e.now(), e.session)
	if err != nil {
		return nil, fmt.Errorf("bot %s: %v: %w", rec.ID, err, ErrInvalidBot)
	}
	if len(cls.Skipped) > 0 {
		e.log.Warnf("bot %s: skipped lines without two anchors: %v", rec.ID, cls.Skipped)
	}
	if len(cls.Entries) == 0 && !rec.Bought {
		return nil, fmt.Errorf("chart %s has no entry line: %w", chart.ID, ErrInvalidBot)
	}

	inst, err := e.broker.Qualify(ctx, rec.Symbol)
	if err != nil {
		return nil, fmt.Errorf("qualify %s: %w", rec.Symbol, err)
	}

	b := state.NewBot(rec, dir, bucket, cls)
	b.Instrument = inst
	if e.checkpoints != nil {
		cp, err := e.checkpoints.Load(rec.ID)
		if err != nil {
			return nil, err
		}
		if cp != nil {
			b.Restore(*cp)
		}
	}
	if dir == strategy.Options && rec.Bought && b.Contract == nil {
		return nil, fmt.Errorf("bot %s holds %s without a saved contract: %w", rec.ID, rec.OptionSymbol, ErrInvalidBot)
	}
	return b, nil
}

func (e *Impl) getBot(ctx context.Context, id string) (*db.BotInstance, error) {
	rec, err := e.db.GetBot(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		return nil, fmt.Errorf("%s: %w", id, ErrBotNotFound)
	}
	return rec, err
}

func (e *Impl) saveCheckpoint(b *state.Bot) {
	if e.checkpoints == nil {
		return
	}
	if err := e.checkpoints.Save(b.Checkpoint(e.now())); err != nil {
		e.log.Warnf("bot %s: save checkpoint: %v", b.ID(), err)
	}
}

func (e *Impl) markPending(id string) {
	e.mu.Lock()
	e.pending[id] = true
	e.mu.Unlock()
}

func (e *Impl) clearPending(id string) {
	e.mu.Lock()
	delete(e.pending, id)
	e.mu.Unlock()
}

func viewOf(b *state.Bot) *state.View {
	v := b.View()
	return &v
}
