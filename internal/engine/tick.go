package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"trendline-core/internal/events"
	"trendline-core/internal/order"
	"trendline-core/internal/state"
	"trendline-core/internal/strategy"
	"trendline-core/pkg/db"
	"trendline-core/pkg/exchanges/common"
)

// Run sweeps every active bot once per PriceInterval until ctx is done.
func (e *Impl) Run(ctx context.Context) {
	e.log.Infof("price monitor started (interval %s, %d bots in parallel)", e.cfg.PriceInterval, e.cfg.MaxParallel)
	e.Sweep(ctx)

	ticker := time.NewTicker(e.cfg.PriceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			e.log.Info("price monitor stopped")
			return
		case <-ticker.C:
			e.Sweep(ctx)
		}
	}
}

// Sweep ticks every registered bot once. Bots run in parallel up to
// MaxParallel, each bounded by TickTimeout. While the broker supervisor
// reports the connection down no bot is ticked.
func (e *Impl) Sweep(ctx context.Context) {
	start := time.Now()
	e.publishHealth()
	e.retryPending(ctx)

	ids := e.registry.IDs()
	if e.sup != nil && !e.sup.Healthy() {
		for range ids {
			e.metrics.IncrementSkipped("broker_unhealthy")
		}
		e.log.Warnf("broker unhealthy, skipping %d bots", len(ids))
		e.finishSweep()
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.MaxParallel)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			tctx, cancel := context.WithTimeout(gctx, e.cfg.TickTimeout)
			defer cancel()
			e.tickBot(tctx, id)
			return nil
		})
	}
	_ = g.Wait()

	e.metrics.TickLatency.RecordDuration(time.Since(start))
	e.finishSweep()
}

func (e *Impl) finishSweep() {
	e.metrics.SetActiveBots(e.registry.Len())
	e.metrics.MarkTick(e.now())
	e.mu.Lock()
	e.lastSweep = e.now().UTC()
	e.mu.Unlock()
}

// tickBot runs one tick of a bot under its lock and evicts it when it
// reached a terminal status.
func (e *Impl) tickBot(ctx context.Context, id string) {
	var done *state.Bot
	err := e.registry.With(id, func(b *state.Bot) (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
				b.Record.LastError = err.Error()
				b.Finish(db.BotError, e.now())
			}
			if b.Done {
				done = b
			}
		}()
		return e.tick(ctx, b)
	})

	switch {
	case errors.Is(err, state.ErrNotRegistered):
		return
	case errors.Is(err, common.ErrPriceUnavailable):
		e.metrics.IncrementSkipped("price_unavailable")
		e.log.Warnf("bot %s: %v", id, err)
	case err != nil:
		e.metrics.IncrementErrors()
		e.audit(id, events.TickError, map[string]any{"error": err.Error()})
		e.log.Errorf("bot %s tick: %v", id, err)
	default:
		e.metrics.IncrementTicks()
	}
	if done != nil {
		e.finalize(ctx, done)
	}
}

// tick evaluates a bot at the current price: line refresh, entry and exit
// crossings, order reconciliation, completion, stop checks.
func (e *Impl) tick(ctx context.Context, b *state.Bot) error {
	price, err := e.prices.LastPrice(ctx, b.Record.Symbol)
	if err != nil {
		if !errors.Is(err, common.ErrPriceUnavailable) {
			err = fmt.Errorf("%w: %w", common.ErrPriceUnavailable, err)
		}
		return fmt.Errorf("price of %s: %w", b.Record.Symbol, err)
	}
	if price <= 0 {
		return fmt.Errorf("price of %s is %.4f: %w", b.Record.Symbol, price, common.ErrPriceUnavailable)
	}
	now := e.now()
	b.LastPrice = price
	b.LastTick = now

	strategy.RefreshAll(b.Entries, now, e.session)
	strategy.RefreshAll(b.Exits, now, e.session)
	b.Detector.Seed(b.Direction, b.Entries, price)

	var errs []error
	if order.WantsEntry(b) {
		for _, f := range b.Detector.EntryFires(b.Entries, price) {
			err := e.orders.Enter(ctx, b, f, price)
			if err != nil {
				errs = append(errs, err)
			}
			if !common.IsUnavailable(err) {
				b.Detector.MarkCrossed(f.Line.ID)
			}
			if !order.WantsEntry(b) {
				break
			}
		}
	}
	if b.Bought() {
		for _, f := range b.Detector.ExitFires(b.Exits, price) {
			if err := e.orders.Exit(ctx, b, f); err != nil {
				errs = append(errs, err)
			}
			b.Detector.MarkCrossed(f.Line.ID)
		}
	}

	if err := e.orders.Reconcile(ctx, b, price); err != nil {
		errs = append(errs, err)
	}
	if order.Completable(b) {
		if err := e.complete(ctx, b); err != nil {
			errs = append(errs, err)
		}
	}
	if !b.Done {
		if _, err := e.risk.Evaluate(ctx, b, price); err != nil {
			errs = append(errs, err)
		}
	}

	b.Detector.Advance(price)
	if !b.Done {
		e.saveCheckpoint(b)
	}
	return errors.Join(errs...)
}

// complete closes a bot whose position is fully exited.
func (e *Impl) complete(ctx context.Context, b *state.Bot) error {
	_, err := e.orders.CancelAll(ctx, b, "completed")
	b.Finish(db.BotCompleted, e.now())
	e.audit(b.ID(), events.BotCompleted, map[string]any{
		"shares_entered": b.Record.SharesEntered,
		"shares_exited":  b.Record.SharesExited,
		"entry_price":    b.Record.EntryPrice,
	})
	e.log.Infof("bot %s completed: %.4f entered, %.4f exited", b.ID(), b.Record.SharesEntered, b.Record.SharesExited)
	return err
}

// finalize persists a terminal bot and evicts it. The checkpoint is kept
// when the record could not be written so a restart still sees the runtime.
func (e *Impl) finalize(ctx context.Context, b *state.Bot) {
	rec := b.Record
	if err := e.db.SaveBotState(context.WithoutCancel(ctx), rec); err != nil {
		e.log.Errorf("bot %s: persist final status %s: %v", rec.ID, rec.Status, err)
		e.saveCheckpoint(b)
	} else if e.checkpoints != nil {
		if err := e.checkpoints.Delete(rec.ID); err != nil {
			e.log.Warnf("bot %s: delete checkpoint: %v", rec.ID, err)
		}
	}
	e.registry.Remove(rec.ID)
	e.metrics.SetActiveBots(e.registry.Len())
	e.publishStatus(rec)
	e.log.Infof("bot %s finished with status %s", rec.ID, rec.Status)
}

// retryPending rebuilds bots whose load was deferred by an unavailable broker.
func (e *Impl) retryPending(ctx context.Context) {
	e.mu.Lock()
	ids := make([]string, 0, len(e.pending))
	for id := range e.pending {
		ids = append(ids, id)
	}
	e.mu.Unlock()
	if len(ids) == 0 || (e.sup != nil && !e.sup.Healthy()) {
		return
	}

	for _, id := range ids {
		rec, err := e.db.GetBot(ctx, id)
		if err != nil {
			if errors.Is(err, db.ErrNotFound) {
				e.clearPending(id)
			}
			continue
		}
		if !rec.Active {
			e.clearPending(id)
			continue
		}
		if err := e.load(ctx, *rec); err != nil && !common.IsUnavailable(err) {
			e.clearPending(id)
		}
	}
}

// publishHealth announces broker connection state transitions on the bus.
func (e *Impl) publishHealth() {
	if e.sup == nil {
		return
	}
	h := e.sup.Health()
	e.metrics.SetBrokerHealth(string(h.State))

	e.mu.Lock()
	changed := h.State != e.lastHealth
	e.lastHealth = h.State
	e.mu.Unlock()
	if changed && e.bus != nil {
		e.bus.Publish(events.EventBrokerHealth, h)
	}
}
