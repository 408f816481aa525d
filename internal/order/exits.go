package order

import (
	"context"
	"errors"
	"fmt"

	"trendline-core/internal/events"
	"trendline-core/internal/risk"
	"trendline-core/internal/state"
	"trendline-core/internal/strategy"
	"trendline-core/pkg/db"
	"trendline-core/pkg/exchanges/common"
)

// exitQty is the stable allocation of a line, capped by the open position.
func exitQty(b *state.Bot, lineID string) float64 {
	q := b.Allocation.Target(lineID)
	if q > b.Record.OpenShares {
		q = b.Record.OpenShares
	}
	return q
}

// Exit handles a fired exit line. Spot exits rest as limit orders placed at
// entry fill, so a crossing only repairs a missing order. Options exits sell
// the contracts at market: the line is a trigger, never a price.
func (m *Manager) Exit(ctx context.Context, b *state.Bot, fire strategy.Fire) error {
	id := fire.Line.ID
	if b.FilledExitLines[id] || !b.Bought() {
		return nil
	}
	m.audit(b, events.ExitFired, map[string]any{
		"line_id":  id,
		"line":     fire.Line.Price,
		"previous": fire.Previous,
		"current":  fire.Current,
	})
	s := b.ExitSlot(id)
	if s.Live() {
		return nil
	}
	if b.Direction == strategy.Options {
		return m.submitOptionExit(ctx, b, s)
	}
	return m.submitLimitExit(ctx, b, s, fire.Line)
}

func (m *Manager) submitOptionExit(ctx context.Context, b *state.Bot, s *state.Slot) error {
	qty := exitQty(b, s.LineID)
	if qty <= 0 {
		return nil
	}
	return m.submit(ctx, b, s, common.OrderRequest{
		Instrument: b.TradeInstrument(),
		Side:       common.SideSell,
		Type:       common.OrderTypeMarket,
		Qty:        qty,
	})
}

func (m *Manager) limitExitRequest(b *state.Bot, line strategy.Line, qty float64) common.OrderRequest {
	return common.OrderRequest{
		Instrument: b.Instrument,
		Side:       common.SideSell,
		Type:       common.OrderTypeLimit,
		Qty:        qty,
		Price:      RoundToTick(line.Price, b.Instrument.TickSize),
	}
}

func (m *Manager) submitLimitExit(ctx context.Context, b *state.Bot, s *state.Slot, line strategy.Line) error {
	qty := exitQty(b, line.ID)
	if qty <= 0 {
		return nil
	}
	return m.submit(ctx, b, s, m.limitExitRequest(b, line, qty))
}

// syncProtection makes the spot exits and stop-loss match the position: one
// limit sell per unfilled exit line sized by the stable allocation and one
// stop sized to the open shares. Orders with the wrong size are replaced.
func (m *Manager) syncProtection(ctx context.Context, b *state.Bot, reason string) error {
	if !b.Bought() {
		return nil
	}
	var errs []error
	for _, id := range b.Allocation.Lines {
		if b.FilledExitLines[id] {
			continue
		}
		line, ok := b.Line(id)
		if !ok {
			continue
		}
		qty := exitQty(b, id)
		if qty <= 0 {
			continue
		}
		s := b.ExitSlot(id)
		req := m.limitExitRequest(b, line, qty)
		switch {
		case !s.Live():
			errs = append(errs, m.submit(ctx, b, s, req))
		case s.Quantity != qty:
			errs = append(errs, m.replace(ctx, b, s, req, reason))
		}
	}
	errs = append(errs, m.syncStopLoss(ctx, b, reason))
	return errors.Join(errs...)
}

// syncStopLoss keeps a stop sell at the hard-stop price for the open shares.
func (m *Manager) syncStopLoss(ctx context.Context, b *state.Bot, reason string) error {
	if b.Direction != strategy.Spot || b.Risk.HardStopPct <= 0 || !b.Bought() {
		return nil
	}
	trigger := RoundToTick(risk.HardStopPrice(b.Direction, b.Record.EntryPrice, b.Risk.HardStopPct), b.Instrument.TickSize)
	req := common.OrderRequest{
		Instrument: b.Instrument,
		Side:       common.SideSell,
		Type:       common.OrderTypeStop,
		Qty:        b.Record.OpenShares,
		Price:      trigger,
	}
	if b.StopLoss == nil {
		b.StopLoss = state.NewSlot(state.SlotStopLoss, "")
	}
	s := b.StopLoss
	switch {
	case !s.Live():
		return m.submit(ctx, b, s, req)
	case s.Quantity != req.Qty || movedByMoreThanTick(s.Price, trigger, b.Instrument.TickSize):
		return m.replace(ctx, b, s, req, reason)
	}
	return nil
}

// heal resubmits exits that should be working but are not: every unfilled
// spot exit line, and every crossed unfilled options exit line.
func (m *Manager) heal(ctx context.Context, b *state.Bot) error {
	if !b.Bought() {
		return nil
	}
	if b.Direction == strategy.Spot {
		return m.syncProtection(ctx, b, "heal")
	}
	var errs []error
	for _, id := range b.Allocation.Lines {
		if b.FilledExitLines[id] || !b.Detector.Crossed[id] {
			continue
		}
		if s := b.ExitSlot(id); !s.Live() {
			errs = append(errs, m.submitOptionExit(ctx, b, s))
		}
	}
	return errors.Join(errs...)
}

// refresh moves working limit orders to their line's current price when it
// drifted by more than one tick. Orders are modified in place.
func (m *Manager) refresh(ctx context.Context, b *state.Bot) error {
	now := m.now()
	if !b.LastRefresh.IsZero() && now.Sub(b.LastRefresh) < m.cfg.RefreshInterval {
		return nil
	}
	b.LastRefresh = now

	var errs []error
	for _, s := range b.LiveSlots() {
		if s.Type != common.OrderTypeLimit || s.LineID == "" {
			continue
		}
		line, ok := b.Line(s.LineID)
		if !ok {
			continue
		}
		tick := b.Instrument.TickSize
		target := RoundToTick(line.Price, tick)
		if !movedByMoreThanTick(target, s.Price, tick) {
			continue
		}
		newID, err := m.broker.ModifyOrderPrice(ctx, s.OrderID, target)
		if err != nil {
			errs = append(errs, fmt.Errorf("modify %s order %s: %w", s.Kind, s.OrderID, err))
			continue
		}
		old := s.Price
		oldID := s.OrderID
		if newID != "" {
			s.OrderID = newID
		}
		s.Price = target
		s.UpdatedAt = now
		m.audit(b, events.OrderModified, map[string]any{
			"line_id":      s.LineID,
			"order_id":     s.OrderID,
			"old_order_id": oldID,
			"old_price":    old,
			"new_price":    target,
		})
	}
	return errors.Join(errs...)
}

// onExitFilled books an exit fill. The line is recorded as filled for good.
func (m *Manager) onExitFilled(ctx context.Context, b *state.Bot, s *state.Slot, fill common.Fill) error {
	qty, px := fill.Qty, fill.Price
	if qty <= 0 {
		qty = s.Quantity
	}
	if px <= 0 {
		px = s.Price
	}
	s.MarkFilled(qty, px, m.now())
	applied := b.ApplyExit(qty)
	b.FilledExitLines[s.LineID] = true

	entry := b.Record.EntryPrice
	if b.Direction == strategy.Options {
		entry = b.Record.OptionPremium
	}
	p := slotPayload(s)
	p["fill_qty"] = applied
	p["fill_price"] = px
	p["open_shares"] = b.Record.OpenShares
	p["realized_pnl"] = RealizedPnL(b.Direction, applied, entry, px)
	m.audit(b, events.OrderFilled, p)
	m.log.Infof("bot %s: exit %s filled %.4f @ %.4f, open %.4f", b.ID(), s.LineID, applied, px, b.Record.OpenShares)

	if b.Bought() && b.Direction == strategy.Spot {
		return m.syncStopLoss(ctx, b, "exit_filled")
	}
	return nil
}

// onStopFilled books a stop-loss execution: remaining exits are cancelled
// and the bot is hard-stopped out.
func (m *Manager) onStopFilled(ctx context.Context, b *state.Bot, s *state.Slot, fill common.Fill) error {
	qty, px := fill.Qty, fill.Price
	if qty <= 0 {
		qty = s.Quantity
	}
	s.MarkFilled(qty, px, m.now())
	applied := b.ApplyExit(qty)
	m.syncRecord(b)

	p := slotPayload(s)
	p["fill_qty"] = applied
	p["fill_price"] = px
	m.audit(b, events.OrderFilled, p)

	_, err := m.CancelAll(ctx, b, "stop_loss_filled")
	m.audit(b, events.HardStopLiquidation, map[string]any{
		"source":    "stop_order",
		"price":     px,
		"shares":    applied,
		"hard_stop": s.Price,
	})
	b.Finish(db.BotHardStoppedOut, m.now())
	m.log.Warnf("bot %s: stop-loss filled %.4f @ %.4f", b.ID(), applied, px)
	return err
}
