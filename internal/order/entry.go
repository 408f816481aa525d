package order

import (
	"context"
	"fmt"

	"trendline-core/internal/events"
	"trendline-core/internal/state"
	"trendline-core/internal/strategy"
	"trendline-core/pkg/exchanges/common"
)

// WantsEntry reports whether entry lines should still be evaluated: always
// while a multi-buy half is unreleased, otherwise only until the first entry
// order is working or filled.
func WantsEntry(b *state.Bot) bool {
	if b.MultiBuy.Enabled {
		return b.MultiBuy.Pending()
	}
	if b.Record.Bought || b.EntryLive() {
		return false
	}
	for _, s := range b.EntrySlots {
		if s.Status == state.SlotFilled {
			return false
		}
	}
	return true
}

// Enter places the market buy for a fired entry line. With multi-buy each
// line releases its own half exactly once, even if the order is rejected.
func (m *Manager) Enter(ctx context.Context, b *state.Bot, fire strategy.Fire, price float64) error {
	qty := b.Record.TradeSize
	half := -1
	if b.MultiBuy.Enabled {
		half = b.MultiBuy.Index(fire.Line.ID)
		if half < 0 || b.MultiBuy.Fired[half] {
			return nil
		}
		qty = b.MultiBuy.Half(half, b.Record.TradeSize)
	} else if !WantsEntry(b) {
		return nil
	}
	if qty <= 0 {
		return fmt.Errorf("entry %s: trade size %.4f", fire.Line.ID, qty)
	}

	m.audit(b, events.EntryFired, map[string]any{
		"line_id":  fire.Line.ID,
		"rule":     string(fire.Rule),
		"line":     fire.Line.Price,
		"previous": fire.Previous,
		"current":  fire.Current,
		"quantity": qty,
	})

	inst, err := m.entryInstrument(ctx, b, price)
	if err != nil {
		if !common.IsUnavailable(err) && half >= 0 {
			b.MultiBuy.Fired[half] = true
		}
		m.audit(b, events.OrderRejected, map[string]any{"kind": string(state.SlotEntry), "line_id": fire.Line.ID, "error": err.Error()})
		return err
	}

	if b.Direction == strategy.Spot {
		ok, err := m.broker.CheckSufficientCash(ctx, qty*price)
		if err != nil {
			return fmt.Errorf("cash check: %w", err)
		}
		if !ok {
			if half >= 0 {
				b.MultiBuy.Fired[half] = true
			}
			b.EntrySlot(fire.Line.ID).Settle(state.SlotRejected, m.now())
			m.audit(b, events.OrderRejected, map[string]any{
				"kind":     string(state.SlotEntry),
				"line_id":  fire.Line.ID,
				"quantity": qty,
				"error":    common.ErrInsufficientCash.Error(),
			})
			return fmt.Errorf("entry %s for %.4f @ %.4f: %w", fire.Line.ID, qty, price, common.ErrInsufficientCash)
		}
	}

	err = m.submit(ctx, b, b.EntrySlot(fire.Line.ID), common.OrderRequest{
		Instrument: inst,
		Side:       common.SideBuy,
		Type:       common.OrderTypeMarket,
		Qty:        qty,
	})
	if half >= 0 && (err == nil || !common.IsUnavailable(err)) {
		b.MultiBuy.Fired[half] = true
	}
	return err
}

// entryInstrument returns the underlying for spot, or selects and qualifies
// a put for options on the first entry.
func (m *Manager) entryInstrument(ctx context.Context, b *state.Bot, price float64) (common.Instrument, error) {
	if b.Direction != strategy.Options {
		return b.Instrument, nil
	}
	if b.Contract != nil {
		return *b.Contract, nil
	}
	c, err := strategy.SelectPut(ctx, m.broker, b.Record.Symbol, price, m.now(), m.cfg.OptionPolicy)
	if err != nil {
		return common.Instrument{}, err
	}
	b.Contract = &c
	b.Record.OptionSymbol = c.Symbol
	m.log.Infof("bot %s: selected put %s (strike %.2f, expiry %s)", b.ID(), c.Symbol, c.Strike, c.Expiry.Format("2006-01-02"))
	return c, nil
}

// onEntryFilled books an entry fill. For spot the broker's fill price is the
// entry price; for options the entry price is the underlying at fill and the
// premium is kept separately. Spot bots then (re)size their exits and stop.
func (m *Manager) onEntryFilled(ctx context.Context, b *state.Bot, s *state.Slot, fill common.Fill, underlying float64) error {
	qty, px := fill.Qty, fill.Price
	if qty <= 0 {
		qty = s.Quantity
	}
	if px <= 0 {
		px = underlying
	}
	s.MarkFilled(qty, px, m.now())

	ref := px
	if b.Direction == strategy.Options {
		ref = underlying
		prev := b.Record.SharesEntered
		b.Record.OptionPremium = (b.Record.OptionPremium*prev + px*qty) / (prev + qty)
	}
	b.ApplyEntryFill(qty, ref)
	if i := b.MultiBuy.Index(s.LineID); b.MultiBuy.Enabled && i >= 0 {
		b.MultiBuy.Filled[i] = true
		b.MultiBuy.FilledQty += qty
	}
	m.syncRecord(b)

	p := slotPayload(s)
	p["fill_qty"] = qty
	p["fill_price"] = px
	p["entry_price"] = b.Record.EntryPrice
	m.audit(b, events.OrderFilled, p)
	m.log.Infof("bot %s: entry %s filled %.4f @ %.4f, open %.4f", b.ID(), s.LineID, qty, px, b.Record.OpenShares)

	if b.Direction == strategy.Spot {
		return m.syncProtection(ctx, b, "entry_filled")
	}
	return nil
}
