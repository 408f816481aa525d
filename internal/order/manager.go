package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"trendline-core/internal/events"
	"trendline-core/internal/state"
	"trendline-core/pkg/exchanges/common"
)

// ErrSlotBusy is returned when a replacement is skipped because the old
// order could not be confirmed cancelled.
var ErrSlotBusy = errors.New("slot still has a working order")

// Manager drives the order slots of bots: entry placement, fill detection,
// exit and stop-loss placement, price refresh, healing and liquidation.
// Every method expects the caller to hold the bot's registry lock.
type Manager struct {
	broker   common.Broker
	rec      events.Recorder
	cfg      Config
	log      *zap.SugaredLogger
	now      func() time.Time
	clientID func() string
}

// NewManager creates an order manager.
func NewManager(broker common.Broker, rec events.Recorder, cfg Config, log *zap.SugaredLogger) *Manager {
	if rec == nil {
		rec = events.Discard
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = 30 * time.Second
	}
	return &Manager{
		broker:   broker,
		rec:      rec,
		cfg:      cfg,
		log:      log,
		now:      time.Now,
		clientID: NewClientID,
	}
}

// SetClock replaces the time source; used by tests.
func (m *Manager) SetClock(now func() time.Time) { m.now = now }

func (m *Manager) audit(b *state.Bot, typ events.Type, payload map[string]any) {
	m.rec.Record(events.Audit{BotID: b.ID(), Type: typ, Payload: payload, At: m.now()})
}

func slotPayload(s *state.Slot) map[string]any {
	p := map[string]any{
		"kind":     string(s.Kind),
		"order_id": s.OrderID,
		"type":     string(s.Type),
		"quantity": s.Quantity,
	}
	if s.LineID != "" {
		p["line_id"] = s.LineID
	}
	if s.Price > 0 {
		p["price"] = s.Price
	}
	return p
}

// submit places req for an idle slot. A rejection settles the slot as
// REJECTED; a connectivity failure leaves it untouched for a later retry.
func (m *Manager) submit(ctx context.Context, b *state.Bot, s *state.Slot, req common.OrderRequest) error {
	if s.Live() {
		return ErrSlotBusy
	}
	req.ClientID = m.clientID()
	res, err := m.broker.PlaceOrder(ctx, req)
	if err != nil {
		if common.IsUnavailable(err) {
			m.log.Warnf("bot %s: %s order for %s not sent, broker unavailable: %v", b.ID(), s.Kind, req.Instrument.Symbol, err)
			return err
		}
		s.Settle(state.SlotRejected, m.now())
		s.Attempts++
		m.audit(b, events.OrderRejected, map[string]any{
			"kind":     string(s.Kind),
			"line_id":  s.LineID,
			"side":     string(req.Side),
			"type":     string(req.Type),
			"quantity": req.Qty,
			"price":    req.Price,
			"error":    err.Error(),
		})
		m.log.Warnf("bot %s: %s order rejected: %v", b.ID(), s.Kind, err)
		return err
	}

	s.MarkSubmitted(res.OrderID, req.ClientID, req.Type, req.Price, req.Qty, m.now())
	p := slotPayload(s)
	p["side"] = string(req.Side)
	p["symbol"] = req.Instrument.Symbol
	p["client_id"] = req.ClientID
	m.audit(b, events.OrderSubmitted, p)
	m.log.Infof("bot %s: %s %s %s %.4f %s @ %.4f -> %s", b.ID(), s.Kind, req.Side, req.Type, req.Qty, req.Instrument.Symbol, req.Price, res.OrderID)
	m.syncRecord(b)
	return nil
}

// cancel cancels the working order of s. When the broker says the order is
// no longer cancelable the slot keeps its state so fill detection picks up
// the final status, and ErrSlotBusy is returned.
func (m *Manager) cancel(ctx context.Context, b *state.Bot, s *state.Slot, reason string) error {
	if !s.Live() {
		return nil
	}
	ok, err := m.broker.CancelOrder(ctx, s.OrderID)
	if err != nil && !errors.Is(err, common.ErrOrderNotFound) {
		return fmt.Errorf("cancel %s order %s: %w", s.Kind, s.OrderID, err)
	}
	if !ok && err == nil {
		st, serr := m.broker.GetOrderStatus(ctx, s.OrderID)
		if serr != nil || state.SlotFromOrderStatus(st) != state.SlotCancelled {
			return fmt.Errorf("cancel %s order %s (status %s): %w", s.Kind, s.OrderID, st, ErrSlotBusy)
		}
	}
	s.Settle(state.SlotCancelled, m.now())
	p := slotPayload(s)
	p["reason"] = reason
	m.audit(b, events.OrderCancelled, p)
	m.syncRecord(b)
	return nil
}

// replace swaps the working order of s for req: the old order is cancelled
// and audited before the new one is submitted.
func (m *Manager) replace(ctx context.Context, b *state.Bot, s *state.Slot, req common.OrderRequest, reason string) error {
	old := *s
	if err := m.cancel(ctx, b, s, reason); err != nil {
		return err
	}
	m.audit(b, events.SlotReplaced, map[string]any{
		"kind":         string(s.Kind),
		"line_id":      s.LineID,
		"old_order_id": old.OrderID,
		"old_quantity": old.Quantity,
		"old_price":    old.Price,
		"new_quantity": req.Qty,
		"new_price":    req.Price,
		"reason":       reason,
	})
	return m.submit(ctx, b, s, req)
}

// syncRecord mirrors the entry and stop-loss slots into the persisted record.
func (m *Manager) syncRecord(b *state.Bot) {
	var latest *state.Slot
	for _, s := range b.EntrySlots {
		if s.Status == state.SlotNone {
			continue
		}
		if latest == nil || s.SubmittedAt.After(latest.SubmittedAt) {
			latest = s
		}
	}
	if latest != nil {
		b.Record.EntryOrderID = latest.OrderID
		b.Record.EntryOrderStatus = string(latest.Status)
	}
	if b.StopLoss != nil {
		b.Record.StopOrderID = b.StopLoss.OrderID
		b.Record.StopOrderStatus = string(b.StopLoss.Status)
	}
	if b.Contract != nil {
		b.Record.OptionSymbol = b.Contract.Symbol
	}
}

// CancelAll cancels every working order of the bot and returns how many were
// cancelled. Bot flags are not changed.
func (m *Manager) CancelAll(ctx context.Context, b *state.Bot, reason string) (int, error) {
	var errs []error
	n := 0
	for _, s := range b.LiveSlots() {
		if err := m.cancel(ctx, b, s, reason); err != nil {
			errs = append(errs, err)
			continue
		}
		n++
	}
	if n > 0 || len(errs) > 0 {
		m.audit(b, events.OrdersCancelled, map[string]any{"cancelled": n, "failed": len(errs), "reason": reason})
	}
	return n, errors.Join(errs...)
}

// Liquidate cancels working orders and sells the open position at market.
// An order whose cancel is refused because it already executed is booked
// first, so the sale covers only what is still open; a stop-loss found
// filled finishes the bot without a sale. Any other cancel failure aborts
// before selling and is returned so the caller retries on a later tick.
// The sale is not reconciled: once accepted the position is treated as closed.
func (m *Manager) Liquidate(ctx context.Context, b *state.Bot, reason string) error {
	if err := m.clearForLiquidation(ctx, b, reason); err != nil {
		return fmt.Errorf("%s liquidation: %w", reason, err)
	}
	qty := b.Record.OpenShares
	if b.Done || qty <= 0 {
		return nil
	}
	inst := b.TradeInstrument()
	res, err := m.broker.PlaceOrder(ctx, common.OrderRequest{
		Instrument: inst,
		Side:       common.SideSell,
		Type:       common.OrderTypeMarket,
		Qty:        qty,
		ClientID:   m.clientID(),
	})
	if err != nil {
		return fmt.Errorf("liquidate %.4f %s: %w", qty, inst.Symbol, err)
	}
	b.ApplyExit(qty)
	m.audit(b, events.OrderSubmitted, map[string]any{
		"kind":     "liquidation",
		"order_id": res.OrderID,
		"side":     string(common.SideSell),
		"type":     string(common.OrderTypeMarket),
		"quantity": qty,
		"symbol":   inst.Symbol,
		"reason":   reason,
	})
	m.log.Warnf("bot %s: liquidated %.4f %s (%s) -> %s", b.ID(), qty, inst.Symbol, reason, res.OrderID)
	return nil
}

// liquidationPasses bounds clearForLiquidation. Booking a fill can put a
// resized exit or stop back on the book, which the next pass cancels.
const liquidationPasses = 3

// clearForLiquidation leaves the bot without working orders and with every
// execution booked.
func (m *Manager) clearForLiquidation(ctx context.Context, b *state.Bot, reason string) error {
	for pass := 0; pass < liquidationPasses; pass++ {
		live := b.LiveSlots()
		if len(live) == 0 || b.Done {
			return nil
		}
		n := 0
		for _, s := range live {
			if b.Done {
				return nil
			}
			err := m.cancel(ctx, b, s, reason)
			if err == nil {
				n++
				continue
			}
			if !errors.Is(err, ErrSlotBusy) {
				return err
			}
			// refused: the order may have executed since the last status poll
			if err := m.detect(ctx, b, s, b.LastPrice); err != nil {
				return err
			}
			if s.Live() {
				return fmt.Errorf("%s order %s still working: %w", s.Kind, s.OrderID, ErrSlotBusy)
			}
		}
		if n > 0 {
			m.audit(b, events.OrdersCancelled, map[string]any{"cancelled": n, "failed": 0, "reason": reason})
		}
	}
	if live := b.LiveSlots(); len(live) > 0 && !b.Done {
		return fmt.Errorf("%d orders still working: %w", len(live), ErrSlotBusy)
	}
	return nil
}
