package order

import (
	"context"
	"errors"
	"fmt"

	"trendline-core/internal/events"
	"trendline-core/internal/state"
)

// Reconcile runs the per-tick order work of a bot: fill detection for every
// working slot, then the periodic limit price refresh, then healing. A failed
// status or fill query leaves the slot as it was for the next tick.
func (m *Manager) Reconcile(ctx context.Context, b *state.Bot, underlying float64) error {
	var errs []error

	for _, s := range b.LiveSlots() {
		if b.Done {
			break
		}
		if err := m.detect(ctx, b, s, underlying); err != nil {
			errs = append(errs, err)
		}
	}
	if b.Done {
		return errors.Join(errs...)
	}

	if err := m.refresh(ctx, b); err != nil {
		errs = append(errs, err)
	}
	if err := m.heal(ctx, b); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (m *Manager) detect(ctx context.Context, b *state.Bot, s *state.Slot, underlying float64) error {
	if !s.Live() {
		return nil
	}
	st, err := m.broker.GetOrderStatus(ctx, s.OrderID)
	if err != nil {
		return fmt.Errorf("status of %s order %s: %w", s.Kind, s.OrderID, err)
	}

	switch next := state.SlotFromOrderStatus(st); next {
	case state.SlotSubmitted:
		return nil
	case state.SlotFilled:
		fill, err := m.broker.GetFills(ctx, s.OrderID)
		if err != nil {
			return fmt.Errorf("fills of %s order %s: %w", s.Kind, s.OrderID, err)
		}
		switch s.Kind {
		case state.SlotEntry:
			return m.onEntryFilled(ctx, b, s, fill, underlying)
		case state.SlotExit:
			return m.onExitFilled(ctx, b, s, fill)
		case state.SlotStopLoss:
			return m.onStopFilled(ctx, b, s, fill)
		}
	default:
		s.Settle(next, m.now())
		typ := events.OrderCancelled
		if next == state.SlotRejected {
			typ = events.OrderRejected
		}
		p := slotPayload(s)
		p["broker_status"] = string(st)
		m.audit(b, typ, p)
		m.syncRecord(b)
		m.log.Infof("bot %s: %s order %s ended %s", b.ID(), s.Kind, s.OrderID, st)
	}
	return nil
}

// Completable reports whether a bought bot has closed its position and has
// no working exit orders left.
func Completable(b *state.Bot) bool {
	return b.Record.Bought && b.Record.OpenShares <= 0 && b.ExitsTerminal() && !b.Done
}
