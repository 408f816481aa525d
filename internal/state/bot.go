package state

import (
	"sort"
	"time"

	"trendline-core/internal/strategy"
	"trendline-core/pkg/db"
	"trendline-core/pkg/exchanges/common"
)

// Bot is the in-memory runtime of one active bot. It is rebuilt from the
// persisted record, its chart and its risk bucket on load, and mutated only
// while its registry lock is held.
type Bot struct {
	Record     db.BotInstance
	Direction  strategy.Direction
	Risk       db.RiskConfiguration
	Instrument common.Instrument  // qualified underlying
	Contract   *common.Instrument // selected put, options only

	Entries  []strategy.Line
	Exits    []strategy.Line
	Detector *strategy.Detector

	FilledExitLines map[string]bool
	EntrySlots      map[string]*Slot
	ExitSlots       map[string]*Slot
	StopLoss        *Slot

	SoftStop   SoftStopTimer
	MultiBuy   MultiBuyTracker
	Allocation Allocation

	LastPrice   float64
	LastTick    time.Time
	LastRefresh time.Time

	// Done is set when the bot reached a terminal status during a tick and
	// must be evicted from the registry.
	Done bool
}

// NewBot assembles the runtime from a record and its classified lines.
// Exit allocation lines are ordered so the economically last exit comes
// last: the highest line for spot, the lowest for options.
func NewBot(rec db.BotInstance, dir strategy.Direction, risk db.RiskConfiguration, cls strategy.Classification) *Bot {
	b := &Bot{
		Record:          rec,
		Direction:       dir,
		Risk:            risk,
		Entries:         cls.Entries,
		Exits:           cls.Exits,
		Detector:        strategy.NewDetector(),
		FilledExitLines: make(map[string]bool),
		EntrySlots:      make(map[string]*Slot),
		ExitSlots:       make(map[string]*Slot),
	}

	entryIDs := make([]string, 0, len(cls.Entries))
	for _, l := range cls.Entries {
		entryIDs = append(entryIDs, l.ID)
	}
	b.MultiBuy = NewMultiBuy(rec.MultiBuy, entryIDs)

	b.allocateExits()
	b.Allocation.Shares = rec.SharesEntered
	return b
}

// allocateExits orders the allocation lines from the exit lines.
func (b *Bot) allocateExits() {
	exits := append([]strategy.Line(nil), b.Exits...)
	sort.SliceStable(exits, func(i, j int) bool {
		if b.Direction == strategy.Options {
			return exits[i].Price > exits[j].Price
		}
		return exits[i].Price < exits[j].Price
	})
	b.Allocation.Lines = nil
	for _, l := range exits {
		b.Allocation.Lines = append(b.Allocation.Lines, l.ID)
	}
}

// ID returns the bot id.
func (b *Bot) ID() string { return b.Record.ID }

// Bought reports whether the bot holds a position.
func (b *Bot) Bought() bool { return b.Record.Bought && b.Record.OpenShares > 0 }

// TradeInstrument is the instrument orders are placed on: the put for
// options, the underlying for spot.
func (b *Bot) TradeInstrument() common.Instrument {
	if b.Direction == strategy.Options && b.Contract != nil {
		return *b.Contract
	}
	return b.Instrument
}

// EntrySlot returns the slot of an entry line, creating it on first use.
func (b *Bot) EntrySlot(lineID string) *Slot {
	s, ok := b.EntrySlots[lineID]
	if !ok {
		s = NewSlot(SlotEntry, lineID)
		b.EntrySlots[lineID] = s
	}
	return s
}

// ExitSlot returns the slot of an exit line, creating it on first use.
func (b *Bot) ExitSlot(lineID string) *Slot {
	s, ok := b.ExitSlots[lineID]
	if !ok {
		s = NewSlot(SlotExit, lineID)
		b.ExitSlots[lineID] = s
	}
	return s
}

// Line finds an entry or exit line by id.
func (b *Bot) Line(id string) (strategy.Line, bool) {
	for _, l := range b.Entries {
		if l.ID == id {
			return l, true
		}
	}
	for _, l := range b.Exits {
		if l.ID == id {
			return l, true
		}
	}
	return strategy.Line{}, false
}

// EntryLive reports whether an entry order is working.
func (b *Bot) EntryLive() bool {
	for _, s := range b.EntrySlots {
		if s.Live() {
			return true
		}
	}
	return false
}

// ExitsTerminal reports whether no exit slot holds a working order.
func (b *Bot) ExitsTerminal() bool {
	for _, s := range b.ExitSlots {
		if !s.Status.Terminal() && s.Status != SlotNone {
			return false
		}
	}
	return true
}

// LiveSlots returns every slot with a working order, entries first.
func (b *Bot) LiveSlots() []*Slot {
	var out []*Slot
	for _, id := range sortedKeys(b.EntrySlots) {
		if s := b.EntrySlots[id]; s.Live() {
			out = append(out, s)
		}
	}
	for _, id := range sortedKeys(b.ExitSlots) {
		if s := b.ExitSlots[id]; s.Live() {
			out = append(out, s)
		}
	}
	if b.StopLoss.Live() {
		out = append(out, b.StopLoss)
	}
	return out
}

// ApplyEntryFill adds an entry execution to the position. entryPrice is the
// reference price the risk levels use; it is averaged across fills.
func (b *Bot) ApplyEntryFill(qty, entryPrice float64) {
	if qty <= 0 {
		return
	}
	r := &b.Record
	prev := r.SharesEntered
	r.SharesEntered += qty
	if r.SharesEntered > 0 {
		r.EntryPrice = (r.EntryPrice*prev + entryPrice*qty) / r.SharesEntered
	}
	r.Bought = true
	r.OpenShares = r.SharesEntered - r.SharesExited
	b.Allocation.Shares = r.SharesEntered
}

// ApplyExit removes qty from the position and returns the quantity actually
// applied; it never takes open shares below zero.
func (b *Bot) ApplyExit(qty float64) float64 {
	r := &b.Record
	if qty > r.OpenShares {
		qty = r.OpenShares
	}
	if qty <= 0 {
		return 0
	}
	r.SharesExited += qty
	r.OpenShares = r.SharesEntered - r.SharesExited
	if r.OpenShares < 1e-9 {
		r.OpenShares = 0
	}
	return qty
}

// Finish marks the bot terminal with status; the engine evicts it after the tick.
func (b *Bot) Finish(status string, now time.Time) {
	b.Record.Status = status
	b.Record.Active = false
	b.Record.Running = false
	if status == db.BotCompleted {
		t := now.UTC()
		b.Record.CompletedAt = &t
	}
	b.SoftStop.Reset()
	b.Done = true
}

func sortedKeys(m map[string]*Slot) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
