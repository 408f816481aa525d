package state

import (
	"sort"
	"time"

	"trendline-core/internal/strategy"
	"trendline-core/pkg/exchanges/common"
)

// Checkpoint is the runtime state that does not live in bot_instances and
// must survive a restart: line roles, filled exit lines, slots, crossing
// baseline, timers and the multi-buy flags.
type Checkpoint struct {
	BotID           string                   `json:"bot_id"`
	Roles           map[string]strategy.Role `json:"roles,omitempty"`
	FilledExitLines []string                 `json:"filled_exit_lines"`
	Detector        strategy.Detector        `json:"detector"`
	EntrySlots      map[string]Slot          `json:"entry_slots"`
	ExitSlots       map[string]Slot          `json:"exit_slots"`
	StopLoss        *Slot                    `json:"stop_loss,omitempty"`
	Contract        *common.Instrument       `json:"contract,omitempty"`
	SoftStop        SoftStopTimer            `json:"soft_stop"`
	MultiBuy        MultiBuyTracker          `json:"multi_buy"`
	Allocation      Allocation               `json:"allocation"`
	SavedAt         time.Time                `json:"saved_at"`
}

// Checkpoint copies the restart-relevant runtime state.
func (b *Bot) Checkpoint(now time.Time) Checkpoint {
	cp := Checkpoint{
		BotID:      b.ID(),
		Roles:      make(map[string]strategy.Role, len(b.Entries)+len(b.Exits)),
		EntrySlots: make(map[string]Slot, len(b.EntrySlots)),
		ExitSlots:  make(map[string]Slot, len(b.ExitSlots)),
		SoftStop:   b.SoftStop,
		MultiBuy:   b.MultiBuy,
		Allocation: Allocation{Shares: b.Allocation.Shares, Lines: append([]string(nil), b.Allocation.Lines...)},
		SavedAt:    now.UTC(),
	}
	for _, l := range b.Entries {
		cp.Roles[l.ID] = strategy.RoleEntry
	}
	for _, l := range b.Exits {
		cp.Roles[l.ID] = strategy.RoleExit
	}
	for id := range b.FilledExitLines {
		cp.FilledExitLines = append(cp.FilledExitLines, id)
	}
	sort.Strings(cp.FilledExitLines)
	if b.Detector != nil {
		cp.Detector = strategy.Detector{
			PreviousPrice: b.Detector.PreviousPrice,
			Seeded:        b.Detector.Seeded,
			Crossed:       make(map[string]bool, len(b.Detector.Crossed)),
		}
		for id, v := range b.Detector.Crossed {
			cp.Detector.Crossed[id] = v
		}
	}
	for id, s := range b.EntrySlots {
		cp.EntrySlots[id] = *s
	}
	for id, s := range b.ExitSlots {
		cp.ExitSlots[id] = *s
	}
	if b.StopLoss != nil {
		s := *b.StopLoss
		cp.StopLoss = &s
	}
	if b.Contract != nil {
		c := *b.Contract
		cp.Contract = &c
	}
	return cp
}

// Restore applies a checkpoint onto a freshly built runtime. Lines keep the
// role they were saved with; slots and crossed marks of lines that no
// longer exist on the chart are dropped; filled exit lines are always kept.
func (b *Bot) Restore(cp Checkpoint) {
	if len(cp.Roles) > 0 {
		b.applyRoles(cp.Roles)
	}
	known := make(map[string]bool, len(b.Entries)+len(b.Exits))
	for _, l := range b.Entries {
		known[l.ID] = true
	}
	for _, l := range b.Exits {
		known[l.ID] = true
	}

	for _, id := range cp.FilledExitLines {
		b.FilledExitLines[id] = true
	}
	b.Detector = strategy.NewDetector()
	b.Detector.PreviousPrice = cp.Detector.PreviousPrice
	b.Detector.Seeded = cp.Detector.Seeded
	for id, v := range cp.Detector.Crossed {
		if v && known[id] {
			b.Detector.Crossed[id] = true
		}
	}
	for id, s := range cp.EntrySlots {
		if known[id] {
			s := s
			b.EntrySlots[id] = &s
		}
	}
	for id, s := range cp.ExitSlots {
		if known[id] {
			s := s
			b.ExitSlots[id] = &s
		}
	}
	if cp.StopLoss != nil {
		s := *cp.StopLoss
		b.StopLoss = &s
	}
	if cp.Contract != nil {
		c := *cp.Contract
		b.Contract = &c
	}
	b.SoftStop = cp.SoftStop
	b.MultiBuy = cp.MultiBuy
	if len(cp.Allocation.Lines) > 0 {
		b.Allocation.Lines = append([]string(nil), cp.Allocation.Lines...)
	}
	if cp.Allocation.Shares > b.Allocation.Shares {
		b.Allocation.Shares = cp.Allocation.Shares
	}
}

// applyRoles moves lines back into the role they had when the checkpoint
// was taken. Classifying again at a later time can swap an entry and an
// exit once ascending lines with different slopes cross. Lines missing from
// roles keep the role they were just given.
func (b *Bot) applyRoles(roles map[string]strategy.Role) {
	all := make([]strategy.Line, 0, len(b.Entries)+len(b.Exits))
	all = append(all, b.Entries...)
	all = append(all, b.Exits...)

	var entries, exits []strategy.Line
	for _, l := range all {
		if r, ok := roles[l.ID]; ok {
			l.Role = r
		}
		if l.Role == strategy.RoleEntry {
			entries = append(entries, l)
		} else {
			exits = append(exits, l)
		}
	}
	b.Entries, b.Exits = entries, exits
	b.allocateExits()
}
