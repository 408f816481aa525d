package state

import (
	"errors"
	"sort"
	"sync"
	"time"

	"trendline-core/internal/strategy"
	"trendline-core/pkg/db"
	"trendline-core/pkg/exchanges/common"
)

// ErrNotRegistered is returned for bots that are not in the active registry.
var ErrNotRegistered = errors.New("bot not registered")

type entry struct {
	mu  sync.Mutex
	bot *Bot
}

// Registry keeps the runtime of every active bot. Each bot has its own lock
// so ticks, status syncs and control calls on one bot never interleave,
// while different bots proceed in parallel.
type Registry struct {
	mu   sync.RWMutex
	bots map[string]*entry
}

func NewRegistry() *Registry {
	return &Registry{bots: make(map[string]*entry)}
}

// Add registers a runtime; it reports false if the id is already present.
func (r *Registry) Add(b *Bot) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.bots[b.ID()]; ok {
		return false
	}
	r.bots[b.ID()] = &entry{bot: b}
	return true
}

// Remove evicts a bot; it reports whether it was present.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.bots[id]
	delete(r.bots, id)
	return ok
}

// Has reports whether id is registered.
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.bots[id]
	return ok
}

// Len returns the number of active bots.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bots)
}

// IDs returns the registered ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.bots))
	for id := range r.bots {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// With runs fn while holding the bot's lock.
func (r *Registry) With(id string, fn func(b *Bot) error) error {
	r.mu.RLock()
	e, ok := r.bots[id]
	r.mu.RUnlock()
	if !ok {
		return ErrNotRegistered
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	r.mu.RLock()
	current := r.bots[id]
	r.mu.RUnlock()
	if current != e {
		// evicted while waiting for the lock
		return ErrNotRegistered
	}
	return fn(e.bot)
}

// View is a read-only snapshot of a runtime for status queries.
type View struct {
	Bot             db.BotInstance     `json:"bot"`
	Entries         []strategy.Line    `json:"entries"`
	Exits           []strategy.Line    `json:"exits"`
	EntrySlots      []Slot             `json:"entry_slots"`
	ExitSlots       []Slot             `json:"exit_slots"`
	StopLoss        *Slot              `json:"stop_loss,omitempty"`
	FilledExitLines []string           `json:"filled_exit_lines"`
	Contract        *common.Instrument `json:"contract,omitempty"`
	SoftStop        SoftStopTimer      `json:"soft_stop"`
	MultiBuy        MultiBuyTracker    `json:"multi_buy"`
	PreviousPrice   float64            `json:"previous_price"`
	LastPrice       float64            `json:"last_price"`
	LastTick        time.Time          `json:"last_tick"`
}

// View copies the runtime. Callers hold the bot's lock.
func (b *Bot) View() View {
	cp := b.Checkpoint(time.Now())
	v := View{
		Bot:             b.Record,
		Entries:         append([]strategy.Line(nil), b.Entries...),
		Exits:           append([]strategy.Line(nil), b.Exits...),
		StopLoss:        cp.StopLoss,
		FilledExitLines: cp.FilledExitLines,
		Contract:        cp.Contract,
		SoftStop:        b.SoftStop,
		MultiBuy:        b.MultiBuy,
		PreviousPrice:   cp.Detector.PreviousPrice,
		LastPrice:       b.LastPrice,
		LastTick:        b.LastTick,
	}
	for _, id := range sortedKeys(b.EntrySlots) {
		v.EntrySlots = append(v.EntrySlots, *b.EntrySlots[id])
	}
	for _, id := range sortedKeys(b.ExitSlots) {
		v.ExitSlots = append(v.ExitSlots, *b.ExitSlots[id])
	}
	return v
}
