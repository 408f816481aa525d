package events

import (
	"sync"
	"time"
)

// Event enumerates bus topics inside the engine.
type Event string

const (
	// EventBotAudit carries every Audit record as it is written.
	EventBotAudit Event = "bot.audit"
	// EventBotStatus carries a status change of a bot (payload: StatusChange).
	EventBotStatus Event = "bot.status"
	// EventBrokerHealth carries supervisor state transitions.
	EventBrokerHealth Event = "broker.health"
)

// Type is the audit event type stored in bot_events.
type Type string

const (
	BotCreated          Type = "bot_created"
	BotStarted          Type = "bot_started"
	BotStopped          Type = "bot_stopped"
	BotCompleted        Type = "bot_completed"
	BotOrphaned         Type = "bot_orphaned"
	EntryFired          Type = "entry_fired"
	ExitFired           Type = "exit_fired"
	OrderSubmitted      Type = "order_submitted"
	OrderFilled         Type = "order_filled"
	OrderCancelled      Type = "order_cancelled"
	OrderRejected       Type = "order_rejected"
	OrderModified       Type = "order_modified"
	SlotReplaced        Type = "slot_replaced"
	OrdersCancelled     Type = "orders_cancelled"
	SoftStopStarted     Type = "soft_stop_started"
	SoftStopReset       Type = "soft_stop_reset"
	SoftStopLiquidation Type = "soft_stop_liquidation"
	HardStopLiquidation Type = "hard_stop_liquidation"
	TickError           Type = "tick_error"
)

// Audit is one append-only record about a bot.
type Audit struct {
	BotID   string         `json:"bot_id"`
	Type    Type           `json:"type"`
	Payload map[string]any `json:"payload,omitempty"`
	At      time.Time      `json:"at"`
}

// StatusChange is published when a bot's persisted status changes.
type StatusChange struct {
	BotID  string `json:"bot_id"`
	Status string `json:"status"`
	Active bool   `json:"active"`
}

// Recorder receives audit records.
type Recorder interface {
	Record(a Audit)
}

// RecorderFunc adapts a function to Recorder.
type RecorderFunc func(a Audit)

func (f RecorderFunc) Record(a Audit) { f(a) }

// Discard drops every record.
var Discard Recorder = RecorderFunc(func(Audit) {})

// Memory collects records in order; safe for concurrent use.
type Memory struct {
	mu      sync.Mutex
	records []Audit
}

func (m *Memory) Record(a Audit) {
	m.mu.Lock()
	m.records = append(m.records, a)
	m.mu.Unlock()
}

// Records returns a copy of everything recorded so far.
func (m *Memory) Records() []Audit {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Audit(nil), m.records...)
}

// Types returns the recorded types for one bot in order; an empty id matches all.
func (m *Memory) Types(botID string) []Type {
	var out []Type
	for _, a := range m.Records() {
		if botID == "" || a.BotID == botID {
			out = append(out, a.Type)
		}
	}
	return out
}

// Count returns how many records of typ were written.
func (m *Memory) Count(typ Type) int {
	n := 0
	for _, a := range m.Records() {
		if a.Type == typ {
			n++
		}
	}
	return n
}
