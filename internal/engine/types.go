package engine

import (
	"errors"
	"time"

	"trendline-core/internal/state"
	"trendline-core/pkg/db"
	"trendline-core/pkg/exchanges/common"
)

var (
	ErrBotNotFound   = errors.New("bot not found")
	ErrChartNotFound = errors.New("chart not found")
	// ErrBotFinished is returned when starting a bot that reached a terminal status.
	ErrBotFinished = errors.New("bot already finished")
	ErrInvalidBot  = errors.New("invalid bot configuration")
)

// CreateBotRequest creates a bot from a chart. A zero TradeSize uses the
// chart's size, then the risk bucket default.
type CreateBotRequest struct {
	ChartID   string  `json:"chart_id"`
	TradeSize float64 `json:"trade_size,omitempty"`
}

// BotStatus is the persisted record of a bot plus its runtime when it is
// registered.
type BotStatus struct {
	Bot        db.BotInstance `json:"bot"`
	Registered bool           `json:"registered"`
	Runtime    *state.View    `json:"runtime,omitempty"`
}

// SystemStatus represents the engine runtime status.
type SystemStatus struct {
	Venue      string        `json:"venue"`
	DryRun     bool          `json:"dry_run"`
	Broker     common.Health `json:"broker"`
	ActiveBots int           `json:"active_bots"`
	Pending    int           `json:"pending_loads"`
	LastSweep  time.Time     `json:"last_sweep"`
	Version    string        `json:"version"`
	ServerTime time.Time     `json:"server_time"`
}

// LoadReport summarizes startup recovery.
type LoadReport struct {
	Resumed  []string `json:"resumed"`
	Orphaned []string `json:"orphaned"`
	Failed   []string `json:"failed"`
	Deferred []string `json:"deferred"`
}

func terminalStatus(s string) bool {
	switch s {
	case db.BotCompleted, db.BotHardStoppedOut, db.BotSoftStoppedOut:
		return true
	}
	return false
}
