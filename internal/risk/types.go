package risk

import (
	"time"

	"trendline-core/internal/strategy"
)

// Exposure says which price move hurts the position.
type Exposure string

const (
	// Long loses when price falls (spot shares).
	Long Exposure = "LONG"
	// Short loses when the tracked price rises (puts against their underlying).
	Short Exposure = "SHORT"
)

// ExposureFor maps a strategy to the side risk levels are measured on.
func ExposureFor(dir strategy.Direction) Exposure {
	if dir == strategy.Options {
		return Short
	}
	return Long
}

// Action is what a risk evaluation did.
type Action string

const (
	ActionNone           Action = "NONE"
	ActionSoftStarted    Action = "SOFT_STARTED"
	ActionSoftWaiting    Action = "SOFT_WAITING"
	ActionSoftReset      Action = "SOFT_RESET"
	ActionSoftLiquidated Action = "SOFT_LIQUIDATED"
	ActionHardLiquidated Action = "HARD_LIQUIDATED"
)

// Decision is the outcome of one evaluation.
type Decision struct {
	Action  Action        `json:"action"`
	Price   float64       `json:"price"`
	Levels  Levels        `json:"levels"`
	Elapsed time.Duration `json:"elapsed,omitempty"`
}

// Liquidated reports whether the position was closed by this decision.
func (d Decision) Liquidated() bool {
	return d.Action == ActionSoftLiquidated || d.Action == ActionHardLiquidated
}
