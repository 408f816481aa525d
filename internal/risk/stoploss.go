package risk

import "trendline-core/internal/strategy"

// Levels are the soft and hard stop prices of a position. A zero level is disabled.
type Levels struct {
	Exposure Exposure `json:"exposure"`
	Entry    float64  `json:"entry"`
	SoftStop float64  `json:"soft_stop"`
	HardStop float64  `json:"hard_stop"`
}

// ComputeLevels places both stops in the adverse direction from entry.
// Percentages are in percent units: 5 means 5%.
func ComputeLevels(dir strategy.Direction, entry, softPct, hardPct float64) Levels {
	l := Levels{Exposure: ExposureFor(dir), Entry: entry}
	if entry <= 0 {
		return l
	}
	l.SoftStop = stopPrice(l.Exposure, entry, softPct)
	l.HardStop = stopPrice(l.Exposure, entry, hardPct)
	return l
}

// HardStopPrice is the trigger of the protective stop order.
func HardStopPrice(dir strategy.Direction, entry, hardPct float64) float64 {
	return ComputeLevels(dir, entry, 0, hardPct).HardStop
}

func stopPrice(e Exposure, entry, pct float64) float64 {
	if pct <= 0 {
		return 0
	}
	if e == Long {
		return entry * (1 - pct/100)
	}
	return entry * (1 + pct/100)
}

// HardBreached reports whether price is on the hard-stop side.
func (l Levels) HardBreached(price float64) bool {
	return breached(l.Exposure, l.HardStop, price)
}

// SoftBreached reports whether price is on the soft-stop side.
func (l Levels) SoftBreached(price float64) bool {
	return breached(l.Exposure, l.SoftStop, price)
}

func breached(e Exposure, level, price float64) bool {
	if level <= 0 || price <= 0 {
		return false
	}
	if e == Long {
		return price <= level
	}
	return price >= level
}
