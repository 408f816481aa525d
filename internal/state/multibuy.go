package state

import "github.com/shopspring/decimal"

// MultiBuyTracker splits the trade size across two entry lines. Each half is
// released once, when price crosses its own line.
type MultiBuyTracker struct {
	Enabled   bool      `json:"enabled"`
	Lines     [2]string `json:"lines"`
	Fired     [2]bool   `json:"fired"`
	Filled    [2]bool   `json:"filled"`
	FilledQty float64   `json:"filled_qty"`
}

// NewMultiBuy enables the tracker only for exactly two entry lines.
func NewMultiBuy(enabled bool, entryIDs []string) MultiBuyTracker {
	if !enabled || len(entryIDs) != 2 {
		return MultiBuyTracker{}
	}
	return MultiBuyTracker{Enabled: true, Lines: [2]string{entryIDs[0], entryIDs[1]}}
}

// Index returns the half owned by lineID, or -1.
func (m *MultiBuyTracker) Index(lineID string) int {
	for i, id := range m.Lines {
		if id == lineID {
			return i
		}
	}
	return -1
}

// Half returns the quantity of half i: the first gets the floor of size/2,
// the second gets the remainder.
func (m *MultiBuyTracker) Half(i int, size float64) float64 {
	total := decimal.NewFromFloat(size)
	first := total.Div(decimal.NewFromInt(2)).Floor()
	if i == 0 {
		return first.InexactFloat64()
	}
	return total.Sub(first).InexactFloat64()
}

// Pending reports whether any half has not fired yet.
func (m *MultiBuyTracker) Pending() bool {
	return m.Enabled && (!m.Fired[0] || !m.Fired[1])
}

// Complete reports whether both halves have filled.
func (m *MultiBuyTracker) Complete() bool {
	return m.Filled[0] && m.Filled[1]
}
