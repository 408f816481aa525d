package state

import "github.com/shopspring/decimal"

// Allocation fixes the exit split. Quantities derive from the shares entered
// and the exit lines known when the bot was built, never from what remains
// open, so a resubmitted exit always gets the same size.
type Allocation struct {
	Shares float64  `json:"shares"`
	Lines  []string `json:"lines"` // exit line ids, economically last line at the end
}

// Target returns the order quantity for an exit line. Every line gets the
// floor of shares/lines; the last line takes the remainder.
func (a Allocation) Target(lineID string) float64 {
	n := len(a.Lines)
	if n == 0 || a.Shares <= 0 {
		return 0
	}
	idx := -1
	for i, id := range a.Lines {
		if id == lineID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return 0
	}
	total := decimal.NewFromFloat(a.Shares)
	each := total.Div(decimal.NewFromInt(int64(n))).Floor()
	if idx == n-1 {
		return total.Sub(each.Mul(decimal.NewFromInt(int64(n - 1)))).InexactFloat64()
	}
	return each.InexactFloat64()
}
