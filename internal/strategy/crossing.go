package strategy

// Rule names the condition that fired a line.
type Rule string

const (
	// RuleCrossing: price moved through the line between two ticks.
	RuleCrossing Rule = "crossing"
	// RuleAlreadyBeyond: price already sits past an entry line, e.g. a
	// crossing that happened while the process was down.
	RuleAlreadyBeyond Rule = "already_beyond"
)

// Fire is one line triggered on a tick.
type Fire struct {
	Line     Line    `json:"line"`
	Rule     Rule    `json:"rule"`
	Previous float64 `json:"previous"`
	Current  float64 `json:"current"`
}

// Detector tracks the previous price and crossed lines of one bot.
type Detector struct {
	PreviousPrice float64         `json:"previous_price"`
	Seeded        bool            `json:"seeded"`
	Crossed       map[string]bool `json:"crossed"`
}

// NewDetector returns an unseeded detector.
func NewDetector() *Detector {
	return &Detector{Crossed: make(map[string]bool)}
}

// Seed places the baseline one unit outside the entry band so the first real
// tick can fire: below the lowest entry for spot, above the highest for options.
// It is a no-op once seeded.
func (d *Detector) Seed(dir Direction, entries []Line, current float64) {
	if d.Seeded {
		return
	}
	d.Seeded = true
	if len(entries) == 0 {
		d.PreviousPrice = current
		return
	}
	lo, hi := entries[0].Price, entries[0].Price
	for _, l := range entries[1:] {
		if l.Price < lo {
			lo = l.Price
		}
		if l.Price > hi {
			hi = l.Price
		}
	}
	if dir == Options {
		d.PreviousPrice = hi + 1
	} else {
		d.PreviousPrice = lo - 1
	}
}

// EntryFires evaluates entry lines not yet crossed. Callers mark a line with
// MarkCrossed once its order placement has been attempted.
func (d *Detector) EntryFires(entries []Line, current float64) []Fire {
	var fires []Fire
	for _, l := range entries {
		if d.Crossed[l.ID] {
			continue
		}
		if rule, ok := entryRule(l, d.PreviousPrice, current); ok {
			fires = append(fires, Fire{Line: l, Rule: rule, Previous: d.PreviousPrice, Current: current})
		}
	}
	return fires
}

// ExitFires evaluates exit lines not yet crossed: price falling through the line.
func (d *Detector) ExitFires(exits []Line, current float64) []Fire {
	var fires []Fire
	for _, l := range exits {
		if d.Crossed[l.ID] {
			continue
		}
		if d.PreviousPrice > l.Price && l.Price >= current {
			fires = append(fires, Fire{Line: l, Rule: RuleCrossing, Previous: d.PreviousPrice, Current: current})
		}
	}
	return fires
}

// MarkCrossed records that a line has fired.
func (d *Detector) MarkCrossed(id string) {
	if d.Crossed == nil {
		d.Crossed = make(map[string]bool)
	}
	d.Crossed[id] = true
}

// Advance moves the baseline to the current price; called at the end of every tick.
func (d *Detector) Advance(current float64) {
	d.PreviousPrice = current
}

func entryRule(l Line, prev, cur float64) (Rule, bool) {
	if l.Ascending {
		if prev < l.Price && l.Price <= cur {
			return RuleCrossing, true
		}
		if cur >= l.Price {
			return RuleAlreadyBeyond, true
		}
		return "", false
	}
	if prev > l.Price && l.Price >= cur {
		return RuleCrossing, true
	}
	if cur <= l.Price {
		return RuleAlreadyBeyond, true
	}
	return "", false
}
