package strategy

import (
	"fmt"
	"sort"
	"time"

	"trendline-core/internal/trendline"
)

// Classification is the result of assigning lines to roles.
type Classification struct {
	Entries []Line
	Exits   []Line
	// Skipped holds ids of lines that could not be fitted.
	Skipped []string
}

// Classify partitions drawn lines into entry and exit lines.
//
// spot: ascending lines sorted by price, the lowest one (two with multi-buy)
// are entries; descending lines sorted by price descending, the highest one
// (two with multi-buy) are entries; everything else exits.
// options: the single highest descending line is the entry; the remaining
// descending lines and every ascending line exit.
func Classify(dir Direction, multiBuy bool, raw []RawLine, now time.Time, s trendline.Session) (Classification, error) {
	var (
		out       Classification
		asc, desc []Line
	)
	for _, r := range raw {
		fit, err := trendline.FitAnchors(r.Anchors, s)
		if err != nil {
			out.Skipped = append(out.Skipped, r.ID)
			continue
		}
		l := Line{ID: r.ID, Ascending: fit.Ascending(), Anchors: r.Anchors, fit: fit}
		l.Refresh(now, s)
		if l.Ascending {
			asc = append(asc, l)
		} else {
			desc = append(desc, l)
		}
	}

	sort.SliceStable(asc, func(i, j int) bool { return asc[i].Price < asc[j].Price })
	sort.SliceStable(desc, func(i, j int) bool { return desc[i].Price > desc[j].Price })

	switch dir {
	case Spot:
		n := 1
		if multiBuy {
			n = 2
		}
		out.take(asc, n)
		out.take(desc, n)
	case Options:
		out.take(desc, 1)
		out.take(asc, 0)
	default:
		return out, fmt.Errorf("classify: unknown strategy %q", dir)
	}
	return out, nil
}

// take assigns the first n lines as entries and the rest as exits.
func (c *Classification) take(lines []Line, n int) {
	for i, l := range lines {
		if i < n {
			l.Role = RoleEntry
			c.Entries = append(c.Entries, l)
		} else {
			l.Role = RoleExit
			c.Exits = append(c.Exits, l)
		}
	}
}

// RefreshAll re-resolves every line at now.
func RefreshAll(lines []Line, now time.Time, s trendline.Session) {
	for i := range lines {
		lines[i].Refresh(now, s)
	}
}
