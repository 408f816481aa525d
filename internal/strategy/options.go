package strategy

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"trendline-core/pkg/exchanges/common"
)

// OptionPolicy holds the put selection constants.
type OptionPolicy struct {
	StrikeMinPct float64   // lower edge of the strike band as a fraction of spot
	StrikeMaxPct float64   // upper edge
	TargetDays   int       // preferred days to expiry
	MinDays      int       // expiry window
	MaxDays      int
	StrikeSteps  []float64 // fallback strike roundings, tried in order
}

// DefaultOptionPolicy is the 90-95% band, 35 days in a 20-60 day window, $5 then $2.50 fallbacks.
func DefaultOptionPolicy() OptionPolicy {
	return OptionPolicy{
		StrikeMinPct: 0.90,
		StrikeMaxPct: 0.95,
		TargetDays:   35,
		MinDays:      20,
		MaxDays:      60,
		StrikeSteps:  []float64{5, 2.5},
	}
}

// ChainQualifier is the part of the broker used to pick a contract.
type ChainQualifier interface {
	GetOptionChain(ctx context.Context, symbol string) (common.OptionChain, error)
	QualifyOption(ctx context.Context, contract common.Instrument) (common.Instrument, error)
}

// SelectPut picks and qualifies a put on underlying. Candidate expiries come
// only from the live chain, ordered by distance to the target. The best listed
// strike in the band is tried on every expiry first, then strikes rounded to
// each fallback step.
func SelectPut(ctx context.Context, q ChainQualifier, underlying string, spot float64, now time.Time, p OptionPolicy) (common.Instrument, error) {
	if spot <= 0 {
		return common.Instrument{}, fmt.Errorf("select put %s: invalid spot %v", underlying, spot)
	}
	chain, err := q.GetOptionChain(ctx, underlying)
	if err != nil {
		return common.Instrument{}, fmt.Errorf("option chain %s: %w", underlying, err)
	}

	expiries := candidateExpiries(chain.Expiries, now, p)
	if len(expiries) == 0 {
		return common.Instrument{}, fmt.Errorf("%s: no expiry within %d-%d days: %w", underlying, p.MinDays, p.MaxDays, common.ErrNoContract)
	}
	strikes := candidateStrikes(chain.Strikes, spot, p)

	var lastErr error
	for _, strike := range strikes {
		for _, exp := range expiries {
			inst, err := q.QualifyOption(ctx, common.Instrument{
				Underlying: underlying,
				Kind:       common.AssetOption,
				Strike:     strike,
				Expiry:     exp,
				Right:      common.RightPut,
			})
			if err == nil {
				return inst, nil
			}
			if !errors.Is(err, common.ErrNoContract) && common.KindOf(err) != common.KindInvalidContract {
				// connectivity or rate limit: do not burn through the candidates
				return common.Instrument{}, err
			}
			lastErr = err
		}
	}
	if lastErr == nil {
		lastErr = common.ErrNoContract
	}
	return common.Instrument{}, fmt.Errorf("select put %s: %w", underlying, lastErr)
}

// candidateExpiries filters chain expiries to the window, nearest to target first.
func candidateExpiries(expiries []time.Time, now time.Time, p OptionPolicy) []time.Time {
	type cand struct {
		t    time.Time
		dist int
	}
	var cands []cand
	for _, e := range expiries {
		days := daysBetween(now, e)
		if days < p.MinDays || days > p.MaxDays {
			continue
		}
		dist := days - p.TargetDays
		if dist < 0 {
			dist = -dist
		}
		cands = append(cands, cand{e, dist})
	}
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].dist != cands[j].dist {
			return cands[i].dist < cands[j].dist
		}
		return cands[i].t.Before(cands[j].t)
	})
	out := make([]time.Time, len(cands))
	for i, c := range cands {
		out[i] = c.t
	}
	return out
}

// candidateStrikes returns the listed in-band strike closest to the band
// middle, followed by the middle rounded to each fallback step.
func candidateStrikes(listed []float64, spot float64, p OptionPolicy) []float64 {
	lo, hi := spot*p.StrikeMinPct, spot*p.StrikeMaxPct
	mid := (lo + hi) / 2

	var out []float64
	seen := make(map[float64]bool)
	add := func(s float64) {
		s = math.Round(s*100) / 100
		if s > 0 && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}

	best, bestDist := 0.0, math.Inf(1)
	for _, s := range listed {
		if s < lo || s > hi {
			continue
		}
		if d := math.Abs(s - mid); d < bestDist {
			best, bestDist = s, d
		}
	}
	if bestDist < math.Inf(1) {
		add(best)
	}
	for _, step := range p.StrikeSteps {
		if step > 0 {
			add(math.Round(mid/step) * step)
		}
	}
	return out
}

// daysBetween counts calendar days from now's date to t's date.
func daysBetween(now, t time.Time) int {
	a := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	b := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return int(b.Sub(a).Hours() / 24)
}
