package trendline

import (
	"errors"
	"sort"
	"time"
)

// ErrTooFewAnchors is returned for lines drawn with fewer than two points.
var ErrTooFewAnchors = errors.New("trend line needs at least two anchors")

// Anchor is one drawn point of a trend line.
type Anchor struct {
	Time  time.Time `json:"time" yaml:"time"`
	Price float64   `json:"price" yaml:"price"`
}

// Fit is a least squares line in price per session-millisecond, measured from Origin.
type Fit struct {
	Origin    time.Time
	Slope     float64
	Intercept float64
	Flat      bool // all anchors share one session time; the line is their mean price
}

// FitAnchors fits price against trading-session time. Anchors are ordered by
// time and the earliest becomes the origin.
func FitAnchors(anchors []Anchor, s Session) (Fit, error) {
	if len(anchors) < 2 {
		return Fit{}, ErrTooFewAnchors
	}
	pts := append([]Anchor(nil), anchors...)
	sort.SliceStable(pts, func(i, j int) bool { return pts[i].Time.Before(pts[j].Time) })

	origin := pts[0].Time
	n := float64(len(pts))
	xs := make([]float64, len(pts))
	var sumX, sumY float64
	for i, a := range pts {
		xs[i] = float64(s.Elapsed(origin, a.Time).Milliseconds())
		sumX += xs[i]
		sumY += a.Price
	}
	meanX, meanY := sumX/n, sumY/n

	var sxx, sxy float64
	for i, a := range pts {
		dx := xs[i] - meanX
		sxx += dx * dx
		sxy += dx * (a.Price - meanY)
	}
	if sxx == 0 {
		return Fit{Origin: origin, Intercept: meanY, Flat: true}, nil
	}
	slope := sxy / sxx
	return Fit{Origin: origin, Slope: slope, Intercept: meanY - slope*meanX}, nil
}

// At evaluates the fitted line at t.
func (f Fit) At(t time.Time, s Session) float64 {
	if f.Flat {
		return f.Intercept
	}
	x := float64(s.Elapsed(f.Origin, t).Milliseconds())
	return f.Intercept + f.Slope*x
}

// Ascending reports whether the line rises over session time. Flat lines count as ascending.
func (f Fit) Ascending() bool { return f.Slope >= 0 }

// Resolve returns the line price at now. It must be called every tick since
// session time advances even when the anchors do not change.
func Resolve(anchors []Anchor, now time.Time, s Session) (float64, error) {
	f, err := FitAnchors(anchors, s)
	if err != nil {
		return 0, err
	}
	return f.At(now, s), nil
}
