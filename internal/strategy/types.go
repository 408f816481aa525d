package strategy

import (
	"fmt"
	"time"

	"trendline-core/internal/trendline"
	"trendline-core/pkg/db"
)

// Direction selects how a chart is traded.
type Direction string

const (
	Spot    Direction = "spot"
	Options Direction = "options"
)

// ParseDirection validates a stored strategy name.
func ParseDirection(s string) (Direction, error) {
	switch Direction(s) {
	case Spot, Options:
		return Direction(s), nil
	}
	return "", fmt.Errorf("unknown strategy %q", s)
}

// Role is what a classified line triggers.
type Role string

const (
	RoleEntry Role = "entry"
	RoleExit  Role = "exit"
)

// RawLine is a drawn line as stored with the chart.
type RawLine struct {
	ID      string
	Anchors []trendline.Anchor
}

// Line is a classified trend line with its current resolved price.
type Line struct {
	ID        string             `json:"id"`
	Role      Role               `json:"role"`
	Ascending bool               `json:"ascending"`
	Price     float64            `json:"price"`
	Anchors   []trendline.Anchor `json:"anchors"`

	fit trendline.Fit
}

// Refresh re-resolves the line price at now.
func (l *Line) Refresh(now time.Time, s trendline.Session) {
	l.Price = l.fit.At(now, s)
}

func trendlineAnchor(a db.Anchor) trendline.Anchor {
	return trendline.Anchor{Time: a.Time, Price: a.Price}
}
