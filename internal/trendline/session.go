package trendline

import (
	"fmt"
	"time"
)

// Session describes the regular trading session of a market.
type Session struct {
	loc   *time.Location
	open  time.Duration // offset from local midnight
	close time.Duration
}

// NewSession returns the 09:30-16:00 Monday-Friday session in the named timezone.
func NewSession(timezone string) (Session, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return Session{}, fmt.Errorf("load market timezone %q: %w", timezone, err)
	}
	return Session{loc: loc, open: 9*time.Hour + 30*time.Minute, close: 16 * time.Hour}, nil
}

// MustSession is NewSession for package-level defaults and tests.
func MustSession(timezone string) Session {
	s, err := NewSession(timezone)
	if err != nil {
		panic(err)
	}
	return s
}

// Location returns the market timezone.
func (s Session) Location() *time.Location { return s.loc }

// Length is the duration of one full session.
func (s Session) Length() time.Duration { return s.close - s.open }

// IsOpen reports whether t falls inside a regular session.
func (s Session) IsOpen(t time.Time) bool {
	lt := t.In(s.loc)
	if !tradingDay(lt) {
		return false
	}
	open, close := s.bounds(lt)
	return !lt.Before(open) && lt.Before(close)
}

// Elapsed returns the trading-session time between from and to.
// It is negative when to is before from.
func (s Session) Elapsed(from, to time.Time) time.Duration {
	if to.Before(from) {
		return -s.Elapsed(to, from)
	}
	from, to = from.In(s.loc), to.In(s.loc)

	var total time.Duration
	day := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, s.loc)
	for !day.After(to) {
		if tradingDay(day) {
			open, close := s.bounds(day)
			start, end := maxTime(open, from), minTime(close, to)
			if end.After(start) {
				total += end.Sub(start)
			}
		}
		day = day.AddDate(0, 0, 1)
	}
	return total
}

func (s Session) bounds(day time.Time) (time.Time, time.Time) {
	y, m, d := day.Date()
	// wall-clock construction keeps 09:30 correct across DST changes
	open := time.Date(y, m, d, int(s.open.Hours()), int(s.open.Minutes())%60, 0, 0, s.loc)
	close := time.Date(y, m, d, int(s.close.Hours()), int(s.close.Minutes())%60, 0, 0, s.loc)
	return open, close
}

func tradingDay(t time.Time) bool {
	wd := t.Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
