package trendline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ny = MustSession("America/New_York")

func at(day, hour, min int) time.Time {
	// October 2026: the 12th is a Monday
	return time.Date(2026, time.October, day, hour, min, 0, 0, ny.Location())
}

func TestElapsedCountsOnlySessionTime(t *testing.T) {
	cases := []struct {
		name     string
		from, to time.Time
		want     time.Duration
	}{
		{"same session", at(12, 10, 0), at(12, 11, 30), 90 * time.Minute},
		{"pre-market start", at(12, 8, 0), at(12, 10, 0), 30 * time.Minute},
		{"overnight", at(12, 15, 0), at(13, 10, 30), 2 * time.Hour},
		{"weekend is flat", at(16, 15, 0), at(19, 10, 30), 2 * time.Hour},
		{"full week", at(12, 9, 30), at(16, 16, 0), 5 * 390 * time.Minute},
		{"saturday only", at(17, 10, 0), at(17, 15, 0), 0},
		{"reversed", at(12, 11, 30), at(12, 10, 0), -90 * time.Minute},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ny.Elapsed(tc.from, tc.to))
		})
	}
}

func TestIsOpen(t *testing.T) {
	assert.True(t, ny.IsOpen(at(12, 9, 30)))
	assert.False(t, ny.IsOpen(at(12, 16, 0)))
	assert.False(t, ny.IsOpen(at(17, 12, 0)))
}

func TestResolveExtrapolatesOverSessionTime(t *testing.T) {
	// +1 per session hour
	anchors := []Anchor{{Time: at(12, 10, 0), Price: 100}, {Time: at(12, 12, 0), Price: 102}}

	p, err := Resolve(anchors, at(12, 14, 0), ny)
	require.NoError(t, err)
	assert.InDelta(t, 104, p, 1e-9)

	// Friday 15:00 to Monday 10:30 adds 2 session hours, not 67.5 wall hours
	anchors = []Anchor{{Time: at(16, 13, 0), Price: 50}, {Time: at(16, 15, 0), Price: 52}}
	p, err = Resolve(anchors, at(19, 10, 30), ny)
	require.NoError(t, err)
	assert.InDelta(t, 54, p, 1e-9)

	// a weekend "now" resolves to the Friday close value
	p, err = Resolve(anchors, at(17, 12, 0), ny)
	require.NoError(t, err)
	assert.InDelta(t, 53, p, 1e-9)
}

func TestResolveLeastSquares(t *testing.T) {
	anchors := []Anchor{
		{Time: at(12, 10, 0), Price: 10},
		{Time: at(12, 11, 0), Price: 12},
		{Time: at(12, 12, 0), Price: 11},
	}
	f, err := FitAnchors(anchors, ny)
	require.NoError(t, err)
	assert.True(t, f.Ascending())
	// slope 0.5 per hour through the mean (11h, 11)
	assert.InDelta(t, 11.0, f.At(at(12, 11, 0), ny), 1e-9)
	assert.InDelta(t, 12.0, f.At(at(12, 13, 0), ny), 1e-9)
}

func TestResolveDescendingAndUnordered(t *testing.T) {
	anchors := []Anchor{{Time: at(13, 10, 0), Price: 90}, {Time: at(12, 10, 0), Price: 100}}
	f, err := FitAnchors(anchors, ny)
	require.NoError(t, err)
	assert.False(t, f.Ascending())
	assert.InDelta(t, 80, f.At(at(14, 10, 0), ny), 1e-9)
}

func TestResolveCollapsedAnchorsUseMean(t *testing.T) {
	// both anchors fall outside the session and map to the same session time
	anchors := []Anchor{{Time: at(17, 10, 0), Price: 100}, {Time: at(18, 11, 0), Price: 110}}
	p, err := Resolve(anchors, at(19, 12, 0), ny)
	require.NoError(t, err)
	assert.Equal(t, 105.0, p)
}

func TestResolveRejectsSingleAnchor(t *testing.T) {
	_, err := Resolve([]Anchor{{Time: at(12, 10, 0), Price: 1}}, at(12, 11, 0), ny)
	assert.ErrorIs(t, err, ErrTooFewAnchors)
}
