package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func line(id string, price float64, asc bool, role Role) Line {
	return Line{ID: id, Price: price, Ascending: asc, Role: role}
}

// tick runs one detector cycle the way the engine does.
func tick(d *Detector, entries, exits []Line, price float64) (entryFires, exitFires []Fire) {
	entryFires = d.EntryFires(entries, price)
	for _, f := range entryFires {
		d.MarkCrossed(f.Line.ID)
	}
	exitFires = d.ExitFires(exits, price)
	for _, f := range exitFires {
		d.MarkCrossed(f.Line.ID)
	}
	d.Advance(price)
	return entryFires, exitFires
}

func TestSeedSitsOutsideEntryBand(t *testing.T) {
	entries := []Line{line("a", 100, true, RoleEntry), line("b", 95, false, RoleEntry)}

	d := NewDetector()
	d.Seed(Spot, entries, 500)
	assert.Equal(t, 94.0, d.PreviousPrice)

	d.Seed(Spot, entries, 1)
	assert.Equal(t, 94.0, d.PreviousPrice, "seeding happens once")

	o := NewDetector()
	o.Seed(Options, entries, 0)
	assert.Equal(t, 101.0, o.PreviousPrice)

	e := NewDetector()
	e.Seed(Spot, nil, 42)
	assert.Equal(t, 42.0, e.PreviousPrice)
}

func TestAscendingEntryFiresOnce(t *testing.T) {
	entries := []Line{line("entry", 100, true, RoleEntry)}
	d := NewDetector()
	d.Seed(Spot, entries, 99)

	fires, _ := tick(d, entries, nil, 99)
	assert.Empty(t, fires)

	fires, _ = tick(d, entries, nil, 101)
	require.Len(t, fires, 1)
	assert.Equal(t, RuleCrossing, fires[0].Rule)
	assert.Equal(t, 99.0, fires[0].Previous)

	fires, _ = tick(d, entries, nil, 101)
	assert.Empty(t, fires, "repeated tick does not re-fire")
}

func TestDescendingEntryCrossing(t *testing.T) {
	entries := []Line{line("entry", 100, false, RoleEntry)}
	d := &Detector{PreviousPrice: 102, Seeded: true}

	fires, _ := tick(d, entries, nil, 101)
	assert.Empty(t, fires)
	fires, _ = tick(d, entries, nil, 100)
	require.Len(t, fires, 1)
	assert.Equal(t, RuleCrossing, fires[0].Rule)
}

func TestAlreadyBeyondRecoversMissedCrossing(t *testing.T) {
	// after a restart the baseline is already past the line
	entries := []Line{line("asc", 100, true, RoleEntry), line("desc", 80, false, RoleEntry)}
	d := &Detector{PreviousPrice: 105, Seeded: true, Crossed: map[string]bool{}}

	fires := d.EntryFires(entries, 106)
	require.Len(t, fires, 1)
	assert.Equal(t, "asc", fires[0].Line.ID)
	assert.Equal(t, RuleAlreadyBeyond, fires[0].Rule)

	d = &Detector{PreviousPrice: 70, Seeded: true}
	fires = d.EntryFires(entries, 75)
	require.Len(t, fires, 1)
	assert.Equal(t, "desc", fires[0].Line.ID)
	assert.Equal(t, RuleAlreadyBeyond, fires[0].Rule)
}

func TestExitFiresOnDownwardCrossingOnly(t *testing.T) {
	exits := []Line{line("x1", 110, true, RoleExit), line("x2", 90, false, RoleExit)}
	d := &Detector{PreviousPrice: 100, Seeded: true}

	_, fires := tick(d, nil, exits, 112)
	assert.Empty(t, fires, "rising through an exit does not fire")

	_, fires = tick(d, nil, exits, 110)
	require.Len(t, fires, 1)
	assert.Equal(t, "x1", fires[0].Line.ID)

	_, fires = tick(d, nil, exits, 85)
	require.Len(t, fires, 1)
	assert.Equal(t, "x2", fires[0].Line.ID)

	_, fires = tick(d, nil, exits, 120)
	_, fires2 := tick(d, nil, exits, 80)
	assert.Empty(t, fires)
	assert.Empty(t, fires2, "crossed exits stay crossed")
}
