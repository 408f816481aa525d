package state

import "time"

// SoftStopTimer measures how long price has stayed past the soft-stop level.
type SoftStopTimer struct {
	Active    bool      `json:"active"`
	StartedAt time.Time `json:"started_at,omitempty"`
}

// Start arms the timer; it reports false when it was already running.
func (t *SoftStopTimer) Start(now time.Time) bool {
	if t.Active {
		return false
	}
	t.Active = true
	t.StartedAt = now
	return true
}

// Reset disarms the timer; it reports whether it was running.
func (t *SoftStopTimer) Reset() bool {
	was := t.Active
	t.Active = false
	t.StartedAt = time.Time{}
	return was
}

// Elapsed returns the breach duration, zero when disarmed.
func (t *SoftStopTimer) Elapsed(now time.Time) time.Duration {
	if !t.Active {
		return 0
	}
	return now.Sub(t.StartedAt)
}
