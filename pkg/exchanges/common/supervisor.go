package common

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ConnState is the broker connection state tracked by the Supervisor.
type ConnState string

const (
	StateConnected    ConnState = "CONNECTED"
	StateDegraded     ConnState = "DEGRADED"
	StateReconnecting ConnState = "RECONNECTING"
	StateFailed       ConnState = "FAILED"
)

// Backoff is a bounded exponential schedule.
type Backoff struct {
	Base        time.Duration
	Max         time.Duration
	MaxAttempts int
}

// Delay returns the wait before the given zero-based attempt.
func (b Backoff) Delay(attempt int) time.Duration {
	d := b.Base
	if d <= 0 {
		d = time.Second
	}
	for i := 0; i < attempt; i++ {
		d *= 2
		if b.Max > 0 && d >= b.Max {
			return b.Max
		}
	}
	if b.Max > 0 && d > b.Max {
		return b.Max
	}
	return d
}

// Health is a point-in-time view of the connection.
type Health struct {
	State               ConnState `json:"state"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	Attempt             int       `json:"attempt"`
	NextRetry           time.Time `json:"next_retry,omitempty"`
	LastError           string    `json:"last_error,omitempty"`
	Since               time.Time `json:"since"`
}

// Supervisor runs the reconnect state machine:
// CONNECTED -> DEGRADED (first unavailable error) -> RECONNECTING (threshold reached)
// -> CONNECTED on a successful probe, or FAILED once MaxAttempts probes fail.
// A FAILED supervisor keeps probing at the maximum delay.
type Supervisor struct {
	mu        sync.RWMutex
	state     ConnState
	failures  int
	attempt   int
	nextRetry time.Time
	lastErr   string
	since     time.Time

	threshold int
	backoff   Backoff
	probe     func(ctx context.Context) error
	wake      chan struct{}
	log       *zap.Logger
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error
}

// NewSupervisor creates a supervisor; probe is called while reconnecting.
func NewSupervisor(probe func(ctx context.Context) error, backoff Backoff, threshold int, log *zap.Logger) *Supervisor {
	if threshold <= 0 {
		threshold = 3
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Supervisor{
		state:     StateConnected,
		since:     time.Now(),
		threshold: threshold,
		backoff:   backoff,
		probe:     probe,
		wake:      make(chan struct{}, 1),
		log:       log,
		now:       time.Now,
		sleep:     sleepCtx,
	}
}

// Healthy reports whether broker calls should be attempted.
func (s *Supervisor) Healthy() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state == StateConnected || s.state == StateDegraded
}

// Health returns the current snapshot.
func (s *Supervisor) Health() Health {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Health{
		State:               s.state,
		ConsecutiveFailures: s.failures,
		Attempt:             s.attempt,
		NextRetry:           s.nextRetry,
		LastError:           s.lastErr,
		Since:               s.since,
	}
}

// ReportSuccess records a successful broker call.
func (s *Supervisor) ReportSuccess() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = 0
	if s.state == StateDegraded {
		s.setState(StateConnected)
	}
}

// ReportFailure records a failed broker call. Only connectivity failures move the state machine.
func (s *Supervisor) ReportFailure(err error) {
	if err == nil || !IsUnavailable(err) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures++
	s.lastErr = err.Error()
	switch s.state {
	case StateConnected:
		s.setState(StateDegraded)
		fallthrough
	case StateDegraded:
		if s.failures >= s.threshold {
			s.setState(StateReconnecting)
			s.attempt = 0
			select {
			case s.wake <- struct{}{}:
			default:
			}
		}
	}
}

// Run drives reconnection until ctx is cancelled.
func (s *Supervisor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.wake:
			s.reconnect(ctx)
		}
	}
}

func (s *Supervisor) reconnect(ctx context.Context) {
	for attempt := 0; ; attempt++ {
		delay := s.backoff.Delay(attempt)
		s.mu.Lock()
		s.attempt = attempt + 1
		s.nextRetry = s.now().Add(delay)
		s.mu.Unlock()

		if err := s.sleep(ctx, delay); err != nil {
			return
		}

		err := s.probe(ctx)
		if err == nil {
			s.mu.Lock()
			s.failures = 0
			s.attempt = 0
			s.nextRetry = time.Time{}
			s.lastErr = ""
			s.setState(StateConnected)
			s.mu.Unlock()
			s.log.Info("broker reconnected", zap.Int("attempts", attempt+1))
			return
		}

		s.mu.Lock()
		s.lastErr = err.Error()
		if s.backoff.MaxAttempts > 0 && attempt+1 >= s.backoff.MaxAttempts && s.state != StateFailed {
			s.setState(StateFailed)
			s.log.Error("broker reconnect attempts exhausted", zap.Int("attempts", attempt+1), zap.Error(err))
		}
		s.mu.Unlock()
		s.log.Warn("broker probe failed", zap.Int("attempt", attempt+1), zap.Duration("next_delay", s.backoff.Delay(attempt+1)), zap.Error(err))
	}
}

// setState must be called with mu held.
func (s *Supervisor) setState(st ConnState) {
	if s.state == st {
		return
	}
	s.log.Info("broker connection state", zap.String("from", string(s.state)), zap.String("to", string(st)))
	s.state = st
	s.since = s.now()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
