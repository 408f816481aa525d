package common

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestBackoffDelay(t *testing.T) {
	b := Backoff{Base: time.Second, Max: 10 * time.Second}
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 10 * time.Second, 10 * time.Second}
	for i, w := range want {
		assert.Equal(t, w, b.Delay(i), "attempt %d", i)
	}
}

func unavailable() error {
	return &BrokerError{Op: "test", Kind: KindUnavailable, Err: ErrBrokerUnavailable}
}

func TestSupervisorTransitions(t *testing.T) {
	sup := NewSupervisor(func(context.Context) error { return nil }, Backoff{Base: time.Millisecond}, 2, zap.NewNop())

	sup.ReportFailure(&BrokerError{Op: "place_order", Kind: KindRejected, Err: errors.New("insufficient buying power")})
	assert.Equal(t, StateConnected, sup.Health().State, "rejections do not affect connectivity")

	sup.ReportFailure(unavailable())
	assert.Equal(t, StateDegraded, sup.Health().State)
	assert.True(t, sup.Healthy())

	sup.ReportSuccess()
	assert.Equal(t, StateConnected, sup.Health().State)

	sup.ReportFailure(unavailable())
	sup.ReportFailure(unavailable())
	assert.Equal(t, StateReconnecting, sup.Health().State)
	assert.False(t, sup.Healthy())
}

func TestSupervisorReconnectsWithBackoff(t *testing.T) {
	var probes int32
	sup := NewSupervisor(func(context.Context) error {
		if atomic.AddInt32(&probes, 1) < 3 {
			return errors.New("still down")
		}
		return nil
	}, Backoff{Base: time.Millisecond, Max: 4 * time.Millisecond, MaxAttempts: 5}, 1, zap.NewNop())

	var slept []time.Duration
	sup.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	sup.ReportFailure(unavailable())
	require.Equal(t, StateReconnecting, sup.Health().State)

	sup.reconnect(context.Background())

	assert.Equal(t, StateConnected, sup.Health().State)
	assert.Equal(t, int32(3), atomic.LoadInt32(&probes))
	assert.Equal(t, []time.Duration{time.Millisecond, 2 * time.Millisecond, 4 * time.Millisecond}, slept)
}

func TestSupervisorMarksFailedAfterMaxAttempts(t *testing.T) {
	var probes int32
	sup := NewSupervisor(func(context.Context) error {
		if atomic.AddInt32(&probes, 1) <= 3 {
			return errors.New("down")
		}
		return nil
	}, Backoff{Base: time.Millisecond, MaxAttempts: 2}, 1, zap.NewNop())

	var states []ConnState
	sup.sleep = func(context.Context, time.Duration) error {
		states = append(states, sup.Health().State)
		return nil
	}

	sup.ReportFailure(unavailable())
	sup.reconnect(context.Background())

	assert.Equal(t, []ConnState{StateReconnecting, StateReconnecting, StateFailed, StateFailed}, states)
	assert.Equal(t, StateConnected, sup.Health().State)
}

func TestSupervisorStopsOnCancel(t *testing.T) {
	sup := NewSupervisor(func(context.Context) error { return errors.New("down") }, Backoff{Base: time.Hour}, 1, zap.NewNop())
	sup.ReportFailure(unavailable())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sup.reconnect(ctx)
	assert.Equal(t, StateReconnecting, sup.Health().State)
}
