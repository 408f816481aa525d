package monitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trendline-core/internal/events"
	"trendline-core/pkg/db"
	"trendline-core/pkg/exchanges/common"
)

type memSink struct {
	mu   sync.Mutex
	msgs []string
}

func (s *memSink) Send(m string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, m)
	return nil
}

func (s *memSink) all() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.msgs...)
}

func TestAlertFor(t *testing.T) {
	cases := []struct {
		name    string
		payload any
		alert   bool
	}{
		{"hard stop", events.StatusChange{BotID: "b1", Status: db.BotHardStoppedOut}, true},
		{"soft stop", events.StatusChange{BotID: "b1", Status: db.BotSoftStoppedOut}, true},
		{"error", events.StatusChange{BotID: "b1", Status: db.BotError}, true},
		{"completed", events.StatusChange{BotID: "b1", Status: db.BotCompleted}, false},
		{"reconnecting", common.Health{State: common.StateReconnecting, Attempt: 2, LastError: "eof"}, true},
		{"degraded", common.Health{State: common.StateDegraded}, false},
		{"other", "text", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, ok := AlertFor(tc.payload)
			assert.Equal(t, tc.alert, ok)
		})
	}
}

func TestMonitorForwardsAlerts(t *testing.T) {
	bus := events.NewBus()
	sink := &memSink{}
	m := &Monitor{Bus: bus, Sink: sink}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)

	bus.Publish(events.EventBotStatus, events.StatusChange{BotID: "b1", Status: db.BotCompleted})
	bus.Publish(events.EventBotStatus, events.StatusChange{BotID: "b2", Status: db.BotHardStoppedOut})
	bus.Publish(events.EventBrokerHealth, common.Health{State: common.StateFailed, Attempt: 8})

	require.Eventually(t, func() bool { return len(sink.all()) == 2 }, time.Second, 10*time.Millisecond)
	msgs := sink.all()
	assert.Contains(t, msgs[0]+msgs[1], "bot b2 is HARD_STOPPED_OUT")
	assert.Contains(t, msgs[0]+msgs[1], "broker FAILED (attempt 8)")
}

func TestMetricsSnapshot(t *testing.T) {
	m := NewSystemMetrics()
	m.IncrementTicks()
	m.IncrementSkipped("broker_unhealthy")
	m.IncrementSkipped("broker_unhealthy")
	m.AddFires(2)
	m.IncrementOrders()
	m.ObserveBrokerCall("place", 40*time.Millisecond, nil)
	m.ObserveBrokerCall("status", 20*time.Millisecond, assert.AnError)
	m.SetActiveBots(3)
	m.SetBrokerHealth("CONNECTED")

	s := m.GetSnapshot()
	assert.Equal(t, uint64(1), s.TicksProcessed)
	assert.Equal(t, uint64(2), s.SkipReasons["broker_unhealthy"])
	assert.Equal(t, uint64(2), s.FiresDetected)
	assert.Equal(t, uint64(1), s.BrokerCallErrors)
	assert.Equal(t, 2, s.BrokerLatency.Count)
	assert.InDelta(t, 30.0, s.BrokerLatency.Avg, 0.001)
	assert.Equal(t, 3, s.ActiveBots)
}
