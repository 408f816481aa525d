package monitor

import (
	"context"
	"time"

	"go.uber.org/zap"

	"trendline-core/internal/events"
)

// Monitor watches bot status and broker health on the bus and emits alerts.
type Monitor struct {
	Bus  *events.Bus
	Sink AlertSink
	Log  *zap.SugaredLogger
	now  func() time.Time
}

// Start subscribes and forwards alerts until ctx is done.
func (m *Monitor) Start(ctx context.Context) {
	if m.Log == nil {
		m.Log = zap.NewNop().Sugar()
	}
	if m.Bus == nil || m.Sink == nil {
		m.Log.Warn("monitor not fully configured; skipping")
		return
	}
	if m.now == nil {
		m.now = time.Now
	}
	status, unsubStatus := m.Bus.Subscribe(events.EventBotStatus, 50)
	health, unsubHealth := m.Bus.Subscribe(events.EventBrokerHealth, 10)
	go func() {
		defer unsubStatus()
		defer unsubHealth()
		for {
			var (
				msg any
				ok  bool
			)
			select {
			case <-ctx.Done():
				return
			case msg, ok = <-status:
			case msg, ok = <-health:
			}
			if !ok {
				return
			}
			m.alert(msg)
		}
	}()
}

func (m *Monitor) alert(payload any) {
	text, ok := AlertFor(payload)
	if !ok {
		return
	}
	if err := m.Sink.Send(formatAlert(m.now(), text)); err != nil {
		m.Log.Warnf("alert delivery failed: %v", err)
	}
}

func formatAlert(at time.Time, msg string) string {
	return "[" + at.Format(time.RFC3339) + "] " + msg
}
