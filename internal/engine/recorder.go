package engine

import (
	"trendline-core/internal/events"
	"trendline-core/internal/monitor"
)

// auditFanout writes every audit record to the store, publishes it on the
// bus for live listeners and counts it in the metrics.
type auditFanout struct {
	store   events.Recorder
	bus     *events.Bus
	metrics *monitor.SystemMetrics
}

func (f *auditFanout) Record(a events.Audit) {
	if f.store != nil {
		f.store.Record(a)
	}
	if f.bus != nil {
		f.bus.Publish(events.EventBotAudit, a)
	}
	if f.metrics == nil {
		return
	}
	switch a.Type {
	case events.EntryFired, events.ExitFired:
		f.metrics.AddFires(1)
	case events.OrderSubmitted:
		f.metrics.IncrementOrders()
	case events.OrderRejected:
		f.metrics.IncrementOrderFailures()
	case events.SoftStopLiquidation, events.HardStopLiquidation:
		f.metrics.IncrementLiquidations()
	}
}
