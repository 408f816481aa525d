package monitor

import (
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// SystemMetrics tracks engine throughput, latency and health.
type SystemMetrics struct {
	mu sync.RWMutex

	// Latency histograms
	TickLatency   *LatencyHistogram
	BrokerLatency *LatencyHistogram
	DBLatency     *LatencyHistogram
	APILatency    *LatencyHistogram

	// Counters
	ticksProcessed   uint64
	ticksSkipped     uint64
	firesDetected    uint64
	ordersSubmitted  uint64
	ordersFailed     uint64
	liquidations     uint64
	errorsCount      uint64
	brokerCallErrors uint64
	apiRequests      uint64
	apiErrors        uint64

	activeBots   int
	brokerHealth string
	lastTick     time.Time
	skipReasons  map[string]uint64
}

// LatencyHistogram tracks latency samples with sliding window.
// Supports lazy stats computation for better performance (V2 P1-B).
type LatencyHistogram struct {
	mu          sync.Mutex
	samples     []float64
	maxSize     int
	dirty       bool         // Whether samples have changed since last Stats()
	cachedStats LatencyStats // Cached computed stats
}

// NewSystemMetrics creates a new metrics instance.
func NewSystemMetrics() *SystemMetrics {
	return &SystemMetrics{
		TickLatency:   NewLatencyHistogram(1000),
		BrokerLatency: NewLatencyHistogram(1000),
		DBLatency:     NewLatencyHistogram(1000),
		APILatency:    NewLatencyHistogram(1000),
		skipReasons:   make(map[string]uint64),
	}
}

// NewLatencyHistogram creates a sliding window histogram.
func NewLatencyHistogram(size int) *LatencyHistogram {
	if size <= 0 {
		size = 1000
	}
	return &LatencyHistogram{
		samples: make([]float64, 0, size),
		maxSize: size,
		dirty:   true,
	}
}

// Record adds a latency sample in milliseconds.
func (h *LatencyHistogram) Record(latencyMs float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.samples) >= h.maxSize {
		// Shift window: remove oldest
		h.samples = h.samples[1:]
	}
	h.samples = append(h.samples, latencyMs)
	h.dirty = true // Mark as dirty for lazy recomputation
}

// RecordDuration converts duration to ms and records.
func (h *LatencyHistogram) RecordDuration(d time.Duration) {
	h.Record(float64(d.Nanoseconds()) / 1e6)
}

// Stats returns min, max, avg, p50, p95, p99.
// Uses lazy computation - only recomputes when samples have changed.
func (h *LatencyHistogram) Stats() LatencyStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	// Return cached stats if samples haven't changed
	if !h.dirty && h.cachedStats.Count > 0 {
		return h.cachedStats
	}

	n := len(h.samples)
	if n == 0 {
		return LatencyStats{}
	}

	// Compute new stats
	sorted := make([]float64, n)
	copy(sorted, h.samples)
	sort.Float64s(sorted)

	var sum float64
	min, max := sorted[0], sorted[n-1]
	for _, v := range sorted {
		sum += v
	}

	h.cachedStats = LatencyStats{
		Min:   min,
		Max:   max,
		Avg:   sum / float64(n),
		P50:   sorted[n/2],
		P95:   sorted[int(float64(n)*0.95)],
		P99:   sorted[int(float64(n)*0.99)],
		Count: n,
	}
	h.dirty = false

	return h.cachedStats
}

// LatencyStats holds computed latency statistics.
type LatencyStats struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	Count int     `json:"count"`
}

// IncrementTicks counts one processed bot tick.
func (m *SystemMetrics) IncrementTicks() {
	atomic.AddUint64(&m.ticksProcessed, 1)
}

// IncrementSkipped counts a bot tick that was skipped and why.
func (m *SystemMetrics) IncrementSkipped(reason string) {
	atomic.AddUint64(&m.ticksSkipped, 1)
	m.mu.Lock()
	m.skipReasons[reason]++
	m.mu.Unlock()
}

// AddFires counts fired lines.
func (m *SystemMetrics) AddFires(n int) {
	if n > 0 {
		atomic.AddUint64(&m.firesDetected, uint64(n))
	}
}

// IncrementOrders counts an accepted order submission.
func (m *SystemMetrics) IncrementOrders() {
	atomic.AddUint64(&m.ordersSubmitted, 1)
}

// IncrementOrderFailures counts a rejected or failed submission.
func (m *SystemMetrics) IncrementOrderFailures() {
	atomic.AddUint64(&m.ordersFailed, 1)
}

// IncrementLiquidations counts soft and hard stop liquidations.
func (m *SystemMetrics) IncrementLiquidations() {
	atomic.AddUint64(&m.liquidations, 1)
}

// IncrementErrors counts a failed bot tick.
func (m *SystemMetrics) IncrementErrors() {
	atomic.AddUint64(&m.errorsCount, 1)
}

// ObserveBrokerCall records the latency and outcome of one broker call.
func (m *SystemMetrics) ObserveBrokerCall(op string, latency time.Duration, err error) {
	m.BrokerLatency.RecordDuration(latency)
	if err != nil {
		atomic.AddUint64(&m.brokerCallErrors, 1)
	}
}

// IncrementAPI counts one control surface request.
func (m *SystemMetrics) IncrementAPI() {
	atomic.AddUint64(&m.apiRequests, 1)
}

// IncrementAPIErrors counts a request answered with a 4xx or 5xx status.
func (m *SystemMetrics) IncrementAPIErrors() {
	atomic.AddUint64(&m.apiErrors, 1)
}

// SetActiveBots records the registry size.
func (m *SystemMetrics) SetActiveBots(n int) {
	m.mu.Lock()
	m.activeBots = n
	m.mu.Unlock()
}

// SetBrokerHealth records the broker connection state.
func (m *SystemMetrics) SetBrokerHealth(state string) {
	m.mu.Lock()
	m.brokerHealth = state
	m.mu.Unlock()
}

// MarkTick records the end time of a price monitor sweep.
func (m *SystemMetrics) MarkTick(t time.Time) {
	m.mu.Lock()
	m.lastTick = t
	m.mu.Unlock()
}

// MetricsSnapshot is a point-in-time copy of the metrics.
type MetricsSnapshot struct {
	TickLatency      LatencyStats      `json:"tick_latency"`
	BrokerLatency    LatencyStats      `json:"broker_latency"`
	DBLatency        LatencyStats      `json:"db_latency"`
	APILatency       LatencyStats      `json:"api_latency"`
	TicksProcessed   uint64            `json:"ticks_processed"`
	TicksSkipped     uint64            `json:"ticks_skipped"`
	SkipReasons      map[string]uint64 `json:"skip_reasons"`
	FiresDetected    uint64            `json:"fires_detected"`
	OrdersSubmitted  uint64            `json:"orders_submitted"`
	OrdersFailed     uint64            `json:"orders_failed"`
	Liquidations     uint64            `json:"liquidations"`
	ErrorsCount      uint64            `json:"errors_count"`
	BrokerCallErrors uint64            `json:"broker_call_errors"`
	APIRequests      uint64            `json:"api_requests"`
	APIErrors        uint64            `json:"api_errors"`
	ActiveBots       int               `json:"active_bots"`
	BrokerHealth     string            `json:"broker_health"`
	LastTick         time.Time         `json:"last_tick"`
	GoroutineCount   int               `json:"goroutine_count"`
	HeapAlloc        uint64            `json:"heap_alloc_bytes"`
	HeapSys          uint64            `json:"heap_sys_bytes"`
	Timestamp        time.Time         `json:"timestamp"`
}

// GetSnapshot returns a point-in-time metrics snapshot.
func (m *SystemMetrics) GetSnapshot() MetricsSnapshot {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	m.mu.RLock()
	reasons := make(map[string]uint64, len(m.skipReasons))
	for k, v := range m.skipReasons {
		reasons[k] = v
	}
	active, health, last := m.activeBots, m.brokerHealth, m.lastTick
	m.mu.RUnlock()

	return MetricsSnapshot{
		TickLatency:      m.TickLatency.Stats(),
		BrokerLatency:    m.BrokerLatency.Stats(),
		DBLatency:        m.DBLatency.Stats(),
		APILatency:       m.APILatency.Stats(),
		TicksProcessed:   atomic.LoadUint64(&m.ticksProcessed),
		TicksSkipped:     atomic.LoadUint64(&m.ticksSkipped),
		SkipReasons:      reasons,
		FiresDetected:    atomic.LoadUint64(&m.firesDetected),
		OrdersSubmitted:  atomic.LoadUint64(&m.ordersSubmitted),
		OrdersFailed:     atomic.LoadUint64(&m.ordersFailed),
		Liquidations:     atomic.LoadUint64(&m.liquidations),
		ErrorsCount:      atomic.LoadUint64(&m.errorsCount),
		BrokerCallErrors: atomic.LoadUint64(&m.brokerCallErrors),
		APIRequests:      atomic.LoadUint64(&m.apiRequests),
		APIErrors:        atomic.LoadUint64(&m.apiErrors),
		ActiveBots:       active,
		BrokerHealth:     health,
		LastTick:         last,
		GoroutineCount:   runtime.NumGoroutine(),
		HeapAlloc:        memStats.HeapAlloc,
		HeapSys:          memStats.HeapSys,
		Timestamp:        time.Now(),
	}
}

// Timer helps measure operation duration.
type Timer struct {
	start     time.Time
	histogram *LatencyHistogram
}

// NewTimer creates a timer that records to the given histogram.
func NewTimer(h *LatencyHistogram) *Timer {
	return &Timer{
		start:     time.Now(),
		histogram: h,
	}
}

// Stop records elapsed time to histogram.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	if t.histogram != nil {
		t.histogram.RecordDuration(elapsed)
	}
	return elapsed
}
