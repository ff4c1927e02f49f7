// Package obs collects lightweight runtime counters and latency
// stats without external dependencies on the hot path.
package obs

import (
	"sync/atomic"
	"time"
)

// Metrics aggregates the runtime's operational counters.
type Metrics struct {
	bookUpdates  uint64
	resyncs      uint64
	dedupDrops   uint64
	transitions  uint64
	eventDrops   uint64
	ordersPlaced uint64
	ordersFailed uint64

	orderFlowLatency    LatencyStats
	governorWaitLatency LatencyStats
}

// LatencyStats aggregates duration samples in nanoseconds.
type LatencyStats struct {
	count uint64
	sum   uint64
	min   uint64
	max   uint64
}

// LatencySnapshot is a point-in-time view of latency stats.
type LatencySnapshot struct {
	Count uint64
	Min   time.Duration
	Max   time.Duration
	Avg   time.Duration
}

// Snapshot captures the current metrics values.
type Snapshot struct {
	BookUpdates  uint64
	Resyncs      uint64
	DedupDrops   uint64
	Transitions  uint64
	EventDrops   uint64
	OrdersPlaced uint64
	OrdersFailed uint64

	OrderFlowLatency    LatencySnapshot
	GovernorWaitLatency LatencySnapshot
}

// NewMetrics allocates a metrics container.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// IncBookUpdate counts one applied book update.
func (m *Metrics) IncBookUpdate() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.bookUpdates, 1)
}

// IncResync counts one tracker resync round-trip.
func (m *Metrics) IncResync() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.resyncs, 1)
}

// IncDedupDrop counts one redelivered trade dropped by the state
// machine.
func (m *Metrics) IncDedupDrop() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.dedupDrops, 1)
}

// IncTransition counts one order state transition.
func (m *Metrics) IncTransition() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.transitions, 1)
}

// IncEventDrop counts one domain event dropped by a slow consumer.
func (m *Metrics) IncEventDrop() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.eventDrops, 1)
}

// IncOrderPlaced counts one order submitted to a venue.
func (m *Metrics) IncOrderPlaced() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.ordersPlaced, 1)
}

// IncOrderFailed counts one order that failed before reaching a venue.
func (m *Metrics) IncOrderFailed() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.ordersFailed, 1)
}

// ObserveOrderFlow measures submit-to-venue-response latency.
func (m *Metrics) ObserveOrderFlow(d time.Duration) {
	if m == nil {
		return
	}
	m.orderFlowLatency.Observe(d)
}

// ObserveGovernorWait measures time spent queued for rate budget.
func (m *Metrics) ObserveGovernorWait(d time.Duration) {
	if m == nil {
		return
	}
	m.governorWaitLatency.Observe(d)
}

// Snapshot returns a copy of the current metrics values.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	return Snapshot{
		BookUpdates:         atomic.LoadUint64(&m.bookUpdates),
		Resyncs:             atomic.LoadUint64(&m.resyncs),
		DedupDrops:          atomic.LoadUint64(&m.dedupDrops),
		Transitions:         atomic.LoadUint64(&m.transitions),
		EventDrops:          atomic.LoadUint64(&m.eventDrops),
		OrdersPlaced:        atomic.LoadUint64(&m.ordersPlaced),
		OrdersFailed:        atomic.LoadUint64(&m.ordersFailed),
		OrderFlowLatency:    m.orderFlowLatency.Snapshot(),
		GovernorWaitLatency: m.governorWaitLatency.Snapshot(),
	}
}

// Observe records a duration sample.
func (l *LatencyStats) Observe(d time.Duration) {
	if d < 0 {
		return
	}
	nanos := uint64(d)
	atomic.AddUint64(&l.count, 1)
	atomic.AddUint64(&l.sum, nanos)

	for {
		min := atomic.LoadUint64(&l.min)
		if min != 0 && nanos >= min {
			break
		}
		if atomic.CompareAndSwapUint64(&l.min, min, nanos) {
			break
		}
	}

	for {
		max := atomic.LoadUint64(&l.max)
		if nanos <= max {
			break
		}
		if atomic.CompareAndSwapUint64(&l.max, max, nanos) {
			break
		}
	}
}

// Snapshot returns the aggregated latency stats.
func (l *LatencyStats) Snapshot() LatencySnapshot {
	count := atomic.LoadUint64(&l.count)
	if count == 0 {
		return LatencySnapshot{}
	}
	sum := atomic.LoadUint64(&l.sum)
	min := atomic.LoadUint64(&l.min)
	max := atomic.LoadUint64(&l.max)
	return LatencySnapshot{
		Count: count,
		Min:   time.Duration(min),
		Max:   time.Duration(max),
		Avg:   time.Duration(sum / count),
	}
}
