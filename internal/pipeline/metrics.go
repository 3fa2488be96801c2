// Package pipeline implements pipeline metrics.
package pipeline

import (
	"sync/atomic"
)

// Metrics contains per-switch counters.
type Metrics struct {
	SwitchID string

	// Packet counters (using atomic for thread-safety)
	Received        atomic.Uint64
	Emitted         atomic.Uint64
	Dropped         atomic.Uint64
	ParseErrors     atomic.Uint64
	QueueDrops      atomic.Uint64
	Probes          atomic.Uint64
	RegisterUpdates atomic.Uint64
}

// NewMetrics creates a new metrics instance.
func NewMetrics(switchID string) *Metrics {
	return &Metrics{SwitchID: switchID}
}

// Reset resets all counters to zero.
func (m *Metrics) Reset() {
	m.Received.Store(0)
	m.Emitted.Store(0)
	m.Dropped.Store(0)
	m.ParseErrors.Store(0)
	m.QueueDrops.Store(0)
	m.Probes.Store(0)
	m.RegisterUpdates.Store(0)
}

// Stats represents switch statistics.
type Stats struct {
	Received        uint64
	Emitted         uint64
	Dropped         uint64
	ParseErrors     uint64
	QueueDrops      uint64
	Probes          uint64
	RegisterUpdates uint64
}

func (m *Metrics) snapshot() Stats {
	return Stats{
		Received:        m.Received.Load(),
		Emitted:         m.Emitted.Load(),
		Dropped:         m.Dropped.Load(),
		ParseErrors:     m.ParseErrors.Load(),
		QueueDrops:      m.QueueDrops.Load(),
		Probes:          m.Probes.Load(),
		RegisterUpdates: m.RegisterUpdates.Load(),
	}
}
