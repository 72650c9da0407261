package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/Y0UF0UNDM3/Car-Explore/pkg/logging"
	"github.com/Y0UF0UNDM3/Car-Explore/pkg/physics"
)

// TickSnapshot summarises observed step durations.
type TickSnapshot struct {
	Samples int
	Average time.Duration
	Max     time.Duration
	Last    time.Duration
	Slow    int
}

// StepsPerSecond is the step rate the average duration could sustain.
func (s TickSnapshot) StepsPerSecond() float64 {
	if s.Average <= 0 {
		return 0
	}
	return float64(time.Second) / float64(s.Average)
}

// TickMonitor accumulates step timings and warns about slow steps. It is an
// engine.StepObserver.
type TickMonitor struct {
	logger *logging.Logger
	slow   time.Duration

	mu        sync.Mutex
	samples   int
	total     time.Duration
	max       time.Duration
	last      time.Duration
	slowCount int
}

// NewTickMonitor creates a monitor. Steps longer than slow are logged; zero
// disables the warning.
func NewTickMonitor(logger *logging.Logger, slow time.Duration) *TickMonitor {
	if logger == nil {
		logger = logging.NewLogger()
	}
	return &TickMonitor{logger: logger, slow: slow}
}

// ObserveStep implements engine.StepObserver.
func (m *TickMonitor) ObserveStep(res physics.StepResult, took time.Duration) {
	if took <= 0 {
		return
	}
	m.mu.Lock()
	m.samples++
	m.total += took
	if took > m.max {
		m.max = took
	}
	m.last = took
	isSlow := m.slow > 0 && took > m.slow
	if isSlow {
		m.slowCount++
	}
	m.mu.Unlock()

	if isSlow {
		m.logger.Warn(context.Background(), "Slow physics step",
			"step", res.Step,
			"duration", took,
			"budget", m.slow,
		)
	}
}

// Snapshot returns a copy of the aggregated statistics.
func (m *TickMonitor) Snapshot() TickSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	average := time.Duration(0)
	if m.samples > 0 {
		average = m.total / time.Duration(m.samples)
	}
	return TickSnapshot{
		Samples: m.samples,
		Average: average,
		Max:     m.max,
		Last:    m.last,
		Slow:    m.slowCount,
	}
}

// Reset clears the statistics.
func (m *TickMonitor) Reset() {
	m.mu.Lock()
	m.samples, m.slowCount = 0, 0
	m.total, m.max, m.last = 0, 0, 0
	m.mu.Unlock()
}
