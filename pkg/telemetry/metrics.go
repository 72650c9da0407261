// pkg/telemetry/metrics.go
package telemetry

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/Y0UF0UNDM3/Car-Explore/pkg/engine"
	"github.com/Y0UF0UNDM3/Car-Explore/pkg/event"
	"github.com/Y0UF0UNDM3/Car-Explore/pkg/physics"
)

const instrumentationName = "github.com/Y0UF0UNDM3/Car-Explore/pkg/telemetry"

// Meter returns the global meter for name, or for this package when name is
// empty. It is a no-op until a provider is installed.
func Meter(name string) metric.Meter {
	if name == "" {
		name = instrumentationName
	}
	return otel.Meter(name)
}

// Stats is a snapshot of the counters, kept alongside the instruments so
// health checks and logs can read them.
type Stats struct {
	Steps          int64
	Frames         int64
	Resets         int64
	Clamps         int64
	CatchUps       int64
	ContactChanges int64
	KeyEvents      int64
	AssetFailures  int64
	LastSpeed      float64
}

// Metrics records simulation activity as OpenTelemetry instruments. It is an
// engine.StepObserver and an engine.Sink.
type Metrics struct {
	steps          metric.Int64Counter
	frames         metric.Int64Counter
	resets         metric.Int64Counter
	clamps         metric.Int64Counter
	catchUps       metric.Int64Counter
	contactChanges metric.Int64Counter
	keyEvents      metric.Int64Counter
	assetFailures  metric.Int64Counter
	stepDuration   metric.Float64Histogram
	speed          metric.Float64ObservableGauge

	registration metric.Registration

	counts struct {
		steps, frames, resets, clamps       atomic.Int64
		catchUps, contactChanges, keyEvents atomic.Int64
		assetFailures                       atomic.Int64
		speedBits                           atomic.Uint64
	}

	mu   sync.Mutex
	subs []*event.Subscription
}

// NewMetrics creates the instruments on m. A nil meter uses the global one.
func NewMetrics(m metric.Meter) (*Metrics, error) {
	if m == nil {
		m = Meter("")
	}
	mt := &Metrics{}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&mt.steps, "sim.steps", "Fixed physics steps taken"},
		{&mt.frames, "sim.frames", "Frames published"},
		{&mt.resets, "sim.resets", "Vehicle resets to spawn"},
		{&mt.clamps, "sim.velocity.clamps", "Steps whose velocity was clamped"},
		{&mt.catchUps, "sim.catchup.overflows", "Frames that dropped simulated time"},
		{&mt.contactChanges, "sim.wheel.contact_changes", "Wheel contact transitions"},
		{&mt.keyEvents, "input.key_events", "Raw key transitions"},
		{&mt.assetFailures, "asset.load_failures", "Vehicle asset loads that failed"},
	}
	for _, c := range counters {
		counter, err := m.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, fmt.Errorf("creating %s counter: %w", c.name, err)
		}
		*c.dst = counter
	}

	var err error
	mt.stepDuration, err = m.Float64Histogram(
		"sim.step.duration",
		metric.WithDescription("Wall time spent in one fixed step"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating step duration histogram: %w", err)
	}

	mt.speed, err = m.Float64ObservableGauge(
		"vehicle.speed",
		metric.WithDescription("Chassis speed at the last published frame"),
		metric.WithUnit("m/s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating speed gauge: %w", err)
	}
	mt.registration, err = m.RegisterCallback(
		func(ctx context.Context, o metric.Observer) error {
			o.ObserveFloat64(mt.speed, mt.lastSpeed())
			return nil
		},
		mt.speed,
	)
	if err != nil {
		return nil, fmt.Errorf("registering speed callback: %w", err)
	}

	return mt, nil
}

func (m *Metrics) lastSpeed() float64 {
	return math.Float64frombits(m.counts.speedBits.Load())
}

// ObserveStep implements engine.StepObserver.
func (m *Metrics) ObserveStep(res physics.StepResult, took time.Duration) {
	ctx := context.Background()
	m.steps.Add(ctx, 1)
	m.counts.steps.Add(1)
	m.stepDuration.Record(ctx, float64(took)/float64(time.Millisecond))

	if res.Reset {
		m.resets.Add(ctx, 1)
		m.counts.resets.Add(1)
	}
	if r := res.Integration; r.Clamped() {
		m.clamps.Add(ctx, 1, metric.WithAttributes(
			attribute.Bool("linear", r.LinearClamped),
			attribute.Bool("angular", r.AngularClamped),
		))
		m.counts.clamps.Add(1)
	}
}

// Publish implements engine.Sink.
func (m *Metrics) Publish(state *engine.FrameState) error {
	if state == nil {
		return nil
	}
	m.frames.Add(context.Background(), 1)
	m.counts.frames.Add(1)
	m.counts.speedBits.Store(math.Float64bits(state.Speed))
	return nil
}

// Subscribe counts bus events that are not visible from steps or frames.
func (m *Metrics) Subscribe(bus *event.Bus) {
	ctx := context.Background()
	subs := []*event.Subscription{
		bus.Subscribe(event.CatchUpOverflow, func(event.Event) {
			m.catchUps.Add(ctx, 1)
			m.counts.catchUps.Add(1)
		}),
		bus.Subscribe(event.WheelContact, func(e event.Event) {
			ce, ok := e.(*event.ContactEvent)
			if !ok {
				return
			}
			m.contactChanges.Add(ctx, 1, metric.WithAttributes(
				attribute.Int("wheel", ce.Wheel),
				attribute.Bool("in_contact", ce.InContact),
			))
			m.counts.contactChanges.Add(1)
		}),
		bus.Subscribe(event.KeyChanged, func(e event.Event) {
			ke, ok := e.(*event.KeyEvent)
			if !ok {
				return
			}
			m.keyEvents.Add(ctx, 1, metric.WithAttributes(attribute.Bool("down", ke.Down)))
			m.counts.keyEvents.Add(1)
		}),
		bus.Subscribe(event.AssetLoadFailed, func(event.Event) {
			m.assetFailures.Add(ctx, 1)
			m.counts.assetFailures.Add(1)
		}),
	}

	m.mu.Lock()
	m.subs = append(m.subs, subs...)
	m.mu.Unlock()
}

// Stats returns the current counts.
func (m *Metrics) Stats() Stats {
	return Stats{
		Steps:          m.counts.steps.Load(),
		Frames:         m.counts.frames.Load(),
		Resets:         m.counts.resets.Load(),
		Clamps:         m.counts.clamps.Load(),
		CatchUps:       m.counts.catchUps.Load(),
		ContactChanges: m.counts.contactChanges.Load(),
		KeyEvents:      m.counts.keyEvents.Load(),
		AssetFailures:  m.counts.assetFailures.Load(),
		LastSpeed:      m.lastSpeed(),
	}
}

// Close drops the bus subscriptions and the gauge callback.
func (m *Metrics) Close() error {
	m.mu.Lock()
	subs := m.subs
	m.subs = nil
	m.mu.Unlock()

	for _, s := range subs {
		s.Cancel()
	}
	if m.registration != nil {
		return m.registration.Unregister()
	}
	return nil
}
