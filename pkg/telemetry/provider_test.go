package telemetry

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/Y0UF0UNDM3/Car-Explore/pkg/config"
	"github.com/Y0UF0UNDM3/Car-Explore/pkg/physics"
)

func TestNewMeterProvider_FileOutput(t *testing.T) {
	cfg := config.DefaultConfig().Telemetry
	cfg.MetricsOutput = filepath.Join(t.TempDir(), "metrics.json")
	cfg.MetricsInterval = time.Hour

	p, err := NewMeterProvider(cfg, "session-1")
	if err != nil {
		t.Fatalf("NewMeterProvider() error = %v", err)
	}
	m, err := NewMetrics(p.Meter(cfg.MeterName))
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}
	m.ObserveStep(physics.StepResult{Step: 1}, time.Millisecond)

	// Shutdown flushes the periodic reader before the hour is up.
	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	data, err := os.ReadFile(cfg.MetricsOutput)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"sim.steps", "session-1", cfg.MeterName} {
		if !strings.Contains(string(data), want) {
			t.Errorf("exported metrics missing %q", want)
		}
	}
}

func TestNewMeterProvider_ExtraReader(t *testing.T) {
	cfg := config.DefaultConfig().Telemetry
	cfg.MetricsOutput = OutputNone
	reader := sdkmetric.NewManualReader()

	p, err := NewMeterProvider(cfg, "session-2", WithReader(reader))
	if err != nil {
		t.Fatalf("NewMeterProvider() error = %v", err)
	}
	defer p.Shutdown(context.Background())
	if p.out != nil {
		t.Error("output none opened a file")
	}

	m, err := NewMetrics(p.Meter(cfg.MeterName))
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}
	for i := 0; i < 3; i++ {
		m.ObserveStep(physics.StepResult{Step: uint64(i + 1)}, time.Millisecond)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if got := counterTotal(t, reader, "sim.steps"); got != 3 {
		t.Errorf("sim.steps = %d, expected 3", got)
	}
	found := false
	for _, kv := range rm.Resource.Attributes() {
		if string(kv.Key) == "service.instance.id" && kv.Value.AsString() == "session-2" {
			found = true
		}
	}
	if !found {
		t.Errorf("resource %v has no service.instance.id for the session", rm.Resource.Attributes())
	}
}

func TestNewMeterProvider_BadOutput(t *testing.T) {
	cfg := config.DefaultConfig().Telemetry
	cfg.MetricsOutput = filepath.Join(t.TempDir(), "missing", "metrics.json")
	if _, err := NewMeterProvider(cfg, "session-3"); err == nil {
		t.Fatal("expected an error for an output under a missing directory")
	}
}

func TestMeterProvider_ShutdownTwice(t *testing.T) {
	cfg := config.DefaultConfig().Telemetry
	cfg.MetricsOutput = filepath.Join(t.TempDir(), "metrics.json")

	p, err := NewMeterProvider(cfg, "session-4")
	if err != nil {
		t.Fatalf("NewMeterProvider() error = %v", err)
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("first Shutdown() error = %v", err)
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Errorf("second Shutdown() error = %v, expected the first result", err)
	}
}
