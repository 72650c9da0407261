package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/Y0UF0UNDM3/Car-Explore/pkg/asset"
	"github.com/Y0UF0UNDM3/Car-Explore/pkg/config"
	"github.com/Y0UF0UNDM3/Car-Explore/pkg/engine"
	"github.com/Y0UF0UNDM3/Car-Explore/pkg/logging"
)

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "drive.json")
	if err := os.WriteFile(path, []byte(`{"logLevel": "debug"}`), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name      string
		path      string
		wantLevel string
		wantErr   bool
	}{
		{"existing file", path, "debug", false},
		{"missing file uses defaults", filepath.Join(dir, "missing.json"), config.DefaultConfig().LogLevel, false},
		{"no path", "", config.DefaultConfig().LogLevel, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := LoadConfig(tt.path, logging.Discard())
			if (err != nil) != tt.wantErr {
				t.Fatalf("LoadConfig() error = %v", err)
			}
			if cfg.LogLevel != tt.wantLevel {
				t.Errorf("LogLevel = %q, expected %q", cfg.LogLevel, tt.wantLevel)
			}
		})
	}
}

func TestNew_TelemetryAndTrace(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Telemetry.Enabled = true
	cfg.Telemetry.TraceDir = t.TempDir()
	cfg.Telemetry.TraceEvery = 1
	cfg.Telemetry.MetricsOutput = "none"
	cfg.Assets.Path = ""

	reader := sdkmetric.NewManualReader()
	var published int
	a, err := New(cfg, logging.Discard(),
		WithSessionID("app-test"),
		WithMetricReader(reader),
		WithSinks(engine.SinkFunc(func(*engine.FrameState) error {
			published++
			return nil
		})),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if a.Metrics == nil || a.Monitor == nil || a.Recorder == nil || a.Provider == nil {
		t.Fatal("telemetry should be wired")
	}
	if a.Session.ID != "app-test" {
		t.Errorf("session id = %q", a.Session.ID)
	}

	for i := 0; i < 5; i++ {
		a.Session.Frame(1.0 / 60)
	}
	if published != 5 {
		t.Errorf("extra sink saw %d frames, expected 5", published)
	}
	if stats := a.Metrics.Stats(); stats.Frames != 5 || stats.Steps != 5 {
		t.Errorf("metrics = %+v, expected 5 frames and 5 steps", stats)
	}
	if got := collectedSteps(t, reader); got != 5 {
		t.Errorf("sim.steps collected from the provider = %d, expected 5", got)
	}
	if n := a.Monitor.Snapshot().Samples; n > 5 {
		t.Errorf("monitor samples = %d, expected at most 5", n)
	}
	if ch := a.AttachModel(context.Background()); ch != nil {
		t.Error("no model configured, AttachModel should return nil")
	}

	if err := a.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(a.Recorder.Directory(), "manifest.json")); err != nil {
		t.Errorf("manifest missing: %v", err)
	}
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err == nil {
		t.Error("Close() should shut the meter provider down")
	}
}

func collectedSteps(t *testing.T, reader *sdkmetric.ManualReader) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok && m.Name == "sim.steps" {
				for _, dp := range sum.DataPoints {
					total += dp.Value
				}
			}
		}
	}
	return total
}

func TestNew_TelemetryDisabled(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Telemetry.Enabled = false
	cfg.Telemetry.TraceDir = ""

	a, err := New(cfg, logging.Discard())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer a.Close()
	if a.Metrics != nil || a.Monitor != nil || a.Recorder != nil || a.Provider != nil {
		t.Error("telemetry should not be wired when disabled")
	}
	if a.Session.ID == "" {
		t.Error("session id should be generated")
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Physics.FixedStep = 0
	if _, err := New(cfg, logging.Discard()); err == nil {
		t.Error("expected an invalid configuration to fail")
	}
}

func TestApp_AttachModel(t *testing.T) {
	dir := t.TempDir()
	model := filepath.Join(dir, "truck.glb")
	if err := os.WriteFile(model, []byte("glTF"), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name        string
		path        string
		loader      asset.Loader
		wantErr     bool
		wantVisual  string
		placeholder bool
	}{
		{"file on disk", model, nil, false, model, false},
		{"missing file", filepath.Join(dir, "bus.obj"), nil, true, "", true},
		{"custom loader", "remote/van.obj", asset.LoaderFunc(func(_ context.Context, path string) (asset.Model, error) {
			return asset.Model{Path: path, Format: "obj"}, nil
		}), false, "remote/van.obj", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.DefaultConfig()
			cfg.Telemetry.TraceDir = ""
			cfg.Telemetry.MetricsOutput = "none"
			cfg.Assets.Path = tt.path
			cfg.Assets.MaxRetries = 0

			var opts []Option
			if tt.loader != nil {
				opts = append(opts, WithLoader(tt.loader))
			}
			a, err := New(cfg, logging.Discard(), opts...)
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			defer a.Close()

			res := <-a.AttachModel(context.Background())
			if (res.Err != nil) != tt.wantErr {
				t.Fatalf("attach error = %v, wantErr %v", res.Err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(res.Err, asset.ErrNotFound) {
				t.Errorf("attach error = %v, expected ErrNotFound", res.Err)
			}

			visual := a.Session.Frame(1.0 / 60).Visual
			if visual.Placeholder != tt.placeholder {
				t.Errorf("Placeholder = %v, expected %v", visual.Placeholder, tt.placeholder)
			}
			if !tt.placeholder && visual.Path != tt.wantVisual {
				t.Errorf("visual path = %q, expected %q", visual.Path, tt.wantVisual)
			}
		})
	}
}
