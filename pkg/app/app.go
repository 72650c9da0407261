// Package app assembles a driving session with the telemetry, trace
// recording and asset loading the binaries share.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/Y0UF0UNDM3/Car-Explore/pkg/asset"
	"github.com/Y0UF0UNDM3/Car-Explore/pkg/config"
	"github.com/Y0UF0UNDM3/Car-Explore/pkg/engine"
	"github.com/Y0UF0UNDM3/Car-Explore/pkg/event"
	"github.com/Y0UF0UNDM3/Car-Explore/pkg/logging"
	"github.com/Y0UF0UNDM3/Car-Explore/pkg/telemetry"
)

// LoadConfig reads path when it exists and otherwise falls back to the
// defaults with environment overrides.
func LoadConfig(path string, logger *logging.Logger) (*config.Config, error) {
	if path == "" {
		return config.LoadFromEnv()
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		logger.Info(context.Background(), "Configuration file not found, using default configuration",
			"config_path", path,
		)
		return config.LoadFromEnv()
	}
	return config.LoadConfig(path)
}

// App is a session plus its supporting services.
type App struct {
	Config   *config.Config
	Logger   *logging.Logger
	Bus      *event.Bus
	Session  *engine.Session
	Provider *telemetry.MeterProvider
	Metrics  *telemetry.Metrics
	Monitor  *telemetry.TickMonitor
	Recorder *telemetry.Recorder
	Attacher *asset.Attacher

	modelPath string
}

// Option configures New.
type Option func(*options)

type options struct {
	sessionID string
	sinks     []engine.Sink
	loader    asset.Loader
	readers   []sdkmetric.Reader
}

// telemetryShutdownTimeout bounds the final metrics export on Close.
const telemetryShutdownTimeout = 5 * time.Second

// WithSessionID fixes the session id instead of generating one.
func WithSessionID(id string) Option {
	return func(o *options) { o.sessionID = id }
}

// WithSinks adds view or transport sinks after the telemetry sinks.
func WithSinks(sinks ...engine.Sink) Option {
	return func(o *options) { o.sinks = append(o.sinks, sinks...) }
}

// WithMetricReader adds a reader to the meter provider, e.g. a manual reader
// that collects on demand.
func WithMetricReader(r sdkmetric.Reader) Option {
	return func(o *options) { o.readers = append(o.readers, r) }
}

// WithLoader replaces the file loader used for the vehicle model.
func WithLoader(l asset.Loader) Option {
	return func(o *options) { o.loader = l }
}

// New builds the session described by cfg. Telemetry is wired when
// enabled and a trace recorder when TraceDir is set.
func New(cfg *config.Config, logger *logging.Logger, opts ...Option) (*App, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if logger == nil {
		logger = logging.NewLogger()
	}
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.sessionID == "" {
		o.sessionID = logging.GenerateCorrelationID()
	}

	a := &App{
		Config: cfg,
		Logger: logger,
		Bus:    event.NewEventBus(),
	}
	sessionOpts := []engine.Option{
		engine.WithLogger(logger),
		engine.WithEventBus(a.Bus),
		engine.WithSessionID(o.sessionID),
	}

	if cfg.Telemetry.Enabled {
		var providerOpts []telemetry.ProviderOption
		for _, r := range o.readers {
			providerOpts = append(providerOpts, telemetry.WithReader(r))
		}
		provider, err := telemetry.NewMeterProvider(cfg.Telemetry, o.sessionID, providerOpts...)
		if err != nil {
			return nil, logging.WrapError(err, "failed to create meter provider")
		}
		a.Provider = provider

		metrics, err := telemetry.NewMetrics(provider.Meter(cfg.Telemetry.MeterName))
		if err != nil {
			a.closeTelemetry()
			return nil, logging.WrapError(err, "failed to create metrics")
		}
		metrics.Subscribe(a.Bus)
		a.Metrics = metrics
		a.Monitor = telemetry.NewTickMonitor(logger, cfg.Telemetry.SlowStep)
		sessionOpts = append(sessionOpts,
			engine.WithObserver(metrics),
			engine.WithObserver(a.Monitor),
			engine.WithSink(metrics),
		)
	}

	if cfg.Telemetry.TraceDir != "" {
		rec, manifest, err := telemetry.NewRecorder(cfg.Telemetry.TraceDir, o.sessionID, cfg.Telemetry.TraceEvery, nil)
		if err != nil {
			a.closeTelemetry()
			return nil, logging.WrapError(err, "failed to create trace recorder")
		}
		rec.Subscribe(a.Bus)
		a.Recorder = rec
		sessionOpts = append(sessionOpts, engine.WithSink(rec))
		logger.Info(context.Background(), "Recording trace",
			"directory", rec.Directory(),
			"frame_every", manifest.FrameEvery,
		)
	}

	for _, sink := range o.sinks {
		sessionOpts = append(sessionOpts, engine.WithSink(sink))
	}

	session, err := engine.NewSession(cfg, sessionOpts...)
	if err != nil {
		a.closeTelemetry()
		return nil, err
	}
	a.Session = session

	loader := o.loader
	a.modelPath = cfg.Assets.Path
	if loader == nil && a.modelPath != "" {
		loader = asset.FileLoader{Root: filepath.Dir(a.modelPath)}
		a.modelPath = filepath.Base(a.modelPath)
	}
	a.Attacher = asset.NewAttacher(loader, a.Bus, logger, asset.SettingsFromConfig(cfg.Assets))
	return a, nil
}

// AttachModel starts loading the configured vehicle model. The session
// keeps its placeholder until the load succeeds. With no model configured
// it returns nil.
func (a *App) AttachModel(ctx context.Context) <-chan asset.Result {
	if a.modelPath == "" {
		return nil
	}
	return a.Attacher.AttachAsync(ctx, a.modelPath, a.Config.Assets.Scale)
}

// Close waits for pending asset loads and flushes telemetry, exporting the
// final metrics.
func (a *App) Close() error {
	if a.Attacher != nil {
		a.Attacher.Wait()
	}
	a.Session.Stop()
	return a.closeTelemetry()
}

func (a *App) closeTelemetry() error {
	var errs []error
	if a.Recorder != nil {
		if err := a.Recorder.Close(); err != nil {
			errs = append(errs, fmt.Errorf("trace recorder: %w", err))
		}
	}
	if a.Metrics != nil {
		if err := a.Metrics.Close(); err != nil {
			errs = append(errs, fmt.Errorf("metrics: %w", err))
		}
	}
	if a.Provider != nil {
		ctx, cancel := context.WithTimeout(context.Background(), telemetryShutdownTimeout)
		defer cancel()
		if err := a.Provider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter provider: %w", err))
		}
	}
	return errors.Join(errs...)
}
