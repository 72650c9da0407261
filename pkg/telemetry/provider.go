// pkg/telemetry/provider.go
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/Y0UF0UNDM3/Car-Explore/pkg/config"
)

// Metric outputs understood by NewMeterProvider besides a file path.
const (
	OutputStderr = "stderr"
	OutputStdout = "stdout"
	OutputNone   = "none"
)

const defaultExportInterval = 30 * time.Second

// MeterProvider is an SDK meter provider plus the file its exporter writes
// to, if any.
type MeterProvider struct {
	*sdkmetric.MeterProvider
	out io.Closer

	shutdownOnce sync.Once
	shutdownErr  error
}

// ProviderOption configures NewMeterProvider.
type ProviderOption func(*providerOptions)

type providerOptions struct {
	readers []sdkmetric.Reader
}

// WithReader adds a reader next to the exporter, e.g. a manual reader that
// collects on demand.
func WithReader(r sdkmetric.Reader) ProviderOption {
	return func(o *providerOptions) { o.readers = append(o.readers, r) }
}

// NewMeterProvider builds the provider the session instruments report to.
// Every MetricsInterval the stdout exporter writes the collected metrics as
// JSON to cfg.MetricsOutput: "stderr", "stdout", a file path (appended), or
// "none" for no periodic export.
func NewMeterProvider(cfg config.TelemetryConfig, sessionID string, opts ...ProviderOption) (*MeterProvider, error) {
	o := providerOptions{}
	for _, opt := range opts {
		opt(&o)
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceName(cfg.MeterName),
			semconv.ServiceInstanceID(sessionID),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	p := &MeterProvider{}
	providerOpts := []sdkmetric.Option{sdkmetric.WithResource(res)}

	w, closer, err := openOutput(cfg.MetricsOutput)
	if err != nil {
		return nil, err
	}
	if w != nil {
		exporter, err := stdoutmetric.New(stdoutmetric.WithWriter(w))
		if err != nil {
			if closer != nil {
				closer.Close()
			}
			return nil, fmt.Errorf("failed to create metric exporter: %w", err)
		}
		interval := cfg.MetricsInterval
		if interval <= 0 {
			interval = defaultExportInterval
		}
		providerOpts = append(providerOpts, sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval)),
		))
		p.out = closer
	}
	for _, r := range o.readers {
		providerOpts = append(providerOpts, sdkmetric.WithReader(r))
	}

	p.MeterProvider = sdkmetric.NewMeterProvider(providerOpts...)
	return p, nil
}

func openOutput(output string) (io.Writer, io.Closer, error) {
	switch output {
	case OutputNone:
		return nil, nil, nil
	case "", OutputStderr:
		return os.Stderr, nil, nil
	case OutputStdout:
		return os.Stdout, nil, nil
	}
	f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open metrics output: %w", err)
	}
	return f, f, nil
}

// Shutdown exports what is left and closes the output file. Later calls
// return the first result.
func (p *MeterProvider) Shutdown(ctx context.Context) error {
	p.shutdownOnce.Do(func() {
		p.shutdownErr = p.MeterProvider.Shutdown(ctx)
		if p.out != nil {
			p.shutdownErr = errors.Join(p.shutdownErr, p.out.Close())
		}
	})
	return p.shutdownErr
}
