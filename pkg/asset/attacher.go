package asset

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/Y0UF0UNDM3/Car-Explore/pkg/config"
	"github.com/Y0UF0UNDM3/Car-Explore/pkg/event"
	"github.com/Y0UF0UNDM3/Car-Explore/pkg/logging"
)

// Settings tune retries and the circuit breaker around a Loader.
type Settings struct {
	// MaxRetries is the number of attempts after the first.
	MaxRetries int
	// BaseDelay grows linearly with each retry.
	BaseDelay time.Duration
	// Timeout bounds a single attempt; zero means no bound.
	Timeout time.Duration
	// BreakerMaxFailures consecutive failures open the breaker.
	BreakerMaxFailures uint32
	// BreakerTimeout is how long the breaker stays open.
	BreakerTimeout time.Duration
}

// SettingsFromConfig converts the asset section of the configuration.
func SettingsFromConfig(cfg config.AssetConfig) Settings {
	return Settings{
		MaxRetries:         cfg.MaxRetries,
		BaseDelay:          500 * time.Millisecond,
		Timeout:            cfg.Timeout,
		BreakerMaxFailures: cfg.BreakerMaxFailures,
		BreakerTimeout:     cfg.BreakerTimeout,
	}
}

// Result is the outcome of one attach.
type Result struct {
	Model Model
	Scale float64
	Err   error
}

// Attacher loads vehicle models through a circuit breaker and announces the
// outcome on the event bus. The session swaps its visual on AssetAttached;
// failures leave the placeholder.
type Attacher struct {
	loader   Loader
	bus      *event.Bus
	logger   *logging.Logger
	settings Settings
	breaker  *gobreaker.CircuitBreaker

	// sleep waits between retries; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error

	wg sync.WaitGroup
}

// NewAttacher creates an attacher. A nil logger logs to stdout.
func NewAttacher(loader Loader, bus *event.Bus, logger *logging.Logger, settings Settings) *Attacher {
	if logger == nil {
		logger = logging.NewLogger()
	}
	if settings.MaxRetries < 0 {
		settings.MaxRetries = 0
	}
	if settings.BreakerMaxFailures == 0 {
		settings.BreakerMaxFailures = 3
	}

	a := &Attacher{
		loader:   loader,
		bus:      bus,
		logger:   logger,
		settings: settings,
		sleep:    sleepContext,
	}
	a.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "asset-loader",
		Timeout: settings.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= settings.BreakerMaxFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Info(context.Background(), "Circuit breaker state changed",
				"name", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})
	return a
}

// Attach loads path, retrying transient failures, and publishes
// AssetAttached or AssetLoadFailed with the given scale.
func (a *Attacher) Attach(ctx context.Context, path string, scale float64) (Model, error) {
	model, err := a.loadWithRetry(ctx, path)
	if err != nil {
		a.logger.Error(ctx, "Vehicle asset failed to load, keeping placeholder", err, "path", path)
	} else {
		a.logger.Info(ctx, "Vehicle asset attached",
			"path", model.Path,
			"format", model.Format,
			"bytes", model.Size,
			"scale", scale,
		)
		path = model.Path
	}
	if a.bus != nil {
		a.bus.Publish(event.NewAssetEvent(a, path, scale, err))
	}
	return model, err
}

// AttachAsync runs Attach on its own goroutine. The channel receives exactly
// one Result.
func (a *Attacher) AttachAsync(ctx context.Context, path string, scale float64) <-chan Result {
	out := make(chan Result, 1)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		model, err := a.Attach(ctx, path, scale)
		out <- Result{Model: model, Scale: scale, Err: err}
	}()
	return out
}

// Wait blocks until every AttachAsync goroutine has finished.
func (a *Attacher) Wait() {
	a.wg.Wait()
}

func (a *Attacher) loadWithRetry(ctx context.Context, path string) (Model, error) {
	attempts := a.settings.MaxRetries + 1
	for attempt := 0; attempt < attempts; attempt++ {
		model, err := a.execute(ctx, path)
		if err == nil {
			return model, nil
		}

		if a.breaker.State() == gobreaker.StateOpen {
			a.logger.Warn(ctx, "Circuit breaker is open, skipping retries",
				"attempt", attempt+1,
				"path", path,
			)
			return Model{}, err
		}
		if permanent(err) || ctx.Err() != nil {
			return Model{}, err
		}
		if attempt == attempts-1 {
			return Model{}, fmt.Errorf("max retries (%d) exceeded: %w", a.settings.MaxRetries, err)
		}

		delay := time.Duration(attempt+1) * a.settings.BaseDelay
		a.logger.Warn(ctx, "Asset load failed, retrying",
			"attempt", attempt+1,
			"max_retries", a.settings.MaxRetries,
			"delay", delay,
			"error", err.Error(),
		)
		if err := a.sleep(ctx, delay); err != nil {
			return Model{}, fmt.Errorf("retry cancelled: %w", err)
		}
	}
	return Model{}, fmt.Errorf("unexpected exit from retry loop")
}

func (a *Attacher) execute(ctx context.Context, path string) (Model, error) {
	result, err := a.breaker.Execute(func() (interface{}, error) {
		attemptCtx := ctx
		if a.settings.Timeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, a.settings.Timeout)
			defer cancel()
		}
		return a.loader.Load(attemptCtx, path)
	})
	if err != nil {
		return Model{}, fmt.Errorf("circuit breaker: %w", err)
	}
	return result.(Model), nil
}

// State returns the circuit breaker state.
func (a *Attacher) State() gobreaker.State {
	return a.breaker.State()
}

// Counts returns the circuit breaker counters.
func (a *Attacher) Counts() gobreaker.Counts {
	return a.breaker.Counts()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
