// Package network lets remote drivers steer a session over WebSocket and
// receive its published frames.
package network

import (
	"context"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"github.com/Y0UF0UNDM3/Car-Explore/pkg/logging"
)

// BreakerSettings configure the circuit breaker and retry loop around
// connection attempts.
type BreakerSettings struct {
	MaxRequests         uint32
	Interval            time.Duration
	Timeout             time.Duration
	MaxConsecutiveFails uint32
	MaxRetries          int
	BaseDelay           time.Duration
}

// DefaultBreakerSettings trip after five consecutive failures and retry
// three times with a linear one second backoff.
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		MaxRequests:         3,
		Interval:            60 * time.Second,
		Timeout:             30 * time.Second,
		MaxConsecutiveFails: 5,
		MaxRetries:          3,
		BaseDelay:           time.Second,
	}
}

// NetworkService runs operations through a circuit breaker with retries.
type NetworkService struct {
	breaker  *gobreaker.CircuitBreaker
	logger   *logging.Logger
	settings BreakerSettings
}

// NetworkOperation is a single attempt of a network operation.
type NetworkOperation func() error

// NewNetworkService creates a service named name. A nil logger logs to
// stdout.
func NewNetworkService(name string, settings BreakerSettings, logger *logging.Logger) *NetworkService {
	if logger == nil {
		logger = logging.NewLogger()
	}
	if settings.MaxRetries < 1 {
		settings.MaxRetries = 1
	}

	breakerSettings := gobreaker.Settings{
		Name:        name,
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= settings.MaxConsecutiveFails
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Info(context.Background(), "Circuit breaker state changed",
				"name", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	}

	return &NetworkService{
		breaker:  gobreaker.NewCircuitBreaker(breakerSettings),
		logger:   logger,
		settings: settings,
	}
}

// Execute runs operation once through the circuit breaker. An open breaker
// fails immediately.
func (ns *NetworkService) Execute(ctx context.Context, operation NetworkOperation) error {
	_, err := ns.breaker.Execute(func() (interface{}, error) {
		return nil, operation()
	})
	if err != nil {
		ns.logger.Debug(ctx, "Circuit breaker execution failed",
			"error", err.Error(),
			"state", ns.breaker.State().String(),
		)
		return fmt.Errorf("circuit breaker: %w", err)
	}
	return nil
}

// ExecuteWithRetry runs operation up to MaxRetries times with a linear
// backoff, giving up early when the breaker opens or ctx ends.
func (ns *NetworkService) ExecuteWithRetry(ctx context.Context, operation NetworkOperation) error {
	maxRetries := ns.settings.MaxRetries

	for attempt := 0; attempt < maxRetries; attempt++ {
		err := ns.Execute(ctx, operation)
		if err == nil {
			return nil
		}

		if ns.breaker.State() == gobreaker.StateOpen {
			ns.logger.Warn(ctx, "Circuit breaker is open, skipping retries",
				"attempt", attempt+1,
				"max_retries", maxRetries,
			)
			return err
		}

		if attempt == maxRetries-1 {
			ns.logger.Error(ctx, "All retry attempts failed", err, "attempts", maxRetries)
			return fmt.Errorf("max retries (%d) exceeded: %w", maxRetries, err)
		}

		delay := time.Duration(attempt+1) * ns.settings.BaseDelay
		ns.logger.Warn(ctx, "Operation failed, retrying",
			"attempt", attempt+1,
			"max_retries", maxRetries,
			"delay", delay,
			"error", err.Error(),
		)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return fmt.Errorf("retry cancelled: %w", ctx.Err())
		}
	}

	return fmt.Errorf("unexpected exit from retry loop")
}

// GetState returns the current state of the circuit breaker.
func (ns *NetworkService) GetState() gobreaker.State {
	return ns.breaker.State()
}

// GetCounts returns the failure and success counts of the circuit breaker.
func (ns *NetworkService) GetCounts() gobreaker.Counts {
	return ns.breaker.Counts()
}
