// Package health serves liveness and readiness probes for a headless driving
// session.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"
)

// Probe paths
const (
	LivePath  = "/health/live"
	ReadyPath = "/health/ready"
)

// HealthCheck is one component check.
type HealthCheck interface {
	// Name returns the unique name of this health check
	Name() string
	// Check returns an error if the component is unhealthy
	Check(ctx context.Context) error
}

// HealthStatus represents the overall health status of the application.
type HealthStatus struct {
	Status string                     `json:"status"`
	Checks map[string]ComponentHealth `json:"checks"`
}

// ComponentHealth represents the health status of an individual component.
type ComponentHealth struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthChecker manages and executes health checks for the application.
type HealthChecker struct {
	checks  map[string]HealthCheck
	timeout time.Duration
	mu      sync.RWMutex
}

// NewHealthChecker creates a health checker whose readiness probe allows the
// checks 5 seconds.
func NewHealthChecker() *HealthChecker {
	return &HealthChecker{
		checks:  make(map[string]HealthCheck),
		timeout: 5 * time.Second,
	}
}

// AddCheck registers a check, replacing any with the same name.
func (hc *HealthChecker) AddCheck(check HealthCheck) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.checks[check.Name()] = check
}

// RemoveCheck removes a health check by name.
func (hc *HealthChecker) RemoveCheck(name string) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	delete(hc.checks, name)
}

// Names returns the registered check names in order.
func (hc *HealthChecker) Names() []string {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	names := make([]string, 0, len(hc.checks))
	for name := range hc.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CheckHealth runs every check. The overall status is "healthy" only if all
// of them pass.
func (hc *HealthChecker) CheckHealth(ctx context.Context) HealthStatus {
	hc.mu.RLock()
	defer hc.mu.RUnlock()

	status := HealthStatus{
		Status: "healthy",
		Checks: make(map[string]ComponentHealth),
	}

	for name, check := range hc.checks {
		if err := check.Check(ctx); err != nil {
			status.Status = "unhealthy"
			status.Checks[name] = ComponentHealth{
				Status:  "unhealthy",
				Message: err.Error(),
			}
		} else {
			status.Checks[name] = ComponentHealth{
				Status: "healthy",
			}
		}
	}

	return status
}

// Register adds the liveness and readiness handlers to mux.
func (hc *HealthChecker) Register(mux *http.ServeMux) {
	mux.HandleFunc(LivePath, hc.LivenessHandler)
	mux.HandleFunc(ReadyPath, hc.ReadinessHandler)
}

// LivenessHandler answers 200 while the process can serve requests.
func (hc *HealthChecker) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	json.NewEncoder(w).Encode(map[string]string{"status": "alive"})
}

// ReadinessHandler answers 200 when every check passes and 503 otherwise.
func (hc *HealthChecker) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), hc.timeout)
	defer cancel()

	health := hc.CheckHealth(ctx)

	w.Header().Set("Content-Type", "application/json")
	if health.Status == "healthy" {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	json.NewEncoder(w).Encode(health)
}

// SessionHealthCheck passes while the session loop is running and has
// completed a frame recently.
type SessionHealthCheck struct {
	running   func() bool
	lastFrame func() time.Time
	maxStall  time.Duration
	now       func() time.Time
}

// NewSessionHealthCheck creates a check for a session. A frame older than
// maxStall fails the check; zero disables the staleness test.
func NewSessionHealthCheck(running func() bool, lastFrame func() time.Time, maxStall time.Duration) *SessionHealthCheck {
	return &SessionHealthCheck{
		running:   running,
		lastFrame: lastFrame,
		maxStall:  maxStall,
		now:       time.Now,
	}
}

// Name returns the name of this health check.
func (s *SessionHealthCheck) Name() string {
	return "session"
}

// Check verifies that the session is stepping.
func (s *SessionHealthCheck) Check(ctx context.Context) error {
	if !s.running() {
		return fmt.Errorf("session is not running")
	}
	if s.maxStall <= 0 {
		return nil
	}
	last := s.lastFrame()
	if last.IsZero() {
		return fmt.Errorf("session has not completed a frame")
	}
	if stall := s.now().Sub(last); stall > s.maxStall {
		return fmt.Errorf("session stalled: last frame %v ago (max %v)", stall.Round(time.Millisecond), s.maxStall)
	}
	return nil
}

// NetworkHealthCheck passes while the websocket listener is bound.
type NetworkHealthCheck struct {
	listenerAddr func() string
}

// NewNetworkHealthCheck creates a health check for the listener.
func NewNetworkHealthCheck(listenerAddr func() string) *NetworkHealthCheck {
	return &NetworkHealthCheck{
		listenerAddr: listenerAddr,
	}
}

// Name returns the name of this health check.
func (n *NetworkHealthCheck) Name() string {
	return "network"
}

// Check verifies that the network listener is active.
func (n *NetworkHealthCheck) Check(ctx context.Context) error {
	if n.listenerAddr() == "" {
		return fmt.Errorf("network listener is not active")
	}
	return nil
}

// StepBudgetHealthCheck fails when the average physics step takes longer
// than budget.
type StepBudgetHealthCheck struct {
	budget  time.Duration
	average func() time.Duration
}

// NewStepBudgetHealthCheck creates a check over a running step average.
func NewStepBudgetHealthCheck(budget time.Duration, average func() time.Duration) *StepBudgetHealthCheck {
	return &StepBudgetHealthCheck{budget: budget, average: average}
}

// Name returns the name of this health check.
func (c *StepBudgetHealthCheck) Name() string {
	return "step_budget"
}

// Check verifies that steps keep up with the budget.
func (c *StepBudgetHealthCheck) Check(ctx context.Context) error {
	if avg := c.average(); c.budget > 0 && avg > c.budget {
		return fmt.Errorf("average step %v exceeds budget %v", avg, c.budget)
	}
	return nil
}
