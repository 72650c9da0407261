package resource

import (
	"context"
	"fmt"
)

// ResourceHealthCheck reports the manager unhealthy when the heap is over
// its limit or tracked goroutines pass 80% of theirs.
type ResourceHealthCheck struct {
	manager *ResourceManager
}

// NewResourceHealthCheck creates a health check for manager.
func NewResourceHealthCheck(manager *ResourceManager) *ResourceHealthCheck {
	return &ResourceHealthCheck{manager: manager}
}

// Name implements health.HealthCheck.
func (r *ResourceHealthCheck) Name() string {
	return "resource"
}

// Check implements health.HealthCheck.
func (r *ResourceHealthCheck) Check(ctx context.Context) error {
	if err := r.manager.CheckMemoryUsage(); err != nil {
		return err
	}

	stats := r.manager.GetResourceStats()
	threshold := int64(float64(stats.MaxGoroutines) * 0.8)
	if stats.GoroutineCount > threshold {
		return fmt.Errorf("goroutine count %d exceeds 80%% threshold (%d/%d)",
			stats.GoroutineCount, threshold, stats.MaxGoroutines)
	}
	return nil
}
