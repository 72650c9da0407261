// pkg/resource/manager_test.go
package resource

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Y0UF0UNDM3/Car-Explore/pkg/config"
	"github.com/Y0UF0UNDM3/Car-Explore/pkg/logging"
)

func testRuntimeConfig() config.RuntimeConfig {
	return config.RuntimeConfig{
		MaxMemoryMB:     500,
		MaxGoroutines:   10,
		ShutdownTimeout: 2 * time.Second,
		CheckInterval:   time.Second,
	}
}

func newTestManager(t *testing.T, cfg config.RuntimeConfig) *ResourceManager {
	t.Helper()
	rm := NewResourceManager(cfg, logging.Discard())
	t.Cleanup(func() { rm.Shutdown(context.Background()) })
	return rm
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestNewResourceManager(t *testing.T) {
	rm := newTestManager(t, config.RuntimeConfig{
		MaxMemoryMB:     500,
		MaxGoroutines:   100,
		ShutdownTimeout: 30 * time.Second,
	})

	if rm.maxMemoryMB != 500 {
		t.Errorf("Expected MaxMemoryMB 500, got %d", rm.maxMemoryMB)
	}
	if rm.maxGoroutines != 100 {
		t.Errorf("Expected MaxGoroutines 100, got %d", rm.maxGoroutines)
	}
	if rm.shutdownTimeout != 30*time.Second {
		t.Errorf("Expected ShutdownTimeout 30s, got %v", rm.shutdownTimeout)
	}
	if rm.checkInterval != 10*time.Second {
		t.Errorf("Expected default CheckInterval 10s, got %v", rm.checkInterval)
	}
}

func TestResourceManager_StartGoroutine(t *testing.T) {
	cfg := testRuntimeConfig()
	cfg.MaxGoroutines = 3
	rm := newTestManager(t, cfg)

	release := make(chan struct{})
	for _, name := range []string{"session", "server", "server"} {
		err := rm.StartGoroutine(context.Background(), name, func(ctx context.Context) error {
			<-release
			return nil
		})
		if err != nil {
			t.Fatalf("StartGoroutine(%s) error = %v", name, err)
		}
	}

	stats := rm.GetResourceStats()
	if got := strings.Join(stats.Tasks, ","); got != "server,server,session" {
		t.Errorf("Tasks = %q, expected server,server,session", got)
	}

	err := rm.StartGoroutine(context.Background(), "asset", func(ctx context.Context) error { return nil })
	if err == nil || !strings.Contains(err.Error(), "goroutine limit exceeded: 3/3") {
		t.Errorf("fourth goroutine error = %v, expected limit error", err)
	}

	close(release)
	waitFor(t, "goroutines to finish", func() bool { return rm.GetGoroutineCount() == 0 })
	if tasks := rm.GetResourceStats().Tasks; len(tasks) != 0 {
		t.Errorf("Tasks after finish = %v", tasks)
	}
}

func TestResourceManager_Failures(t *testing.T) {
	tests := []struct {
		name    string
		fn      func(context.Context) error
		wantErr string
	}{
		{"error", func(context.Context) error { return errors.New("listener closed") }, "listener closed"},
		{"panic", func(context.Context) error { panic("boom") }, "panic: boom"},
		{"cancelled", func(context.Context) error { return context.Canceled }, ""},
		{"clean", func(context.Context) error { return nil }, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rm := newTestManager(t, testRuntimeConfig())
			if err := rm.StartGoroutine(context.Background(), tt.name, tt.fn); err != nil {
				t.Fatalf("StartGoroutine() error = %v", err)
			}
			waitFor(t, "goroutine exit", func() bool { return rm.GetGoroutineCount() == 0 })

			failures := rm.GetResourceStats().Failures
			if tt.wantErr == "" {
				if len(failures) != 0 {
					t.Errorf("Failures = %+v, expected none", failures)
				}
				return
			}
			if len(failures) != 1 || failures[0].Name != tt.name || failures[0].Err != tt.wantErr {
				t.Errorf("Failures = %+v, expected %s: %s", failures, tt.name, tt.wantErr)
			}
		})
	}
}

func TestResourceManager_CheckMemoryUsage(t *testing.T) {
	tests := []struct {
		name    string
		heapMB  uint64
		limitMB int64
		wantErr bool
	}{
		{"under limit", 100, 500, false},
		{"at limit", 500, 500, false},
		{"over limit", 501, 500, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testRuntimeConfig()
			cfg.MaxMemoryMB = tt.limitMB
			rm := newTestManager(t, cfg)
			rm.readMem = func() uint64 { return tt.heapMB * 1024 * 1024 }

			err := rm.CheckMemoryUsage()
			if (err != nil) != tt.wantErr {
				t.Errorf("CheckMemoryUsage() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got := rm.GetMemoryUsage(); got != int64(tt.heapMB) {
				t.Errorf("GetMemoryUsage() = %d, expected %d", got, tt.heapMB)
			}
		})
	}
}

func TestResourceManager_StartTwice(t *testing.T) {
	rm := newTestManager(t, testRuntimeConfig())
	if err := rm.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := rm.Start(); err == nil {
		t.Error("second Start() should fail")
	}
}

func TestResourceManager_ShutdownCancelsGoroutines(t *testing.T) {
	rm := NewResourceManager(testRuntimeConfig(), logging.Discard())
	if err := rm.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	var mu sync.Mutex
	stopped := 0
	for i := 0; i < 3; i++ {
		rm.StartGoroutine(context.Background(), "loop", func(ctx context.Context) error {
			<-ctx.Done()
			mu.Lock()
			stopped++
			mu.Unlock()
			return ctx.Err()
		})
	}

	if err := rm.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if stopped != 3 {
		t.Errorf("stopped = %d, expected 3", stopped)
	}
	if rm.Context().Err() == nil {
		t.Error("manager context should be cancelled")
	}

	if err := rm.StartGoroutine(context.Background(), "late", func(context.Context) error { return nil }); !errors.Is(err, ErrShuttingDown) {
		t.Errorf("StartGoroutine after Shutdown = %v, expected ErrShuttingDown", err)
	}
	if err := rm.Shutdown(context.Background()); err != nil {
		t.Errorf("second Shutdown() error = %v", err)
	}
	if len(rm.GetResourceStats().Failures) != 0 {
		t.Error("cancellation should not be recorded as a failure")
	}
}

func TestResourceManager_ShutdownTimeout(t *testing.T) {
	cfg := testRuntimeConfig()
	cfg.ShutdownTimeout = 50 * time.Millisecond
	rm := NewResourceManager(cfg, logging.Discard())

	release := make(chan struct{})
	defer close(release)
	rm.StartGoroutine(context.Background(), "stubborn", func(context.Context) error {
		<-release
		return nil
	})

	err := rm.Shutdown(context.Background())
	if err == nil || !strings.Contains(err.Error(), "1 goroutines still running") {
		t.Errorf("Shutdown() error = %v, expected timeout", err)
	}
}

func TestResourceManager_ParentContext(t *testing.T) {
	rm := newTestManager(t, testRuntimeConfig())
	ctx, cancel := context.WithCancel(context.Background())

	rm.StartGoroutine(ctx, "child", func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	})
	cancel()
	waitFor(t, "child exit", func() bool { return rm.GetGoroutineCount() == 0 })
	if rm.Context().Err() != nil {
		t.Error("cancelling a parent context must not stop the manager")
	}
}
