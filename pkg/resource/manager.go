// pkg/resource/manager.go
package resource

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Y0UF0UNDM3/Car-Explore/pkg/config"
	"github.com/Y0UF0UNDM3/Car-Explore/pkg/logging"
)

// ErrShuttingDown is returned by StartGoroutine once Shutdown has begun.
var ErrShuttingDown = errors.New("resource manager is shutting down")

// ResourceManager owns the background goroutines of a process (the
// session loop, the drive server, asset loads) and watches heap usage.
// Every tracked goroutine receives a context that Shutdown cancels.
type ResourceManager struct {
	maxMemoryMB     int64
	maxGoroutines   int64
	shutdownTimeout time.Duration
	checkInterval   time.Duration

	goroutineCount int64
	memoryUsageMB  int64

	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	wg      sync.WaitGroup
	mu      sync.RWMutex
	running bool
	closing bool
	logger  *logging.Logger

	// names counts live goroutines per name.
	names   map[string]int
	failed  []TaskFailure
	readMem func() uint64

	lastMemoryCheck time.Time
}

// TaskFailure records a tracked goroutine that returned an error or panicked.
type TaskFailure struct {
	Name string    `json:"name"`
	Err  string    `json:"error"`
	At   time.Time `json:"at"`
}

// NewResourceManager creates a manager from the runtime limits. A nil
// logger logs to stdout.
func NewResourceManager(cfg config.RuntimeConfig, logger *logging.Logger) *ResourceManager {
	if logger == nil {
		logger = logging.NewLogger()
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = 10 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &ResourceManager{
		maxMemoryMB:     cfg.MaxMemoryMB,
		maxGoroutines:   int64(cfg.MaxGoroutines),
		shutdownTimeout: cfg.ShutdownTimeout,
		checkInterval:   cfg.CheckInterval,
		ctx:             ctx,
		cancel:          cancel,
		done:            make(chan struct{}),
		logger:          logger.With("component", "resource"),
		names:           make(map[string]int),
		readMem: func() uint64 {
			var m runtime.MemStats
			runtime.ReadMemStats(&m)
			return m.Alloc
		},
		lastMemoryCheck: time.Now(),
	}
}

// Start begins the periodic resource checks.
func (rm *ResourceManager) Start() error {
	rm.mu.Lock()
	if rm.running {
		rm.mu.Unlock()
		return fmt.Errorf("resource manager already running")
	}
	if rm.closing {
		rm.mu.Unlock()
		return ErrShuttingDown
	}
	rm.running = true
	rm.mu.Unlock()

	go rm.monitoringLoop()

	rm.logger.Info(rm.ctx, "Resource manager started",
		"max_memory_mb", rm.maxMemoryMB,
		"max_goroutines", rm.maxGoroutines,
		"check_interval", rm.checkInterval,
	)
	return nil
}

// Context is cancelled when Shutdown begins.
func (rm *ResourceManager) Context() context.Context {
	return rm.ctx
}

// StartGoroutine runs fn in a tracked goroutine. The context passed to fn
// is cancelled when either ctx or the manager is done. Errors and panics
// from fn are logged and kept in the stats; context cancellation is not a
// failure.
func (rm *ResourceManager) StartGoroutine(ctx context.Context, name string, fn func(context.Context) error) error {
	rm.mu.Lock()
	if rm.closing {
		rm.mu.Unlock()
		return ErrShuttingDown
	}
	current := atomic.LoadInt64(&rm.goroutineCount)
	if current >= rm.maxGoroutines {
		rm.mu.Unlock()
		rm.logger.Warn(ctx, "Goroutine limit exceeded",
			"current", current,
			"limit", rm.maxGoroutines,
			"name", name,
		)
		return fmt.Errorf("goroutine limit exceeded: %d/%d", current, rm.maxGoroutines)
	}
	atomic.AddInt64(&rm.goroutineCount, 1)
	rm.names[name]++
	rm.wg.Add(1)
	rm.mu.Unlock()

	taskCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(rm.ctx, cancel)

	go func() {
		defer rm.wg.Done()
		defer rm.release(name)
		defer stop()
		defer cancel()

		if err := rm.run(taskCtx, name, fn); err != nil {
			rm.recordFailure(name, err)
		}
	}()

	return nil
}

// run calls fn, turning a panic into an error.
func (rm *ResourceManager) run(ctx context.Context, name string, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	err = fn(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (rm *ResourceManager) release(name string) {
	rm.mu.Lock()
	if rm.names[name]--; rm.names[name] <= 0 {
		delete(rm.names, name)
	}
	rm.mu.Unlock()
	atomic.AddInt64(&rm.goroutineCount, -1)
}

func (rm *ResourceManager) recordFailure(name string, err error) {
	rm.logger.Error(rm.ctx, "Tracked goroutine failed", err, "name", name)
	rm.mu.Lock()
	rm.failed = append(rm.failed, TaskFailure{Name: name, Err: err.Error(), At: time.Now()})
	rm.mu.Unlock()
}

// CheckMemoryUsage samples the heap against the limit.
func (rm *ResourceManager) CheckMemoryUsage() error {
	currentMB := int64(rm.readMem() / 1024 / 1024)
	atomic.StoreInt64(&rm.memoryUsageMB, currentMB)

	rm.mu.Lock()
	rm.lastMemoryCheck = time.Now()
	rm.mu.Unlock()

	if currentMB > rm.maxMemoryMB {
		return fmt.Errorf("memory usage %dMB exceeds limit %dMB", currentMB, rm.maxMemoryMB)
	}
	return nil
}

// GetGoroutineCount returns the number of tracked goroutines.
func (rm *ResourceManager) GetGoroutineCount() int64 {
	return atomic.LoadInt64(&rm.goroutineCount)
}

// GetMemoryUsage returns the last sampled heap size in MB.
func (rm *ResourceManager) GetMemoryUsage() int64 {
	return atomic.LoadInt64(&rm.memoryUsageMB)
}

// ResourceStats is a point-in-time view of the manager.
type ResourceStats struct {
	GoroutineCount  int64         `json:"goroutine_count"`
	MaxGoroutines   int64         `json:"max_goroutines"`
	MemoryUsageMB   int64         `json:"memory_usage_mb"`
	MaxMemoryMB     int64         `json:"max_memory_mb"`
	Tasks           []string      `json:"tasks"`
	Failures        []TaskFailure `json:"failures,omitempty"`
	LastMemoryCheck time.Time     `json:"last_memory_check"`
}

// GetResourceStats returns current usage. Tasks lists the names of live
// goroutines, sorted, one entry per goroutine.
func (rm *ResourceManager) GetResourceStats() ResourceStats {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	tasks := make([]string, 0, len(rm.names))
	for name, n := range rm.names {
		for i := 0; i < n; i++ {
			tasks = append(tasks, name)
		}
	}
	sort.Strings(tasks)

	return ResourceStats{
		GoroutineCount:  rm.GetGoroutineCount(),
		MaxGoroutines:   rm.maxGoroutines,
		MemoryUsageMB:   rm.GetMemoryUsage(),
		MaxMemoryMB:     rm.maxMemoryMB,
		Tasks:           tasks,
		Failures:        append([]TaskFailure(nil), rm.failed...),
		LastMemoryCheck: rm.lastMemoryCheck,
	}
}

// Shutdown cancels every tracked goroutine and waits up to the shutdown
// timeout for them to return. It is safe to call more than once.
func (rm *ResourceManager) Shutdown(ctx context.Context) error {
	rm.mu.Lock()
	if rm.closing {
		rm.mu.Unlock()
		return nil
	}
	rm.closing = true
	wasRunning := rm.running
	rm.running = false
	rm.mu.Unlock()

	rm.logger.Info(ctx, "Shutting down resource manager", "goroutines", rm.GetGoroutineCount())
	rm.cancel()

	shutdownCtx := ctx
	if rm.shutdownTimeout > 0 {
		var cancel context.CancelFunc
		shutdownCtx, cancel = context.WithTimeout(ctx, rm.shutdownTimeout)
		defer cancel()
	}

	if wasRunning {
		select {
		case <-rm.done:
		case <-shutdownCtx.Done():
			rm.logger.Warn(ctx, "Resource monitoring loop did not stop gracefully")
		}
	}

	return rm.waitForGoroutines(shutdownCtx)
}

func (rm *ResourceManager) waitForGoroutines(ctx context.Context) error {
	finished := make(chan struct{})
	go func() {
		rm.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		rm.logger.Debug(ctx, "All tracked goroutines finished")
		return nil
	case <-ctx.Done():
		stats := rm.GetResourceStats()
		rm.logger.Warn(ctx, "Shutdown timeout exceeded with goroutines still running",
			"remaining", stats.GoroutineCount,
			"tasks", stats.Tasks,
		)
		return fmt.Errorf("shutdown timeout: %d goroutines still running", stats.GoroutineCount)
	}
}

func (rm *ResourceManager) monitoringLoop() {
	defer close(rm.done)

	ticker := time.NewTicker(rm.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rm.performResourceChecks()
		case <-rm.ctx.Done():
			return
		}
	}
}

func (rm *ResourceManager) performResourceChecks() {
	if err := rm.CheckMemoryUsage(); err != nil {
		rm.logger.Error(rm.ctx, "Memory limit exceeded", err,
			"current_mb", rm.GetMemoryUsage(),
			"limit_mb", rm.maxMemoryMB,
		)
	}
	rm.logger.Debug(rm.ctx, "Resource usage check",
		"goroutines", rm.GetGoroutineCount(),
		"memory_mb", rm.GetMemoryUsage(),
	)
}
