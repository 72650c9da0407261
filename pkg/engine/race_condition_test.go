// pkg/engine/race_condition_test.go
package engine

import (
	"context"
	"sync"
	"testing"
	"time"
)

// TestSessionRaceCondition drives the loop while other goroutines press keys,
// request resets and read snapshots. Run with -race.
func TestSessionRaceCondition(t *testing.T) {
	s := newTestSession(t, flatConfig())

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup

	// Frame loop
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			default:
				s.Frame(frameDT)
				time.Sleep(time.Millisecond)
			}
		}
	}()

	// Keyboard
	wg.Add(1)
	go func() {
		defer wg.Done()
		keys := []string{"w", "a", "s", "d", "space"}
		for i := 0; i < 200; i++ {
			k := keys[i%len(keys)]
			s.KeyDown(k)
			time.Sleep(100 * time.Microsecond)
			s.KeyUp(k)
		}
	}()

	// Resets and visual changes
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 20; i++ {
			s.RequestReset()
			s.SetVisual(PlaceholderVisual())
			time.Sleep(2 * time.Millisecond)
		}
	}()

	// Readers
	for r := 0; r < 3; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var lastFrame uint64
			for i := 0; i < 200; i++ {
				state := s.Snapshot()
				if state.Frame < lastFrame {
					t.Errorf("snapshot went backwards: %d < %d", state.Frame, lastFrame)
					return
				}
				lastFrame = state.Frame
				_ = s.Status()
				_ = s.LastFrame()
				time.Sleep(200 * time.Microsecond)
			}
		}()
	}

	time.Sleep(100 * time.Millisecond)
	cancel()
	wg.Wait()

	if s.Snapshot().Frame == 0 {
		t.Error("loop never produced a frame")
	}
}
