package validation

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter keeps one token bucket per client: perSecond tokens a second
// up to burst. Clients idle for twice the time it takes to refill a full
// bucket are forgotten.
type RateLimiter struct {
	limit       rate.Limit
	burst       int
	idle        time.Duration
	clients     map[string]*clientLimiter
	mu          sync.RWMutex
	now         func() time.Time
	cleanupTick *time.Ticker
	done        chan struct{}
	closeOnce   sync.Once
}

type clientLimiter struct {
	limiter  *rate.Limiter
	mu       sync.Mutex
	lastSeen time.Time
}

// NewRateLimiter creates a rate limiter and starts its cleanup goroutine.
func NewRateLimiter(perSecond float64, burst int) *RateLimiter {
	return newRateLimiter(perSecond, burst, time.Now)
}

func newRateLimiter(perSecond float64, burst int, now func() time.Time) *RateLimiter {
	if !(perSecond > 0) {
		perSecond = 1
	}
	if burst < 1 {
		burst = 1
	}
	idle := 2 * time.Duration(float64(burst)/perSecond*float64(time.Second))
	if idle < time.Second {
		idle = time.Second
	}
	rl := &RateLimiter{
		limit:   rate.Limit(perSecond),
		burst:   burst,
		idle:    idle,
		clients: make(map[string]*clientLimiter),
		now:     now,
		done:    make(chan struct{}),
	}

	rl.cleanupTick = time.NewTicker(idle)
	go rl.cleanup()

	return rl
}

// Allow consumes a token for clientID and reports whether one was available.
func (rl *RateLimiter) Allow(clientID string) bool {
	rl.mu.RLock()
	cl, exists := rl.clients[clientID]
	rl.mu.RUnlock()

	if !exists {
		rl.mu.Lock()
		if cl, exists = rl.clients[clientID]; !exists {
			cl = &clientLimiter{limiter: rate.NewLimiter(rl.limit, rl.burst)}
			rl.clients[clientID] = cl
		}
		rl.mu.Unlock()
	}

	now := rl.now()
	cl.mu.Lock()
	cl.lastSeen = now
	cl.mu.Unlock()
	return cl.limiter.AllowN(now, 1)
}

// Remove forgets a client.
func (rl *RateLimiter) Remove(clientID string) {
	rl.mu.Lock()
	delete(rl.clients, clientID)
	rl.mu.Unlock()
}

// Len returns the number of tracked clients.
func (rl *RateLimiter) Len() int {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return len(rl.clients)
}

func (rl *RateLimiter) cleanup() {
	for {
		select {
		case <-rl.cleanupTick.C:
			rl.removeInactiveClients()
		case <-rl.done:
			return
		}
	}
}

func (rl *RateLimiter) removeInactiveClients() {
	cutoff := rl.now().Add(-rl.idle)

	rl.mu.Lock()
	for clientID, cl := range rl.clients {
		cl.mu.Lock()
		if cl.lastSeen.Before(cutoff) {
			delete(rl.clients, clientID)
		}
		cl.mu.Unlock()
	}
	rl.mu.Unlock()
}

// Close stops the cleanup goroutine. It is safe to call more than once.
func (rl *RateLimiter) Close() {
	rl.closeOnce.Do(func() {
		close(rl.done)
		rl.cleanupTick.Stop()
	})
}
