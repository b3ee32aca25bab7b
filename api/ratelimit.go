package api

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/fluxflow/coderunner/metrics"
)

// idleClientTTL is how long an unused per-client bucket is kept
const idleClientTTL = 10 * time.Minute

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter enforces a global request rate, a per-client request rate and
// a cap on concurrently running executions
type RateLimiter struct {
	globalLimiter *rate.Limiter
	clientRate    rate.Limit
	clientBurst   int
	maxConcurrent int

	mu          sync.Mutex
	clients     map[string]*clientLimiter
	current     int
	lastCleanup time.Time
}

// NewRateLimiter creates a RateLimiter. A non-positive maxConcurrent
// disables the concurrency cap.
func NewRateLimiter(globalRPS, perClientRPS float64, perClientBurst, maxConcurrent int) *RateLimiter {
	globalBurst := int(globalRPS) * 2
	if globalBurst < 1 {
		globalBurst = 1
	}
	return &RateLimiter{
		globalLimiter: rate.NewLimiter(rate.Limit(globalRPS), globalBurst),
		clientRate:    rate.Limit(perClientRPS),
		clientBurst:   perClientBurst,
		maxConcurrent: maxConcurrent,
		clients:       make(map[string]*clientLimiter),
		lastCleanup:   time.Now(),
	}
}

// Allow reports whether a request from client may proceed. Every allowed
// request must be paired with a call to Done. A request rejected by its
// client bucket or the concurrency cap does not spend a global token.
func (rl *RateLimiter) Allow(client string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	rl.cleanupLocked(now)

	cl, ok := rl.clients[client]
	if !ok {
		cl = &clientLimiter{limiter: rate.NewLimiter(rl.clientRate, rl.clientBurst)}
		rl.clients[client] = cl
	}
	cl.lastSeen = now

	if rl.maxConcurrent > 0 && rl.current >= rl.maxConcurrent {
		metrics.RateLimitHits.Inc()
		return false
	}

	clientReservation := cl.limiter.ReserveN(now, 1)
	if !clientReservation.OK() || clientReservation.DelayFrom(now) > 0 {
		clientReservation.CancelAt(now)
		metrics.RateLimitHits.Inc()
		return false
	}

	if !rl.globalLimiter.AllowN(now, 1) {
		// The client keeps its token when the global bucket is empty
		clientReservation.CancelAt(now)
		metrics.RateLimitHits.Inc()
		return false
	}
	rl.current++

	return true
}

// Done releases the concurrency slot taken by Allow
func (rl *RateLimiter) Done() {
	rl.mu.Lock()
	if rl.current > 0 {
		rl.current--
	}
	rl.mu.Unlock()
}

// cleanupLocked drops per-client buckets that have been idle for a while
func (rl *RateLimiter) cleanupLocked(now time.Time) {
	if now.Sub(rl.lastCleanup) < idleClientTTL {
		return
	}
	for key, cl := range rl.clients {
		if now.Sub(cl.lastSeen) > idleClientTTL {
			delete(rl.clients, key)
		}
	}
	rl.lastCleanup = now
}
