package server

import (
	"fmt"
	"sync"
	"time"
)

// staleClientAfter is how long an idle client bucket is kept before cleanup.
const staleClientAfter = 10 * time.Minute

// RateLimiter is a per-client token bucket. Each client may burst up to
// Burst requests and then refills at RequestsPerMinute.
type RateLimiter struct {
	mu sync.Mutex

	requestsPerMinute int
	burst             int

	clients     map[string]*clientBucket
	lastCleanup time.Time

	// now is replaced in tests.
	now func() time.Time
}

// clientBucket tracks the tokens left for one client.
type clientBucket struct {
	tokens   float64
	lastSeen time.Time
}

// NewRateLimiter creates a limiter. A non-positive burst defaults to the
// per-minute rate.
func NewRateLimiter(requestsPerMinute, burst int) *RateLimiter {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 60
	}
	if burst <= 0 {
		burst = requestsPerMinute
	}
	return &RateLimiter{
		requestsPerMinute: requestsPerMinute,
		burst:             burst,
		clients:           make(map[string]*clientBucket),
		now:               time.Now,
	}
}

// CheckRateLimit consumes one token for clientID or returns a *RateLimitError
// telling the caller how long to wait.
func (rl *RateLimiter) CheckRateLimit(clientID string) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	rl.cleanupLocked(now)

	b, ok := rl.clients[clientID]
	if !ok {
		b = &clientBucket{tokens: float64(rl.burst), lastSeen: now}
		rl.clients[clientID] = b
	}

	perSecond := float64(rl.requestsPerMinute) / 60
	elapsed := now.Sub(b.lastSeen).Seconds()
	b.tokens = min(float64(rl.burst), b.tokens+elapsed*perSecond)
	b.lastSeen = now

	if b.tokens < 1 {
		wait := time.Duration((1 - b.tokens) / perSecond * float64(time.Second))
		return &RateLimitError{Limit: rl.requestsPerMinute, RetryAfter: max(wait, time.Second)}
	}
	b.tokens--
	return nil
}

// Clients returns the number of tracked clients.
func (rl *RateLimiter) Clients() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}

// cleanupLocked drops buckets that have been idle for staleClientAfter.
func (rl *RateLimiter) cleanupLocked(now time.Time) {
	if now.Sub(rl.lastCleanup) < time.Minute {
		return
	}
	rl.lastCleanup = now
	for id, b := range rl.clients {
		if now.Sub(b.lastSeen) >= staleClientAfter {
			delete(rl.clients, id)
		}
	}
}

// RateLimitError represents a rate limit violation.
type RateLimitError struct {
	Limit      int           // requests per minute
	RetryAfter time.Duration // how long to wait before retrying
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded (limit: %d/min, retry after: %v)", e.Limit, e.RetryAfter.Round(time.Second))
}
