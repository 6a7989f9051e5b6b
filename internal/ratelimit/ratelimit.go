// Package ratelimit keeps one token bucket per client.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type clientEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// ClientLimiter rate-limits requests per client key, typically the remote
// IP. A non-positive rate disables limiting.
type ClientLimiter struct {
	rate    rate.Limit
	burst   int
	clients map[string]*clientEntry
	now     func() time.Time
	mu      sync.Mutex
}

// NewClientLimiter allows perSecond requests per client with the given
// burst.
func NewClientLimiter(perSecond float64, burst int) *ClientLimiter {
	if burst < 1 {
		burst = 1
	}
	return &ClientLimiter{
		rate:    rate.Limit(perSecond),
		burst:   burst,
		clients: make(map[string]*clientEntry),
		now:     time.Now,
	}
}

// Enabled reports whether any limit applies.
func (cl *ClientLimiter) Enabled() bool {
	return cl.rate > 0
}

// Allow reports whether the client may proceed now and consumes a token
// when it may.
func (cl *ClientLimiter) Allow(key string) bool {
	if !cl.Enabled() {
		return true
	}

	cl.mu.Lock()
	now := cl.now()
	entry, ok := cl.clients[key]
	if !ok {
		entry = &clientEntry{limiter: rate.NewLimiter(cl.rate, cl.burst)}
		cl.clients[key] = entry
	}
	entry.lastSeen = now
	limiter := entry.limiter
	cl.mu.Unlock()

	return limiter.AllowN(now, 1)
}

// RetryAfter is how long a throttled client should wait for one token.
func (cl *ClientLimiter) RetryAfter() time.Duration {
	if !cl.Enabled() {
		return 0
	}
	d := time.Duration(float64(time.Second) / float64(cl.rate))
	if d < time.Second {
		return time.Second
	}
	return d
}

// Cleanup forgets clients idle for longer than maxIdle and returns how many
// were removed.
func (cl *ClientLimiter) Cleanup(maxIdle time.Duration) int {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	cutoff := cl.now().Add(-maxIdle)
	removed := 0
	for key, entry := range cl.clients {
		if entry.lastSeen.Before(cutoff) {
			delete(cl.clients, key)
			removed++
		}
	}
	return removed
}

// Clients returns the number of tracked clients.
func (cl *ClientLimiter) Clients() int {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return len(cl.clients)
}
