package cache

import (
	"sync"
	"time"
)

const defaultMinInterval = 500 * time.Millisecond

// RateLimiter throttles per-key broadcasts: a key may pass at most once
// per minimum interval. Keys are never expired; the working set is
// bounded by the number of devices.
type RateLimiter struct {
	mu          sync.Mutex
	lastPass    map[string]time.Time
	minInterval time.Duration

	now func() time.Time
}

// NewRateLimiter creates a limiter with the given minimum interval
// between passes for the same key. Non-positive falls back to 500ms.
func NewRateLimiter(minInterval time.Duration) *RateLimiter {
	if minInterval <= 0 {
		minInterval = defaultMinInterval
	}
	return &RateLimiter{
		lastPass:    make(map[string]time.Time),
		minInterval: minInterval,
		now:         time.Now,
	}
}

// ShouldBroadcast reports whether enough time has passed since the last
// allowed broadcast for key. A true return stamps the key with the
// current time; a false return leaves state untouched.
func (r *RateLimiter) ShouldBroadcast(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if last, ok := r.lastPass[key]; ok && now.Sub(last) < r.minInterval {
		return false
	}
	r.lastPass[key] = now
	return true
}

// ForceStamp records a broadcast for key without consulting the interval.
func (r *RateLimiter) ForceStamp(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastPass[key] = r.now()
}

// Len returns the number of tracked keys.
func (r *RateLimiter) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.lastPass)
}

// Clear drops all rate-limit state.
func (r *RateLimiter) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastPass = make(map[string]time.Time)
}
