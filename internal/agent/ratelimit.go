package agent

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter implements a per-user token bucket. The key is the user id
// only, so rotating tab sessions does not bypass throttling.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[int64]*limiterEntry
	limit   rate.Limit
	burst   int
	window  time.Duration
	done    chan struct{}
	once    sync.Once
}

// NewRateLimiter allows limit requests per window per user and starts the
// background eviction goroutine.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = 10
	}
	if window <= 0 {
		window = time.Minute
	}
	rl := &RateLimiter{
		buckets: make(map[int64]*limiterEntry),
		limit:   rate.Every(window / time.Duration(limit)),
		burst:   limit,
		window:  window,
		done:    make(chan struct{}),
	}
	go rl.evictLoop()
	return rl
}

// Allow reports whether userID may send another request now.
func (r *RateLimiter) Allow(userID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.buckets[userID]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(r.limit, r.burst)}
		r.buckets[userID] = e
	}
	e.lastSeen = time.Now()
	return e.limiter.Allow()
}

// Stop ends the eviction goroutine.
func (r *RateLimiter) Stop() {
	r.once.Do(func() { close(r.done) })
}

// evictLoop drops buckets idle for longer than a window.
func (r *RateLimiter) evictLoop() {
	ticker := time.NewTicker(r.window)
	defer ticker.Stop()
	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
			r.evict(time.Now())
		}
	}
}

func (r *RateLimiter) evict(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := now.Add(-r.window)
	for key, e := range r.buckets {
		if e.lastSeen.Before(cutoff) {
			delete(r.buckets, key)
		}
	}
}
