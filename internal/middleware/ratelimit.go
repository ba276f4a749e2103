package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"
)

// Limit allows Requests per Window for one key.
type Limit struct {
	Requests int
	Window   time.Duration
}

type window struct {
	count int
	ends  time.Time
}

// RateLimiter counts requests per key in fixed windows. It guards the
// endpoints that call Google on the user's behalf.
type RateLimiter struct {
	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time
}

func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		windows: make(map[string]*window),
		now:     time.Now,
	}
}

func (rl *RateLimiter) Allow(key string, l Limit) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	w, ok := rl.windows[key]
	if !ok || !now.Before(w.ends) {
		rl.windows[key] = &window{count: 1, ends: now.Add(l.Window)}
		return true
	}
	w.count++
	return w.count <= l.Requests
}

// Prune drops windows that have ended.
func (rl *RateLimiter) Prune() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for key, w := range rl.windows {
		if !now.Before(w.ends) {
			delete(rl.windows, key)
		}
	}
}

// RateLimit throttles per client IP and route pattern.
func RateLimit(rl *RateLimiter, l Limit) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := RealIP(r) + " " + r.Method + " " + r.URL.Path
			if !rl.Allow(key, l) {
				w.Header().Set("Retry-After", retryAfter(l.Window))
				http.Error(w, "too many requests", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func retryAfter(d time.Duration) string {
	secs := int(d / time.Second)
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}
