package httpx

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	CodeRateLimited    = "RATE_LIMITED"
	maxTrackedVisitors = 10000
)

// RateLimiter is an in-process fixed-window limiter keyed by client address.
type RateLimiter struct {
	limit    int
	window   time.Duration
	now      func() time.Time
	mu       sync.Mutex
	visitors map[string]*visitor
}

type visitor struct {
	count     int
	resetTime time.Time
}

func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = 60
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{
		limit:    limit,
		window:   window,
		now:      time.Now,
		visitors: map[string]*visitor{},
	}
}

func (rl *RateLimiter) Middleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			count := rl.hit(clientKey(r))
			if !admit(w, count, rl.limit, rl.window) {
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// hit records a request and returns the count in the current window.
func (rl *RateLimiter) hit(key string) int64 {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if len(rl.visitors) > maxTrackedVisitors {
		for k, v := range rl.visitors {
			if now.After(v.resetTime) {
				delete(rl.visitors, k)
			}
		}
	}
	v := rl.visitors[key]
	if v == nil || now.After(v.resetTime) {
		v = &visitor{resetTime: now.Add(rl.window)}
		rl.visitors[key] = v
	}
	v.count++
	return int64(v.count)
}

// admit sets the rate limit headers and writes 429 once count exceeds limit.
func admit(w http.ResponseWriter, count int64, limit int, window time.Duration) bool {
	remaining := int64(limit) - count
	if remaining < 0 {
		remaining = 0
	}
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
	if count <= int64(limit) {
		return true
	}
	w.Header().Set("Retry-After", strconv.Itoa(int(window.Seconds())))
	WriteError(w, http.StatusTooManyRequests, CodeRateLimited, "rate limit exceeded")
	return false
}

func clientKey(r *http.Request) string {
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		first, _, _ := strings.Cut(ip, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		return host
	}
	return r.RemoteAddr
}
