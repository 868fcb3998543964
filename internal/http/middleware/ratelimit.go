package middleware

import (
	"net/http"
	"sync"
	"time"
)

// KeyFunc derives the rate-limit bucket key for a request. The webhook uses
// the sender's phone number so one chatty user cannot starve the rest; the
// default falls back to the client IP.
type KeyFunc func(r *http.Request) string

func keyByIP(r *http.Request) string {
	if xri := r.Header.Get("X-Real-Ip"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}

// KeyByFormValue keys buckets on a form field, e.g. Twilio's "From".
func KeyByFormValue(field string) KeyFunc {
	return func(r *http.Request) string {
		if v := r.FormValue(field); v != "" {
			return v
		}
		return keyByIP(r)
	}
}

// RateLimiter is a token-bucket limiter with per-key buckets.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	rate    float64 // tokens per second
	burst   int
}

type bucket struct {
	tokens   float64
	lastTime time.Time
}

func NewRateLimiter(rate float64, burst int) *RateLimiter {
	rl := &RateLimiter{
		buckets: make(map[string]*bucket),
		rate:    rate,
		burst:   burst,
	}
	go rl.cleanup()
	return rl
}

// Allow reports whether a request under key is within the limit.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{tokens: float64(rl.burst), lastTime: now}
		rl.buckets[key] = b
	}

	elapsed := now.Sub(b.lastTime).Seconds()
	b.tokens += elapsed * rl.rate
	if b.tokens > float64(rl.burst) {
		b.tokens = float64(rl.burst)
	}
	b.lastTime = now

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// Evict buckets idle past the window so memory stays bounded.
func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		rl.mu.Lock()
		cutoff := time.Now().Add(-10 * time.Minute)
		for key, b := range rl.buckets {
			if b.lastTime.Before(cutoff) {
				delete(rl.buckets, key)
			}
		}
		rl.mu.Unlock()
	}
}

// RateLimit rejects requests over the limit with 429. A nil keyFn limits
// per client IP.
func RateLimit(rate float64, burst int, keyFn KeyFunc) func(http.Handler) http.Handler {
	if keyFn == nil {
		keyFn = keyByIP
	}
	limiter := NewRateLimiter(rate, burst)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow(keyFn(r)) {
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
