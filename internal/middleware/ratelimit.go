package middleware

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RateLimiter counts attempts per key over a fixed window. It is in-memory
// and per-process, which is enough for a single-instance deployment.
type RateLimiter struct {
	max    int
	window time.Duration
	logger *slog.Logger

	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	count   int
	started time.Time
}

func NewRateLimiter(maxAttempts int, window time.Duration, logger *slog.Logger) *RateLimiter {
	rl := &RateLimiter{
		max:     maxAttempts,
		window:  window,
		logger:  logger,
		buckets: make(map[string]*bucket),
	}
	go rl.evictLoop()
	return rl
}

// bump returns the bucket for key, resetting it when its window has lapsed.
// Caller must hold mu.
func (rl *RateLimiter) bump(key string, now time.Time) *bucket {
	b, ok := rl.buckets[key]
	if !ok || now.Sub(b.started) > rl.window {
		b = &bucket{started: now}
		rl.buckets[key] = b
	}
	b.count++
	return b
}

// Allow records an attempt and reports whether key is still under the limit.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.bump(key, time.Now()).count <= rl.max
}

// RecordFailure counts an attempt without an allow decision. Failed logins
// count against the limit even when the request itself was let through.
func (rl *RateLimiter) RecordFailure(key string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.bump(key, time.Now())
}

// Reset forgets key, used after a successful login.
func (rl *RateLimiter) Reset(key string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.buckets, key)
}

// TimeUntilReset reports how long key remains limited.
func (rl *RateLimiter) TimeUntilReset(key string) time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.buckets[key]
	if !ok {
		return 0
	}
	remaining := rl.window - time.Since(b.started)
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (rl *RateLimiter) evictLoop() {
	ticker := time.NewTicker(rl.window)
	defer ticker.Stop()

	for range ticker.C {
		now := time.Now()
		rl.mu.Lock()
		for key, b := range rl.buckets {
			if now.Sub(b.started) > rl.window {
				delete(rl.buckets, key)
			}
		}
		rl.mu.Unlock()
	}
}

// RateLimitMiddleware applies a RateLimiter keyed by client IP.
type RateLimitMiddleware struct {
	limiter *RateLimiter
	logger  *slog.Logger
}

func NewRateLimitMiddleware(limiter *RateLimiter, logger *slog.Logger) *RateLimitMiddleware {
	return &RateLimitMiddleware{limiter: limiter, logger: logger}
}

func (m *RateLimitMiddleware) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := getClientIP(r)
		if m.limiter.Allow(ip) {
			next.ServeHTTP(w, r)
			return
		}

		m.logger.Warn("rate limit exceeded", "ip", ip, "method", r.Method, "path", r.URL.Path)

		retryAfter := int(m.limiter.TimeUntilReset(ip).Seconds())
		if retryAfter < 1 {
			retryAfter = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"error":   "rate_limit_exceeded",
			"message": "Too many requests. Please try again later.",
		})
	})
}

// AuthRateLimiter groups the per-endpoint limiters for the auth surface:
// 5 login attempts per 15 minutes, 3 registrations per hour, 3 verification
// resends per hour, all keyed by client IP.
type AuthRateLimiter struct {
	login    *RateLimitMiddleware
	register *RateLimitMiddleware
	resend   *RateLimitMiddleware
}

func NewAuthRateLimiter(logger *slog.Logger) *AuthRateLimiter {
	return &AuthRateLimiter{
		login:    NewRateLimitMiddleware(NewRateLimiter(5, 15*time.Minute, logger), logger),
		register: NewRateLimitMiddleware(NewRateLimiter(3, time.Hour, logger), logger),
		resend:   NewRateLimitMiddleware(NewRateLimiter(3, time.Hour, logger), logger),
	}
}

func (a *AuthRateLimiter) LimitLogin(next http.Handler) http.Handler {
	return a.login.Limit(next)
}

func (a *AuthRateLimiter) LimitRegister(next http.Handler) http.Handler {
	return a.register.Limit(next)
}

func (a *AuthRateLimiter) LimitResendVerification(next http.Handler) http.Handler {
	return a.resend.Limit(next)
}

// RecordFailedLogin counts a bad credential attempt against ip.
func (a *AuthRateLimiter) RecordFailedLogin(ip string) {
	a.login.limiter.RecordFailure(ip)
}

// ResetLogin clears the login counter for ip after a successful login.
func (a *AuthRateLimiter) ResetLogin(ip string) {
	a.login.limiter.Reset(ip)
}

// GetClientIP extracts the client IP from proxy headers or the remote
// address. Exported for handlers that feed the auth rate limiter.
func GetClientIP(r *http.Request) string {
	return getClientIP(r)
}

func getClientIP(r *http.Request) string {
	// X-Forwarded-For lists client then each proxy; take the first entry.
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
