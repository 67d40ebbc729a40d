package middlewares

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

const maxTrackedClients = 10000

// RateLimiter is a fixed-window counter per key. One instance guards one route group.
type RateLimiter struct {
	mu      sync.Mutex
	window  time.Duration
	limit   int
	now     func() time.Time
	buckets map[string]*bucket
}

type bucket struct {
	used    int
	resetAt time.Time
}

func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		limit:   limit,
		window:  window,
		now:     time.Now,
		buckets: make(map[string]*bucket),
	}
}

// take spends one request for key. It reports what is left in the window and when the
// window resets; ok is false once the window is spent.
func (rl *RateLimiter) take(key string) (remaining int, resetAt time.Time, ok bool) {
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if len(rl.buckets) >= maxTrackedClients {
		for k, b := range rl.buckets {
			if !now.Before(b.resetAt) {
				delete(rl.buckets, k)
			}
		}
	}

	b, found := rl.buckets[key]
	if !found || !now.Before(b.resetAt) {
		b = &bucket{resetAt: now.Add(rl.window)}
		rl.buckets[key] = b
	}

	if b.used >= rl.limit {
		return 0, b.resetAt, false
	}
	b.used++
	return rl.limit - b.used, b.resetAt, true
}

// Limit enforces the limit per keyFn(c), falling back to the client address.
func (rl *RateLimiter) Limit(keyFn func(*gin.Context) string) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := keyFn(c)
		if key == "" {
			key = clientIP(c)
		}

		remaining, resetAt, ok := rl.take(key)
		c.Header("X-RateLimit-Limit", strconv.Itoa(rl.limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))

		if !ok {
			retryAfter := int(resetAt.Sub(rl.now()).Round(time.Second).Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": gin.H{
					"code":      "rate_limited",
					"message":   "Too many requests. Please try again shortly.",
					"requestId": c.GetString(CtxRequestID),
				},
			})
			return
		}

		c.Next()
	}
}

// KeyByLoginAttempt buckets login attempts per client address.
func KeyByLoginAttempt(c *gin.Context) string {
	return "login:" + clientIP(c)
}

// KeyBySubjectOrIP buckets authenticated calls per admin subject.
func KeyBySubjectOrIP(c *gin.Context) string {
	if subject, ok := SubjectFromContext(c); ok && subject != "" {
		return "admin:" + subject
	}
	return clientIP(c)
}

func clientIP(c *gin.Context) string {
	ip := c.ClientIP()
	if host, _, err := net.SplitHostPort(ip); err == nil && host != "" {
		return host
	}
	return ip
}
