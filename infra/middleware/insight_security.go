package middleware

import (
	"strconv"
	"sync"
	"time"

	"insight_server/pkg/apperr"

	"github.com/gofiber/fiber/v2"
)

// SecurityHeaders adds security headers to all responses
func SecurityHeaders() fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("X-Frame-Options", "DENY")
		c.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		c.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		return c.Next()
	}
}

// RateLimiter is a fixed-window per-IP limiter. Every analysed request can
// fan out into several model calls, so the API group sits behind it.
type RateLimiter struct {
	mu        sync.Mutex
	requests  map[string]*requestInfo
	limit     int
	window    time.Duration
	lastSweep time.Time
	now       func() time.Time
}

type requestInfo struct {
	count     int
	expiresAt time.Time
}

func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		requests: make(map[string]*requestInfo),
		limit:    limit,
		window:   window,
		now:      time.Now,
	}
}

// sweep drops expired windows at most once per window. Caller holds mu.
func (rl *RateLimiter) sweep(now time.Time) {
	if now.Sub(rl.lastSweep) < rl.window {
		return
	}
	for key, info := range rl.requests {
		if now.After(info.expiresAt) {
			delete(rl.requests, key)
		}
	}
	rl.lastSweep = now
}

func (rl *RateLimiter) Handler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if c.Method() == fiber.MethodOptions {
			return c.Next()
		}
		key := c.IP()

		rl.mu.Lock()
		now := rl.now()
		rl.sweep(now)

		info, exists := rl.requests[key]
		if !exists || now.After(info.expiresAt) {
			info = &requestInfo{expiresAt: now.Add(rl.window)}
			rl.requests[key] = info
		}

		if info.count >= rl.limit {
			resetAt := info.expiresAt
			rl.mu.Unlock()
			setRateLimitHeaders(c, rl.limit, 0, resetAt)

			retryAfter := int(resetAt.Sub(now).Seconds()) + 1
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(retryAfter))
			return apperr.RateLimited(retryAfter)
		}

		info.count++
		remaining := rl.limit - info.count
		resetAt := info.expiresAt
		rl.mu.Unlock()

		setRateLimitHeaders(c, rl.limit, remaining, resetAt)
		return c.Next()
	}
}

func setRateLimitHeaders(c *fiber.Ctx, limit, remaining int, resetAt time.Time) {
	c.Set("X-RateLimit-Limit", strconv.Itoa(limit))
	c.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	c.Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))
}

// LatencyRecorder collects durations by name.
type LatencyRecorder interface {
	Record(name string, d time.Duration)
}

// RouteLatency records handler time under "METHOD /route/pattern".
func RouteLatency(rec LatencyRecorder) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		rec.Record(c.Method()+" "+c.Route().Path, time.Since(start))
		return err
	}
}
