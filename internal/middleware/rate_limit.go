package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"vidmatch/internal/config"
	"vidmatch/internal/utils"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RateLimiter keeps one token bucket per client
type RateLimiter struct {
	visitors map[string]*visitor
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	idleTTL  time.Duration
	now      func() time.Time
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewRateLimiter(rps float64, burst int, idleTTL time.Duration) *RateLimiter {
	return &RateLimiter{
		visitors: make(map[string]*visitor),
		limit:    rate.Limit(rps),
		burst:    burst,
		idleTTL:  idleTTL,
		now:      time.Now,
	}
}

// Allow reports whether key may make another request now
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	v, exists := rl.visitors[key]
	if !exists {
		v = &visitor{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.visitors[key] = v
	}
	v.lastSeen = now

	return v.limiter.AllowN(now, 1)
}

// Cleanup drops visitors idle for longer than the idle TTL
func (rl *RateLimiter) Cleanup() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	removed := 0
	now := rl.now()
	for key, v := range rl.visitors {
		if now.Sub(v.lastSeen) > rl.idleTTL {
			delete(rl.visitors, key)
			removed++
		}
	}
	return removed
}

// Run sweeps idle visitors until stop is closed. Without a positive idle
// TTL there is nothing to sweep on and it returns at once.
func (rl *RateLimiter) Run(stop <-chan struct{}) {
	if rl.idleTTL <= 0 {
		return
	}
	ticker := time.NewTicker(rl.idleTTL)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.Cleanup()
		case <-stop:
			return
		}
	}
}

// RateLimit middleware for the API endpoints
func RateLimit(rl *RateLimiter) gin.HandlerFunc {
	limit := strconv.Itoa(rl.burst)

	return func(c *gin.Context) {
		key := getClientKey(c)

		if !rl.Allow(key) {
			c.Header("X-RateLimit-Limit", limit)
			c.Header("X-RateLimit-Remaining", "0")
			c.Header("Retry-After", "1")

			utils.ErrorResponse(c, http.StatusTooManyRequests, "Rate limit exceeded")
			c.Abort()
			return
		}

		c.Header("X-RateLimit-Limit", limit)
		c.Next()
	}
}

// RateLimitFromConfig returns a no-op handler when limiting is disabled
func RateLimitFromConfig(cfg config.RateLimitConfig, stop <-chan struct{}) gin.HandlerFunc {
	if !cfg.Enabled {
		return func(c *gin.Context) { c.Next() }
	}

	rl := NewRateLimiter(cfg.RequestsPerSecond, cfg.Burst, cfg.IdleTTL)
	go rl.Run(stop)
	return RateLimit(rl)
}

// getClientKey identifies the caller, preferring proxy headers
func getClientKey(c *gin.Context) string {
	ip := c.ClientIP()

	if forwardedFor := c.GetHeader("X-Forwarded-For"); forwardedFor != "" {
		ips := strings.Split(forwardedFor, ",")
		if len(ips) > 0 {
			ip = strings.TrimSpace(ips[0])
		}
	} else if realIP := c.GetHeader("X-Real-IP"); realIP != "" {
		ip = realIP
	}

	return "ip:" + ip
}
