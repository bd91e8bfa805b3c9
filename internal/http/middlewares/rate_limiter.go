package middlewares

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/geocoder89/feedbackhub/internal/ratelimit"
	"github.com/gin-gonic/gin"
)

// Per-client limits inside one window, by route group.
const (
	LoginLimit     = 10
	RegisterLimit  = 5
	BootstrapLimit = 3
	DefaultLimit   = 100
)

type RateLimiter struct {
	store     ratelimit.Store
	window    time.Duration
	now       func() time.Time
	log       *slog.Logger
	onLimited func(group string)
}

func NewRateLimiter(store ratelimit.Store, window time.Duration, log *slog.Logger) *RateLimiter {
	if window <= 0 {
		window = time.Minute
	}
	if log == nil {
		log = slog.Default()
	}

	return &RateLimiter{
		store:  store,
		window: window,
		now:    time.Now,
		log:    log,
	}
}

// OnLimited registers a callback for rejected requests (metrics).
func (rl *RateLimiter) OnLimited(fn func(group string)) {
	rl.onLimited = fn
}

// Limit enforces limit hits per window for the key derived by keyFn within group.
// Store failures let the request through.
func (rl *RateLimiter) Limit(group string, limit int, keyFn func(*gin.Context) string) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := keyFn(c)

		if key == "" {
			// fallback to IP if key cannot be derived
			key = clientIP(c)
		}

		d, err := rl.store.Hit(c.Request.Context(), group+":"+key, limit, rl.window, rl.now())
		if err != nil {
			rl.log.WarnContext(c.Request.Context(), "rate limiter unavailable, allowing request", "group", group, "err", err)
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(d.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))

		if !d.Allowed {
			if rl.onLimited != nil {
				rl.onLimited(group)
			}

			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(d.RetryAfter.Seconds()))))
			abortWithError(c, http.StatusTooManyRequests, "rate_limited", "Too many requests. Please try again shortly.")
			return
		}

		c.Next()
	}
}

// for unauthenticated endpoints: rate limit by IP
func KeyByIP(c *gin.Context) string {
	return clientIP(c)
}

// For authenticated endpoints: rate limit by account id if available
func KeyByAccountOrIP(c *gin.Context) string {
	if id, ok := AccountIDFromContext(c); ok {
		return "account:" + id
	}

	return clientIP(c)
}

func clientIP(c *gin.Context) string {
	// Gin's ClientIP respects X-Forwarded-For / X-Real-IP if configured.
	ip := c.ClientIP()

	host, _, err := net.SplitHostPort(ip)
	if err == nil && host != "" {
		return host
	}

	return ip
}
