package middlewares

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"

	"github.com/geocoder89/userhub/internal/ratelimit"
	"github.com/gin-gonic/gin"
)

type RateLimitHook func(route string)

// RateLimit enforces limiter per derived key. When the limiter itself fails
// (redis down) the request goes through and the failure is logged.
func RateLimit(limiter ratelimit.Limiter, keyFn func(*gin.Context) string, onLimited RateLimitHook, log *slog.Logger) gin.HandlerFunc {
	if log == nil {
		log = slog.Default()
	}

	return func(c *gin.Context) {
		key := keyFn(c)
		if key == "" {
			key = KeyByIP(c)
		}
		key = c.FullPath() + "|" + key

		d, err := limiter.Allow(c.Request.Context(), key)
		if err != nil {
			log.WarnContext(c.Request.Context(), "rate limiter unavailable", slog.Any("error", err))
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(d.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))

		if !d.Allowed {
			if onLimited != nil {
				onLimited(c.FullPath())
			}
			secs := max(0, int(math.Ceil(d.RetryAfter.Seconds())))
			c.Header("Retry-After", strconv.Itoa(secs))
			abortError(c, http.StatusTooManyRequests, "rate_limited", "Too many requests. Please try again shortly.")
			return
		}

		c.Next()
	}
}

// KeyByIP buckets anonymous traffic (login, register, refresh) per client
// address as resolved by gin's trusted-proxy settings.
func KeyByIP(c *gin.Context) string {
	ip := c.ClientIP()
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}
	return "ip:" + ip
}

// KeyByUserOrIP prefers the authenticated principal.
func KeyByUserOrIP(c *gin.Context) string {
	if id, ok := UserIDFromContext(c); ok {
		return "user:" + id
	}
	return KeyByIP(c)
}
