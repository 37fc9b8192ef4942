package middleware

import (
	"fingergun/monitor"
	"fingergun/ratelimit"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RateLimit limits requests per client IP under the given scope. A limiter
// error lets the request through; the redis limiter already falls back to
// process memory before returning one.
func RateLimit(limiter ratelimit.Limiter, scope string, mon *monitor.Monitor, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		d, err := limiter.Allow(c.Request.Context(), c.ClientIP())
		if err != nil {
			log.Error("rate limiter failed", zap.String("scope", scope), zap.Error(err))
			c.Next()
			return
		}
		if !d.Allowed {
			mon.IncRateLimited(scope)
			AbortRateLimited(c, d.RetryAfter)
			return
		}
		c.Next()
	}
}
