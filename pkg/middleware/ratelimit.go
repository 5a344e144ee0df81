package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/wyfcoding/proposalengine/pkg/config"
	"github.com/wyfcoding/proposalengine/pkg/ratelimit"
)

// RateLimitMiddleware 按客户端 IP 限流
func RateLimitMiddleware(limiter ratelimit.RateLimiter, cfg config.RateLimitConfig) gin.HandlerFunc {
	limit := ratelimit.Limit{Rate: cfg.QPS, Period: time.Second, Burst: cfg.Burst}
	return func(c *gin.Context) {
		if !cfg.Enabled {
			c.Next()
			return
		}

		res, err := limiter.Allow(c.Request.Context(), "ratelimit:"+c.ClientIP(), limit)
		if err != nil {
			// 限流器故障时放行
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(limit.Burst))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		if !res.Allowed {
			c.Header("Retry-After", strconv.FormatInt(int64(res.RetryAfter/time.Second)+1, 10))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "Too Many Requests",
				"retry_after": res.RetryAfter.String(),
			})
			return
		}
		c.Next()
	}
}
