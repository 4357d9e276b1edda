package interceptors

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/gin-gonic/gin"
	"github.com/go-kit/log/level"
	"github.com/go-redis/redis_rate/v10"
	"github.com/mailio/go-mailio-datawallet/global"
)

const (
	LimitRequestsPerSecond        = 5
	LimitAuthorizationPerMinute   = 10
	authorizationPathPrefix       = "/api/v1/authorization/"
	authorizationRateLimitKeyPart = "_authorization"
)

type rateLimitError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// RateLimitMiddleware limits requests per client (ip, user agent and language).
// Consent endpoints get a tighter per minute limit.
func RateLimitMiddleware(limiter *redis_rate.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := clientIP(c)
		if ip == "" {
			ip = "unknown"
		}
		userAgent := c.GetHeader("User-Agent")
		acceptLanguage := c.GetHeader("Accept-Language")
		all := ip + userAgent + acceptLanguage

		limit := redis_rate.PerSecond(LimitRequestsPerSecond)
		if strings.HasPrefix(c.Request.URL.Path, authorizationPathPrefix) {
			limit = redis_rate.PerMinute(LimitAuthorizationPerMinute)
			all = all + authorizationRateLimitKeyPart
		}

		hash := xxhash.Sum64String(all)

		ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
		defer cancel()

		result, err := limiter.Allow(ctx, strconv.FormatUint(hash, 10), limit)
		if err != nil {
			level.Error(global.Logger).Log("msg", "rate limit check failed", "error", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, rateLimitError{Code: http.StatusInternalServerError, Message: "failed to perform rate limit check"})
			return
		}
		c.Writer.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit.Rate))
		c.Writer.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
		c.Writer.Header().Set("X-RateLimit-Reset", strconv.Itoa(int(result.ResetAfter.Milliseconds())))
		if result.Allowed <= 0 {
			c.Writer.Header().Set("Retry-After", strconv.Itoa(int(result.RetryAfter.Seconds())+1))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, rateLimitError{Code: http.StatusTooManyRequests, Message: "too many requests"})
			return
		}
		c.Next()
	}
}
