package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// RateLimitStore is the slice of the Redis API the limiter needs.
// *redis.Client satisfies it.
type RateLimitStore interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	TTL(ctx context.Context, key string) *redis.DurationCmd
}

type RateLimiterConfig struct {
	RedisClient RateLimitStore
	Limit       int
	Window      time.Duration
	KeyPrefix   string
	Extractor   func(c *gin.Context) string
}

// NewRateLimiter counts requests per caller in a fixed Redis window. The
// expiry is set only on the first increment: the counter dies with the
// window, so a steady caller below the limit is never throttled. On a Redis
// outage requests pass through: throttling is not worth an outage of its
// own.
func NewRateLimiter(cfg RateLimiterConfig) gin.HandlerFunc {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "rl:"
	}
	if cfg.Extractor == nil {
		cfg.Extractor = clientAddr
	}

	return func(c *gin.Context) {
		ctx := c.Request.Context()
		id := cfg.Extractor(c)
		if id == "" {
			id = "anonymous"
		}
		key := cfg.KeyPrefix + id

		count, err := cfg.RedisClient.Incr(ctx, key).Result()
		if err != nil {
			c.Next()
			return
		}
		if count == 1 {
			cfg.RedisClient.Expire(ctx, key, cfg.Window)
		}

		ttl, _ := cfg.RedisClient.TTL(ctx, key).Result()
		reset := int(ttl.Seconds())
		if reset < 0 {
			reset = 0
		}
		c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", cfg.Limit))
		c.Header("X-RateLimit-Reset", fmt.Sprintf("%d", reset))

		if count > int64(cfg.Limit) {
			c.Header("X-RateLimit-Remaining", "0")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":           "rate limit exceeded",
				"retry_after_sec": reset,
			})
			return
		}

		c.Header("X-RateLimit-Remaining", fmt.Sprintf("%d", cfg.Limit-int(count)))
		c.Next()
	}
}

func clientAddr(c *gin.Context) string {
	if xff := c.Request.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	return c.Request.RemoteAddr
}
