package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

const rateLimitPrefix = "chatapp:ratelimit"

// RateLimit allows each client IP at most requests calls per window on the
// routes it wraps, counted in redis so the limit holds across instances.
// A nil client disables limiting. Redis failures let the request through.
func RateLimit(client *redis.Client, requests int, window time.Duration) gin.HandlerFunc {
	if client == nil || requests <= 0 || window <= 0 {
		return func(c *gin.Context) { c.Next() }
	}

	return func(c *gin.Context) {
		windowStart := time.Now().Truncate(window).Unix()
		key := fmt.Sprintf("%s:%s:%s:%d", rateLimitPrefix, c.FullPath(), c.ClientIP(), windowStart)

		ctx := c.Request.Context()
		pipe := client.TxPipeline()
		incr := pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, window)
		if _, err := pipe.Exec(ctx); err != nil {
			log.Warn("Rate limiter unavailable, allowing request: %v", err)
			c.Next()
			return
		}

		count := incr.Val()
		remaining := int64(requests) - count
		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(requests))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))

		if count > int64(requests) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Too many requests"})
			return
		}
		c.Next()
	}
}
