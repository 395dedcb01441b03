package logger

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const headerRequestID = "X-Request-ID"

// GinMiddleware tags each request with an id and logs it once it completes.
// The authenticated user id is included when the auth middleware has set one.
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		reqID := c.GetHeader(headerRequestID)
		if reqID == "" {
			reqID = uuid.New().String()
		}
		c.Header(headerRequestID, reqID)

		c.Next()

		lg := Base()
		evt := lg.Info()
		if c.Writer.Status() >= 500 {
			evt = lg.Error()
		}
		evt = evt.
			Str("request_id", reqID).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Str("client_ip", c.ClientIP()).
			Int("status", c.Writer.Status()).
			Int64("latency_ms", time.Since(start).Milliseconds())

		if userID, ok := c.Get("userID"); ok {
			if id, ok := userID.(uuid.UUID); ok {
				evt = evt.Str("user_id", id.String())
			}
		}

		evt.Msg("request completed")
	}
}
