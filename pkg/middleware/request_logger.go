package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// RequestLogger logs every request with a generated request id. The id is
// stored in the context so handlers can correlate their own log lines.
func RequestLogger(lg *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := uuid.NewString()
		c.Set("request_id", requestID)

		c.Next()

		status := c.Writer.Status()
		entry := lg.WithFields(logrus.Fields{
			"request_id":  requestID,
			"http_method": c.Request.Method,
			"uri":         c.Request.URL.RequestURI(),
			"status_code": status,
			"latency_ms":  time.Since(start).Milliseconds(),
			"client_ip":   c.ClientIP(),
		})

		switch {
		case status >= 500:
			entry.Error("request completed with server error")
		case status >= 400:
			entry.Warn("request completed with client error")
		default:
			entry.Info("request completed")
		}
	}
}
