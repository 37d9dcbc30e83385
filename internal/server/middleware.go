package server

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
)

// requestLogger logs one line per request. Claim polling from idle workers is
// the bulk of traffic, so empty-queue 404s on /task are logged at debug.
func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		attrs := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"duration", time.Since(start).Round(time.Microsecond).String(),
		}
		switch {
		case status >= 500:
			logger.Error("request failed", attrs...)
		case c.Request.URL.Path == "/task" && status == 404:
			logger.Debug("request", attrs...)
		default:
			logger.Info("request", attrs...)
		}
	}
}
