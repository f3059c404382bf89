package middlewares

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// Logger returns a request logging middleware using zerolog.
func Logger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		ev := logger.Info()
		if c.Writer.Status() >= 500 {
			ev = logger.Error()
		}
		if ident, ok := CurrentUser(c); ok {
			ev = ev.Str("user", ident.UserID)
		}
		ev.Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Str("remote_addr", c.ClientIP()).
			Msg("request completed")
	}
}
