package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"m-taji/platform/internal/platform/reqctx"
)

// Logger logs one line per request with route, status and latency. skipRoutes (route
// templates such as /health) are not logged.
func Logger(log zerolog.Logger, skipRoutes ...string) gin.HandlerFunc {
	skip := make(map[string]bool, len(skipRoutes))
	for _, r := range skipRoutes {
		skip[r] = true
	}
	log = log.With().Str("component", "http").Logger()
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if skip[route] {
			return
		}
		status := c.Writer.Status()
		ev := log.Info()
		switch {
		case status >= 500:
			ev = log.Error()
		case status >= 400:
			ev = log.Warn()
		}
		userID, _ := reqctx.UserID(c.Request.Context())
		ev.Str("method", c.Request.Method).
			Str("route", route).
			Int("status", status).
			Int64("duration_ms", time.Since(start).Milliseconds()).
			Str("client_ip", c.ClientIP()).
			Str("user_id", userID).
			Msg("request")
	}
}
