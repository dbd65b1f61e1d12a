package middleware

import (
	"encoding/json"
	"strings"

	"github.com/gin-gonic/gin"

	"m-taji/platform/internal/audit"
	"m-taji/platform/internal/platform/reqctx"
)

type routeMetadata struct {
	Status int `json:"status"`
}

// Audit records an audit log entry after each authenticated request. Routes whose template
// starts with one of skipPrefixes are not audited (e.g. /auth/v1, which the auth service
// audits itself). Best-effort: the audit logger never fails the request.
func Audit(logger audit.AuditLogger, skipPrefixes ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		route := c.FullPath()
		if route == "" {
			return
		}
		for _, p := range skipPrefixes {
			if strings.HasPrefix(route, p) {
				return
			}
		}
		userID, _ := reqctx.UserID(c.Request.Context())
		if userID == "" {
			return
		}
		ar := audit.ParseRoute(c.Request.Method, route)
		meta, _ := json.Marshal(routeMetadata{Status: c.Writer.Status()})
		logger.LogEvent(c.Request.Context(), userID, ar.Action, ar.Resource, string(meta))
	}
}
