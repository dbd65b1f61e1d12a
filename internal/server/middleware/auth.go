// Package middleware holds the gin middleware of the HTTP API: bearer authentication,
// client address capture, request logging and route auditing.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"m-taji/platform/internal/identity/service"
	"m-taji/platform/internal/platform/reqctx"
)

const bearerPrefix = "bearer "

// Authenticator resolves an access token to the identity behind it.
type Authenticator interface {
	Authenticate(ctx context.Context, accessToken string) (*service.Principal, error)
}

// RequireAuth validates the Bearer access token and sets user_id and session_id in the
// request context. Missing, invalid, expired or revoked tokens get 401.
func RequireAuth(auth Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := ExtractBearer(c.GetHeader("Authorization"))
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":    "no_authorization",
				"message": "This endpoint requires a Bearer token",
			})
			return
		}
		p, err := auth.Authenticate(c.Request.Context(), token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":    "bad_jwt",
				"message": "invalid JWT: unable to parse or verify signature, token is expired or session is revoked",
			})
			return
		}
		c.Request = c.Request.WithContext(reqctx.WithIdentity(c.Request.Context(), p.UserID, p.SessionID))
		c.Set("user_id", p.UserID)
		c.Set("email", p.Email)
		c.Next()
	}
}

// ExtractBearer returns the token of an "Authorization: Bearer <token>" header value, or "".
func ExtractBearer(header string) string {
	v := strings.TrimSpace(header)
	if len(v) < len(bearerPrefix) {
		return ""
	}
	if !strings.EqualFold(v[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(v[len(bearerPrefix):])
}

// ClientIP stores the caller's address in the request context for the audit trail.
func ClientIP() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request = c.Request.WithContext(reqctx.WithClientIP(c.Request.Context(), c.ClientIP()))
		c.Next()
	}
}
