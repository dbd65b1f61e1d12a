// Package server assembles the HTTP API (gin) and the gRPC health endpoint.
package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"m-taji/platform/internal/audit"
	healthhandler "m-taji/platform/internal/health/handler"
	identityhandler "m-taji/platform/internal/identity/handler"
	identityservice "m-taji/platform/internal/identity/service"
	"m-taji/platform/internal/mailer"
	profilehandler "m-taji/platform/internal/profile/handler"
	profilerepo "m-taji/platform/internal/profile/repository"
	"m-taji/platform/internal/server/middleware"
)

// Deps holds the dependencies of the HTTP API.
type Deps struct {
	// Auth backs /auth/v1 and bearer authentication. Required.
	Auth *identityservice.AuthService
	// Profiles backs /rest/v1/profiles. If nil, profile routes are not mounted.
	Profiles profilerepo.Repository
	// Policy guards profile reads and inserts. Required when Profiles is set.
	Policy profilehandler.Authorizer
	// Audit records authenticated non-auth requests. If nil, requests are not audited.
	Audit audit.AuditLogger
	// Health serves GET /health. If nil, /health always reports ok.
	Health *healthhandler.Server
	// DevMailbox exposes GET /dev/mailbox/:email with the last confirmation link sent to
	// that address. Set only outside production.
	DevMailbox *mailer.Outbox
}

// NewRouter returns the gin engine serving the auth and profile APIs.
//
// Route → handler mapping:
//   - /auth/v1/*         → internal/identity/handler
//   - /rest/v1/profiles  → internal/profile/handler
//   - /health            → internal/health/handler
func NewRouter(deps Deps, log zerolog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), middleware.ClientIP(), middleware.Logger(log, "/health"))
	if deps.Audit != nil {
		r.Use(middleware.Audit(deps.Audit, "/auth/v1", "/health", "/dev"))
	}

	requireAuth := middleware.RequireAuth(deps.Auth)
	identityhandler.NewAuthHandler(deps.Auth, log).RegisterRoutes(r, requireAuth)
	if deps.Profiles != nil {
		profilehandler.NewProfileHandler(deps.Profiles, deps.Policy, log).RegisterRoutes(r, requireAuth)
	}

	if deps.Health != nil {
		r.GET("/health", deps.Health.HTTP)
	} else {
		r.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
		})
	}

	if deps.DevMailbox != nil {
		r.GET("/dev/mailbox/:email", func(c *gin.Context) {
			conf, ok := deps.DevMailbox.Last(c.Param("email"))
			if !ok {
				c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "message": "No confirmation sent to this address"})
				return
			}
			c.JSON(http.StatusOK, gin.H{"to": conf.To, "subject": conf.Subject(), "link": conf.Link})
		})
	}
	return r
}
