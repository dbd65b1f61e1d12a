// Package handler exposes profile rows over HTTP under /rest/v1/profiles, with every
// read and insert checked by the profile access policy.
package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"m-taji/platform/internal/platform/reqctx"
	"m-taji/platform/internal/policy/engine"
	"m-taji/platform/internal/profile/domain"
	"m-taji/platform/internal/profile/repository"
)

// Authorizer decides whether subject may perform action on resource.
type Authorizer interface {
	Allow(ctx context.Context, action engine.Action, subject engine.Subject, resource engine.Resource) (bool, error)
}

// ProfileHandler serves GET /rest/v1/profiles/:id and POST /rest/v1/profiles.
type ProfileHandler struct {
	repo   repository.Repository
	policy Authorizer
	now    func() time.Time
	log    zerolog.Logger
}

// NewProfileHandler returns a ProfileHandler over repo guarded by policy.
func NewProfileHandler(repo repository.Repository, policy Authorizer, log zerolog.Logger) *ProfileHandler {
	return &ProfileHandler{
		repo:   repo,
		policy: policy,
		now:    func() time.Time { return time.Now().UTC() },
		log:    log.With().Str("component", "profile_http").Logger(),
	}
}

// RegisterRoutes mounts the handlers on r behind requireAuth.
func (h *ProfileHandler) RegisterRoutes(r gin.IRouter, requireAuth gin.HandlerFunc) {
	g := r.Group("/rest/v1/profiles", requireAuth)
	g.GET("/:id", h.get)
	g.POST("", h.insert)
}

// subject is the caller with the role from its own profile; a caller without a profile has no role.
func (h *ProfileHandler) subject(ctx context.Context) (engine.Subject, error) {
	userID, _ := reqctx.UserID(ctx)
	own, err := h.repo.GetByID(ctx, userID)
	if err != nil {
		return engine.Subject{}, err
	}
	s := engine.Subject{ID: userID}
	if own != nil {
		s.Role = string(own.Role)
	}
	return s, nil
}

func (h *ProfileHandler) get(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")
	sub, err := h.subject(ctx)
	if err != nil {
		h.internal(c, err)
		return
	}
	ok, err := h.policy.Allow(ctx, engine.ActionRead, sub, engine.Resource{ID: id})
	if err != nil {
		h.internal(c, err)
		return
	}
	// Rows the caller may not read are indistinguishable from missing rows.
	if !ok {
		notFound(c)
		return
	}
	p, err := h.repo.GetByID(ctx, id)
	if err != nil {
		h.internal(c, err)
		return
	}
	if p == nil {
		notFound(c)
		return
	}
	c.JSON(http.StatusOK, p)
}

type insertRequest struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  string `json:"role"`
}

func (h *ProfileHandler) insert(c *gin.Context) {
	ctx := c.Request.Context()
	var req insertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"code": "PGRST102", "message": "Invalid request body"})
		return
	}
	now := h.now()
	p := &domain.Profile{
		ID:        strings.TrimSpace(req.ID),
		Email:     strings.TrimSpace(req.Email),
		Name:      strings.TrimSpace(req.Name),
		Role:      domain.Role(req.Role),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if p.Role == "" {
		p.Role = domain.RoleUser
	}
	if err := p.Validate(); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"code": "23514", "message": err.Error()})
		return
	}
	sub, err := h.subject(ctx)
	if err != nil {
		h.internal(c, err)
		return
	}
	ok, err := h.policy.Allow(ctx, engine.ActionInsert, sub, engine.Resource{ID: p.ID, Role: string(p.Role)})
	if err != nil {
		h.internal(c, err)
		return
	}
	if !ok {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"code":    "42501",
			"message": `new row violates row-level security policy for table "profiles"`,
		})
		return
	}
	if err := h.repo.Insert(ctx, p); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{
				"code":    "23505",
				"message": `duplicate key value violates unique constraint "profiles_pkey"`,
			})
			return
		}
		h.internal(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

func notFound(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"code": "PGRST116", "message": "Profile not found"})
}

func (h *ProfileHandler) internal(c *gin.Context, err error) {
	h.log.Error().Err(err).Str("route", c.FullPath()).Msg("request failed")
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"code": "unexpected_failure", "message": "Internal server error"})
}
