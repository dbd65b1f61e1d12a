// Package handler exposes the auth service over HTTP under /auth/v1.
package handler

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"m-taji/platform/internal/identity/domain"
	"m-taji/platform/internal/identity/service"
	"m-taji/platform/internal/platform/reqctx"
)

// AuthHandler serves sign-up, the token endpoint (password and refresh_token grants),
// sign-out, the current user, confirmation resend and email verification.
type AuthHandler struct {
	auth *service.AuthService
	log  zerolog.Logger
}

// NewAuthHandler returns an AuthHandler backed by auth.
func NewAuthHandler(auth *service.AuthService, log zerolog.Logger) *AuthHandler {
	return &AuthHandler{auth: auth, log: log.With().Str("component", "auth_http").Logger()}
}

// RegisterRoutes mounts the handlers on r. requireAuth guards logout and user.
func (h *AuthHandler) RegisterRoutes(r gin.IRouter, requireAuth gin.HandlerFunc) {
	g := r.Group("/auth/v1")
	g.POST("/signup", h.signUp)
	g.POST("/token", h.token)
	g.POST("/resend", h.resend)
	g.GET("/verify", h.verify)
	g.POST("/logout", requireAuth, h.logout)
	g.GET("/user", requireAuth, h.user)
}

type userJSON struct {
	ID               string     `json:"id"`
	Email            string     `json:"email"`
	Name             string     `json:"name,omitempty"`
	EmailConfirmedAt *time.Time `json:"email_confirmed_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

func toUserJSON(u *domain.User) userJSON {
	return userJSON{
		ID:               u.ID,
		Email:            u.Email,
		Name:             u.Name,
		EmailConfirmedAt: u.EmailConfirmedAt,
		CreatedAt:        u.CreatedAt,
	}
}

type sessionJSON struct {
	AccessToken  string   `json:"access_token"`
	TokenType    string   `json:"token_type"`
	ExpiresIn    int64    `json:"expires_in"`
	ExpiresAt    int64    `json:"expires_at"`
	RefreshToken string   `json:"refresh_token"`
	User         userJSON `json:"user"`
}

func toSessionJSON(r *service.AuthResult) *sessionJSON {
	if r == nil {
		return nil
	}
	return &sessionJSON{
		AccessToken:  r.AccessToken,
		TokenType:    "bearer",
		ExpiresIn:    r.ExpiresIn,
		ExpiresAt:    r.ExpiresAt.Unix(),
		RefreshToken: r.RefreshToken,
		User:         toUserJSON(r.User),
	}
}

type signUpRequest struct {
	Email    string            `json:"email"`
	Password string            `json:"password"`
	Data     map[string]string `json:"data"`
}

func (h *AuthHandler) signUp(c *gin.Context) {
	var req signUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, &service.ValidationError{Message: "Invalid request body"})
		return
	}
	res, err := h.auth.SignUp(c.Request.Context(), req.Email, req.Password, req.Data["name"])
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": toUserJSON(res.User), "session": toSessionJSON(res.Session)})
}

type tokenRequest struct {
	GrantType    string `json:"grant_type" form:"grant_type"`
	Email        string `json:"email" form:"email"`
	Username     string `json:"username" form:"username"`
	Password     string `json:"password" form:"password"`
	RefreshToken string `json:"refresh_token" form:"refresh_token"`
}

// token implements the OAuth2 token endpoint; errors use the RFC 6749 error shape.
func (h *AuthHandler) token(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBind(&req); err != nil {
		writeOAuthError(c, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}
	if g := c.Query("grant_type"); g != "" {
		req.GrantType = g
	}

	var (
		res *service.AuthResult
		err error
	)
	switch req.GrantType {
	case "password":
		email := req.Email
		if email == "" {
			email = req.Username
		}
		res, err = h.auth.SignInWithPassword(c.Request.Context(), email, req.Password)
	case "refresh_token":
		res, err = h.auth.Refresh(c.Request.Context(), req.RefreshToken)
	default:
		writeOAuthError(c, http.StatusBadRequest, "unsupported_grant_type", "Unsupported grant type")
		return
	}
	if err != nil {
		var vErr *service.ValidationError
		switch {
		case errors.Is(err, service.ErrInvalidCredentials),
			errors.Is(err, service.ErrEmailNotConfirmed),
			errors.Is(err, service.ErrInvalidRefreshToken),
			errors.Is(err, service.ErrRefreshTokenReuse),
			errors.As(err, &vErr):
			writeOAuthError(c, http.StatusBadRequest, "invalid_grant", err.Error())
		default:
			h.log.Error().Err(err).Str("grant_type", req.GrantType).Msg("token")
			writeOAuthError(c, http.StatusInternalServerError, "server_error", "Internal server error")
		}
		return
	}
	c.JSON(http.StatusOK, toSessionJSON(res))
}

func (h *AuthHandler) logout(c *gin.Context) {
	sessionID, _ := reqctx.SessionID(c.Request.Context())
	if err := h.auth.SignOut(c.Request.Context(), sessionID); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *AuthHandler) user(c *gin.Context) {
	userID, _ := reqctx.UserID(c.Request.Context())
	u, err := h.auth.GetUser(c.Request.Context(), userID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toUserJSON(u))
}

type resendRequest struct {
	Type  string `json:"type"`
	Email string `json:"email"`
}

func (h *AuthHandler) resend(c *gin.Context) {
	var req resendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, &service.ValidationError{Message: "Invalid request body"})
		return
	}
	if req.Type != "signup" {
		writeError(c, &service.ValidationError{Message: "Only signup confirmations can be resent"})
		return
	}
	if err := h.auth.ResendConfirmation(c.Request.Context(), req.Email); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{})
}

// verify consumes a confirmation link. With redirect_to the browser is sent there with the
// session (or the error) in the URL fragment; otherwise the session is returned as JSON.
func (h *AuthHandler) verify(c *gin.Context) {
	redirectTo := c.Query("redirect_to")
	res, err := h.auth.ConfirmEmail(c.Request.Context(), c.Query("token"))
	if redirectTo == "" {
		if err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, toSessionJSON(res))
		return
	}

	frag := url.Values{}
	if err != nil {
		status, code := classify(err)
		if status >= http.StatusInternalServerError {
			h.log.Error().Err(err).Msg("verify")
		}
		frag.Set("error", code)
		frag.Set("error_description", message(err, status))
	} else {
		frag.Set("access_token", res.AccessToken)
		frag.Set("refresh_token", res.RefreshToken)
		frag.Set("expires_in", strconv.FormatInt(res.ExpiresIn, 10))
		frag.Set("expires_at", strconv.FormatInt(res.ExpiresAt.Unix(), 10))
		frag.Set("token_type", "bearer")
		frag.Set("type", "signup")
	}
	target := strings.SplitN(redirectTo, "#", 2)[0] + "#" + frag.Encode()
	c.Redirect(http.StatusSeeOther, target)
}

func (h *AuthHandler) fail(c *gin.Context, err error) {
	if status, _ := classify(err); status >= http.StatusInternalServerError {
		h.log.Error().Err(err).Str("route", c.FullPath()).Msg("request failed")
	}
	writeError(c, err)
}
