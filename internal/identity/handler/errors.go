package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"m-taji/platform/internal/identity/service"
)

// classify maps service errors to an HTTP status and a machine-readable code.
func classify(err error) (int, string) {
	var vErr *service.ValidationError
	switch {
	case errors.As(err, &vErr):
		return http.StatusUnprocessableEntity, "validation_failed"
	case errors.Is(err, service.ErrUserAlreadyRegistered):
		return http.StatusUnprocessableEntity, "user_already_exists"
	case errors.Is(err, service.ErrRateLimited):
		return http.StatusTooManyRequests, "over_email_send_rate_limit"
	case errors.Is(err, service.ErrInvalidConfirmation):
		return http.StatusForbidden, "otp_expired"
	case errors.Is(err, service.ErrUserNotFound):
		return http.StatusNotFound, "user_not_found"
	case errors.Is(err, service.ErrSessionNotFound):
		return http.StatusUnauthorized, "session_not_found"
	case errors.Is(err, service.ErrSendingEmail):
		return http.StatusInternalServerError, "email_send_failed"
	default:
		return http.StatusInternalServerError, "unexpected_failure"
	}
}

// message is the human-readable text shown to the client. Unclassified failures are not echoed.
func message(err error, status int) string {
	if status >= http.StatusInternalServerError && !errors.Is(err, service.ErrSendingEmail) {
		return "Internal server error"
	}
	if errors.Is(err, service.ErrSendingEmail) {
		return service.ErrSendingEmail.Error()
	}
	return err.Error()
}

// writeError writes {code, message} with the status for err.
func writeError(c *gin.Context, err error) {
	status, code := classify(err)
	c.AbortWithStatusJSON(status, gin.H{"code": code, "message": message(err, status)})
}

// writeOAuthError writes the RFC 6749 error body used by the token endpoint.
func writeOAuthError(c *gin.Context, status int, code, description string) {
	c.AbortWithStatusJSON(status, gin.H{"error": code, "error_description": description})
}
