package authclient

import (
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"

	"m-taji/platform/internal/session"
)

// ErrProfileConflict is returned by InsertProfile when a profile with the id already exists.
var ErrProfileConflict = session.ErrProfileExists

// APIError is a non-2xx response from the auth backend. Error returns the backend's
// human-readable message so callers can show it as-is.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Code != "" {
		return e.Code
	}
	return fmt.Sprintf("auth backend returned %d %s", e.Status, http.StatusText(e.Status))
}

// IsStatus reports whether err is an APIError with the given HTTP status.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == status
}

// fromRetrieveError converts an oauth2 token endpoint failure into an APIError.
func fromRetrieveError(err error) error {
	var re *oauth2.RetrieveError
	if !errors.As(err, &re) {
		return err
	}
	apiErr := &APIError{Code: re.ErrorCode, Message: re.ErrorDescription}
	if re.Response != nil {
		apiErr.Status = re.Response.StatusCode
	}
	return apiErr
}

// rejected reports whether the backend refused the refresh token itself. Rate limits, server
// errors and transport failures are transient and leave the session in place.
func rejected(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return (apiErr.Status == http.StatusBadRequest || apiErr.Status == http.StatusUnauthorized) &&
		apiErr.Code == "invalid_grant"
}
