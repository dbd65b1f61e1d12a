package domain

import "time"

// Auth event actions recorded in the audit trail.
const (
	ActionSignup           = "signup"
	ActionSignupFailure    = "signup_failure"
	ActionLogin            = "login"
	ActionLoginFailure     = "login_failure"
	ActionTokenRefresh     = "token_refresh"
	ActionRefreshReuse     = "refresh_reuse"
	ActionLogout           = "logout"
	ActionConfirmationSent = "confirmation_sent"
	ActionEmailConfirmed   = "email_confirmed"
)

// AuditLog represents an audit event.
type AuditLog struct {
	ID        string
	UserID    string // empty for events without an identified user
	Action    string
	Resource  string
	IP        string
	Metadata  string
	CreatedAt time.Time
}
