package domain

import "time"

// User is an auth user: the credential record behind a sign-in. The application
// profile lives in the profiles table and is created after sign-up.
type User struct {
	ID                 string
	Email              string
	PasswordHash       string
	Name               string
	EmailConfirmedAt   *time.Time // nil until the confirmation link is followed
	ConfirmationToken  string     // SHA-256 hash of the outstanding confirmation token; empty when none
	ConfirmationSentAt *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Confirmed reports whether the user's email has been confirmed.
func (u *User) Confirmed() bool {
	return u.EmailConfirmedAt != nil
}

// Session is one sign-in. Refresh tokens rotate: RefreshJti is the jti of the refresh token
// that may be exchanged next. PreviousRefreshJti is the jti it replaced at RefreshRotatedAt;
// it stays exchangeable for a short grace period so endpoints sharing one token can refresh
// concurrently.
type Session struct {
	ID                 string
	UserID             string
	ExpiresAt          time.Time
	RevokedAt          *time.Time // nil when not revoked
	LastSeenAt         *time.Time
	RefreshJti         string
	PreviousRefreshJti string
	RefreshRotatedAt   *time.Time
	CreatedAt          time.Time
}

// Active reports whether the session is neither revoked nor expired at now.
func (s *Session) Active(now time.Time) bool {
	return s.RevokedAt == nil && now.Before(s.ExpiresAt)
}
