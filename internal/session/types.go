package session

import (
	"context"
	"errors"
	"time"
)

// Role is the application role stored on a profile.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool { return r == RoleAdmin || r == RoleUser }

// User is the application-level user: the session identity joined with its profile record.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  Role   `json:"role"`
}

// AuthUser is the minimal identity-provider user embedded in a session.
type AuthUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Session is the identity provider's token pair with its expiry and identity.
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	User         AuthUser  `json:"user"`
}

// Expired reports whether the access token has expired at now.
func (s *Session) Expired(now time.Time) bool {
	return s == nil || !s.ExpiresAt.After(now)
}

// Projection returns the copy of s that may cross process or tab boundaries.
func (s *Session) Projection() *Session {
	if s == nil {
		return nil
	}
	return &Session{
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		ExpiresAt:    s.ExpiresAt,
		User:         AuthUser{ID: s.User.ID, Email: s.User.Email},
	}
}

// AuthEvent is an identity-provider state change.
type AuthEvent string

const (
	EventSignedIn       AuthEvent = "SIGNED_IN"
	EventSignedOut      AuthEvent = "SIGNED_OUT"
	EventTokenRefreshed AuthEvent = "TOKEN_REFRESHED"
)

// MessageTypeAuthStateChange is the only message type sent between managers.
const MessageTypeAuthStateChange = "AUTH_STATE_CHANGE"

// Message is the cross-tab broadcast payload.
type Message struct {
	Type    string    `json:"type"`
	Event   AuthEvent `json:"event"`
	Session *Session  `json:"session,omitempty"`
}

// AuthResponse is returned by sign-in and sign-up. Session is nil when sign-up requires email confirmation.
type AuthResponse struct {
	User    *AuthUser
	Session *Session
}

// ErrProfileNotFound is returned by a ProfileStore when no record exists for the id yet.
var ErrProfileNotFound = errors.New("session: profile not found")

// IdentityProvider is the remote identity service as consumed by the manager.
type IdentityProvider interface {
	SignInWithPassword(ctx context.Context, email, password string) (*AuthResponse, error)
	// SignUp registers a user; metadata carries auxiliary fields such as "name".
	SignUp(ctx context.Context, email, password string, metadata map[string]string) (*AuthResponse, error)
	SignOut(ctx context.Context) error
	// GetSession returns the current persisted session or nil when signed out.
	GetSession(ctx context.Context) (*Session, error)
	GetUser(ctx context.Context) (*AuthUser, error)
	// Resend re-sends the sign-up confirmation email.
	Resend(ctx context.Context, email string) error
	// OnAuthStateChange registers fn for state changes and returns its unsubscribe func.
	OnAuthStateChange(fn func(AuthEvent, *Session)) (unsubscribe func())
}

// ProfileStore reads profile records.
type ProfileStore interface {
	// GetProfileByID returns ErrProfileNotFound when the record does not exist.
	GetProfileByID(ctx context.Context, id string) (*User, error)
}

// ErrProfileExists is returned by a ProfileWriter when the record is already there.
var ErrProfileExists = errors.New("session: profile already exists")

// ProfileWriter is implemented by profile stores that can create records.
type ProfileWriter interface {
	InsertProfile(ctx context.Context, u User) (*User, error)
}

// Phase is the manager's authentication status.
type Phase string

const (
	PhaseInitializing    Phase = "INITIALIZING"
	PhaseUnauthenticated Phase = "UNAUTHENTICATED"
	// PhaseProfilePending is authenticated with no profile resolved yet.
	PhaseProfilePending Phase = "PROFILE_PENDING"
	PhaseProfileReady   Phase = "PROFILE_READY"
)

// Authenticated reports whether p is one of the authenticated phases.
func (p Phase) Authenticated() bool {
	return p == PhaseProfilePending || p == PhaseProfileReady
}

// State is an immutable snapshot of the manager's view.
type State struct {
	User            *User
	Session         *Session
	IsAuthenticated bool
	Loading         bool
	Phase           Phase
}
