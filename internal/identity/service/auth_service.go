package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"m-taji/platform/internal/audit"
	auditdomain "m-taji/platform/internal/audit/domain"
	"m-taji/platform/internal/events"
	"m-taji/platform/internal/identity/domain"
	"m-taji/platform/internal/identity/repository"
	"m-taji/platform/internal/mailer"
	"m-taji/platform/internal/security"
)

// Sentinel errors for the auth service. Messages are shown to end users as-is; the HTTP
// layer maps each to a status and code.
var (
	ErrUserAlreadyRegistered = errors.New("User already registered")
	ErrInvalidCredentials    = errors.New("Invalid login credentials")
	ErrEmailNotConfirmed     = errors.New("Email not confirmed")
	ErrInvalidRefreshToken   = errors.New("Invalid Refresh Token")
	ErrRefreshTokenReuse     = errors.New("Invalid Refresh Token: Already Used")
	ErrRateLimited           = errors.New("Email rate limit exceeded")
	ErrInvalidConfirmation   = errors.New("Email link is invalid or has expired")
	ErrUserNotFound          = errors.New("User not found")
	ErrSessionNotFound       = errors.New("Session not found")
	ErrSendingEmail          = errors.New("Error sending confirmation email")
)

// ValidationError rejects malformed sign-up input. Its message is user-facing.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// UserRepo is the minimal user repository needed by the auth service.
type UserRepo interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	GetByConfirmationToken(ctx context.Context, tokenHash string) (*domain.User, error)
	Create(ctx context.Context, u *domain.User) error
	SetConfirmationToken(ctx context.Context, id, tokenHash string, sentAt time.Time) error
	Confirm(ctx context.Context, id string, at time.Time) error
}

// SessionRepo is the minimal session repository needed by the auth service.
type SessionRepo interface {
	GetByID(ctx context.Context, id string) (*domain.Session, error)
	Create(ctx context.Context, s *domain.Session) error
	Revoke(ctx context.Context, id string) error
	RevokeAllByUser(ctx context.Context, userID string) error
	RotateRefresh(ctx context.Context, sessionID, from, to string, at time.Time) (bool, error)
	UpdateLastSeen(ctx context.Context, id string, at time.Time) error
}

// SignupPublisher announces accepted sign-ups so the profile can be created.
type SignupPublisher interface {
	PublishSignup(ctx context.Context, ev events.Signup) error
}

// Config holds the sign-up policy.
type Config struct {
	// RequireEmailConfirmation withholds a session at sign-up and blocks sign-in until the
	// confirmation link is followed.
	RequireEmailConfirmation bool
	// ResendCooldown is the minimum time between two confirmation emails to one address.
	ResendCooldown time.Duration
	// ConfirmationTTL bounds the age of a confirmation token.
	ConfirmationTTL time.Duration
	// SiteURL is the public base URL of this server; confirmation links point at SiteURL/auth/v1/verify.
	SiteURL string
	// RefreshReuseInterval is how long the refresh token a rotation replaced stays exchangeable.
	// Clients in separate processes that refresh the same session at once all succeed inside it.
	RefreshReuseInterval time.Duration
}

// AuthResult is an issued session.
type AuthResult struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time // access token expiry
	ExpiresIn    int64     // seconds until ExpiresAt
	SessionID    string
	User         *domain.User
}

// SignUpResult is the outcome of SignUp. Session is nil while the email awaits confirmation.
type SignUpResult struct {
	User    *domain.User
	Session *AuthResult
}

// Principal is the identity behind a valid access token.
type Principal struct {
	UserID    string
	SessionID string
	Email     string
}

// AuthService implements password sign-up and sign-in, token refresh, sign-out and email confirmation.
type AuthService struct {
	users     UserRepo
	sessions  SessionRepo
	hasher    *security.Hasher
	tokens    *security.TokenProvider
	mail      mailer.Sender
	publisher SignupPublisher
	audit     audit.AuditLogger
	cfg       Config
	now       func() time.Time
	log       zerolog.Logger
}

// NewAuthService returns an AuthService with the given dependencies. auditLogger may be nil.
func NewAuthService(
	users UserRepo,
	sessions SessionRepo,
	hasher *security.Hasher,
	tokens *security.TokenProvider,
	mail mailer.Sender,
	publisher SignupPublisher,
	auditLogger audit.AuditLogger,
	cfg Config,
	log zerolog.Logger,
) *AuthService {
	if auditLogger == nil {
		auditLogger = audit.Nop{}
	}
	if cfg.ConfirmationTTL <= 0 {
		cfg.ConfirmationTTL = 24 * time.Hour
	}
	if cfg.RefreshReuseInterval <= 0 {
		cfg.RefreshReuseInterval = 10 * time.Second
	}
	return &AuthService{
		users:     users,
		sessions:  sessions,
		hasher:    hasher,
		tokens:    tokens,
		mail:      mail,
		publisher: publisher,
		audit:     auditLogger,
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
		log:       log.With().Str("component", "auth").Logger(),
	}
}

// SignUp creates an auth user and announces it for profile creation. When confirmation is
// required a confirmation email is sent and no session is issued.
func (s *AuthService) SignUp(ctx context.Context, email, password, name string) (*SignUpResult, error) {
	email = normalizeEmail(email)
	if err := validateEmail(email); err != nil {
		return nil, err
	}
	if err := validatePassword(password); err != nil {
		return nil, err
	}
	existing, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		s.audit.LogEvent(ctx, existing.ID, auditdomain.ActionSignupFailure, "user", "reason=duplicate")
		return nil, ErrUserAlreadyRegistered
	}
	hashed, err := s.hasher.Hash([]byte(password))
	if err != nil {
		return nil, err
	}
	now := s.now()
	user := &domain.User{
		ID:           uuid.New().String(),
		Email:        email,
		PasswordHash: hashed,
		Name:         strings.TrimSpace(name),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if !s.cfg.RequireEmailConfirmation {
		user.EmailConfirmedAt = &now
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return nil, ErrUserAlreadyRegistered
		}
		return nil, err
	}
	s.audit.LogEvent(ctx, user.ID, auditdomain.ActionSignup, "user", "")

	if s.publisher != nil {
		ev := events.Signup{UserID: user.ID, Email: user.Email, Name: user.Name, CreatedAt: now}
		if err := s.publisher.PublishSignup(ctx, ev); err != nil {
			s.log.Error().Err(err).Str("user_id", user.ID).Msg("signup event not published; profile will not be created")
		}
	}

	if s.cfg.RequireEmailConfirmation {
		if err := s.sendConfirmation(ctx, user); err != nil {
			return nil, err
		}
		return &SignUpResult{User: user}, nil
	}
	res, err := s.createSession(ctx, user)
	if err != nil {
		return nil, err
	}
	return &SignUpResult{User: user, Session: res}, nil
}

// SignInWithPassword authenticates with email/password, creates a session, and returns tokens.
func (s *AuthService) SignInWithPassword(ctx context.Context, email, password string) (*AuthResult, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if user == nil {
		_ = s.hasher.CompareMissing([]byte(password))
		s.audit.LogEvent(ctx, "", auditdomain.ActionLoginFailure, "session", "reason=unknown_email")
		return nil, ErrInvalidCredentials
	}
	if err := s.hasher.Compare(user.PasswordHash, []byte(password)); err != nil {
		s.audit.LogEvent(ctx, user.ID, auditdomain.ActionLoginFailure, "session", "reason=bad_password")
		return nil, ErrInvalidCredentials
	}
	if !user.Confirmed() {
		s.audit.LogEvent(ctx, user.ID, auditdomain.ActionLoginFailure, "session", "reason=unconfirmed")
		return nil, ErrEmailNotConfirmed
	}
	res, err := s.createSession(ctx, user)
	if err != nil {
		return nil, err
	}
	s.audit.LogEvent(ctx, user.ID, auditdomain.ActionLogin, "session", "session_id="+res.SessionID)
	return res, nil
}

// Refresh validates the refresh token, rotates it, and returns new tokens. The token a rotation
// replaced stays exchangeable for RefreshReuseInterval and yields the current refresh jti again;
// presenting any other stale token revokes every session of the user.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*AuthResult, error) {
	if refreshToken == "" {
		return nil, ErrInvalidRefreshToken
	}
	claims, err := s.tokens.ValidateRefresh(refreshToken)
	if err != nil {
		return nil, ErrInvalidRefreshToken
	}
	sess, err := s.sessions.GetByID(ctx, claims.SessionID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if sess == nil || !sess.Active(now) || sess.UserID != claims.Subject {
		return nil, ErrInvalidRefreshToken
	}
	user, err := s.users.GetByID(ctx, sess.UserID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrInvalidRefreshToken
	}

	var newRefresh string
	if claims.ID == sess.RefreshJti {
		var newJti string
		newRefresh, newJti, _, err = s.tokens.IssueRefresh(sess.ID, user.ID)
		if err != nil {
			return nil, err
		}
		rotated, err := s.sessions.RotateRefresh(ctx, sess.ID, claims.ID, newJti, now)
		if err != nil {
			return nil, err
		}
		if !rotated {
			// A concurrent refresh rotated first; fall back to the grace path against its result.
			if sess, err = s.sessions.GetByID(ctx, sess.ID); err != nil {
				return nil, err
			}
			if sess == nil || !sess.Active(now) {
				return nil, ErrInvalidRefreshToken
			}
			newRefresh = ""
		}
	}
	if newRefresh == "" {
		if !s.withinReuseInterval(sess, claims.ID, now) {
			if err := s.sessions.RevokeAllByUser(ctx, sess.UserID); err != nil {
				s.log.Error().Err(err).Str("user_id", sess.UserID).Msg("revoke after refresh reuse")
			}
			s.audit.LogEvent(ctx, sess.UserID, auditdomain.ActionRefreshReuse, "session", "session_id="+sess.ID)
			return nil, ErrRefreshTokenReuse
		}
		if newRefresh, _, err = s.tokens.ReissueRefresh(sess.ID, user.ID, sess.RefreshJti); err != nil {
			return nil, err
		}
		s.log.Debug().Str("session_id", sess.ID).Msg("refresh token reused within interval")
	}
	_ = s.sessions.UpdateLastSeen(ctx, sess.ID, now)
	res, err := s.access(sess.ID, user)
	if err != nil {
		return nil, err
	}
	res.RefreshToken = newRefresh
	s.audit.LogEvent(ctx, user.ID, auditdomain.ActionTokenRefresh, "session", "session_id="+sess.ID)
	return res, nil
}

func (s *AuthService) withinReuseInterval(sess *domain.Session, jti string, now time.Time) bool {
	if sess.PreviousRefreshJti == "" || jti != sess.PreviousRefreshJti || sess.RefreshRotatedAt == nil {
		return false
	}
	return now.Sub(*sess.RefreshRotatedAt) <= s.cfg.RefreshReuseInterval
}

// SignOut revokes the session. Revoking an unknown or already revoked session succeeds.
func (s *AuthService) SignOut(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	sess, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess == nil {
		return nil
	}
	if err := s.sessions.Revoke(ctx, sessionID); err != nil {
		return err
	}
	s.audit.LogEvent(ctx, sess.UserID, auditdomain.ActionLogout, "session", "session_id="+sessionID)
	return nil
}

// Authenticate validates an access token and checks that its session is still live.
func (s *AuthService) Authenticate(ctx context.Context, accessToken string) (*Principal, error) {
	claims, err := s.tokens.ValidateAccess(accessToken)
	if err != nil {
		return nil, err
	}
	sess, err := s.sessions.GetByID(ctx, claims.SessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil || !sess.Active(s.now()) {
		return nil, ErrSessionNotFound
	}
	return &Principal{UserID: claims.Subject, SessionID: claims.SessionID, Email: claims.Email}, nil
}

// GetUser returns the auth user for userID.
func (s *AuthService) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}

// ResendConfirmation sends a new confirmation email. Unknown and already confirmed
// addresses succeed silently so the endpoint does not reveal which emails exist.
func (s *AuthService) ResendConfirmation(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	if err := validateEmail(email); err != nil {
		return err
	}
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return err
	}
	if user == nil || user.Confirmed() {
		return nil
	}
	if user.ConfirmationSentAt != nil && s.now().Sub(*user.ConfirmationSentAt) < s.cfg.ResendCooldown {
		return ErrRateLimited
	}
	return s.sendConfirmation(ctx, user)
}

// ConfirmEmail consumes a confirmation token, marks the email confirmed and signs the user in.
func (s *AuthService) ConfirmEmail(ctx context.Context, token string) (*AuthResult, error) {
	if token == "" {
		return nil, ErrInvalidConfirmation
	}
	user, err := s.users.GetByConfirmationToken(ctx, security.HashToken(token))
	if err != nil {
		return nil, err
	}
	now := s.now()
	if user == nil || user.ConfirmationSentAt == nil || now.Sub(*user.ConfirmationSentAt) > s.cfg.ConfirmationTTL {
		return nil, ErrInvalidConfirmation
	}
	if err := s.users.Confirm(ctx, user.ID, now); err != nil {
		return nil, err
	}
	user.EmailConfirmedAt = &now
	user.ConfirmationToken = ""
	s.audit.LogEvent(ctx, user.ID, auditdomain.ActionEmailConfirmed, "user", "")
	return s.createSession(ctx, user)
}

// ConfirmationLink builds the verify URL for token. redirectTo, when set, is where the
// verify endpoint sends the browser with the session in the fragment.
func (s *AuthService) ConfirmationLink(token, redirectTo string) string {
	q := url.Values{}
	q.Set("token", token)
	q.Set("type", "signup")
	if redirectTo != "" {
		q.Set("redirect_to", redirectTo)
	}
	return strings.TrimRight(s.cfg.SiteURL, "/") + "/auth/v1/verify?" + q.Encode()
}

func (s *AuthService) sendConfirmation(ctx context.Context, user *domain.User) error {
	token, err := security.NewOpaqueToken(32)
	if err != nil {
		return err
	}
	now := s.now()
	if err := s.users.SetConfirmationToken(ctx, user.ID, security.HashToken(token), now); err != nil {
		return err
	}
	err = s.mail.SendConfirmation(ctx, mailer.Confirmation{
		To:   user.Email,
		Name: user.Name,
		Link: s.ConfirmationLink(token, ""),
	})
	if err != nil {
		s.log.Error().Err(err).Str("user_id", user.ID).Msg("send confirmation")
		return fmt.Errorf("%w: %v", ErrSendingEmail, err)
	}
	s.audit.LogEvent(ctx, user.ID, auditdomain.ActionConfirmationSent, "user", "")
	return nil
}

// createSession stores a new session for user and issues its first token pair.
func (s *AuthService) createSession(ctx context.Context, user *domain.User) (*AuthResult, error) {
	sessionID := uuid.New().String()
	refreshToken, jti, refreshExp, err := s.tokens.IssueRefresh(sessionID, user.ID)
	if err != nil {
		return nil, err
	}
	res, err := s.access(sessionID, user)
	if err != nil {
		return nil, err
	}
	sess := &domain.Session{
		ID:         sessionID,
		UserID:     user.ID,
		ExpiresAt:  refreshExp,
		RefreshJti: jti,
		CreatedAt:  s.now(),
	}
	if err := s.sessions.Create(ctx, sess); err != nil {
		return nil, err
	}
	res.RefreshToken = refreshToken
	return res, nil
}

func (s *AuthService) access(sessionID string, user *domain.User) (*AuthResult, error) {
	token, exp, err := s.tokens.IssueAccess(sessionID, user.ID, user.Email)
	if err != nil {
		return nil, err
	}
	return &AuthResult{
		AccessToken: token,
		ExpiresAt:   exp,
		ExpiresIn:   int64(exp.Sub(s.now()).Round(time.Second) / time.Second),
		SessionID:   sessionID,
		User:        user,
	}, nil
}

func normalizeEmail(email string) string {
	return strings.TrimSpace(strings.ToLower(email))
}

var simpleEmail = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

func validateEmail(email string) error {
	if email == "" {
		return &ValidationError{Message: "Email is required"}
	}
	if !simpleEmail.MatchString(email) {
		return &ValidationError{Message: "Unable to validate email address: invalid format"}
	}
	return nil
}

const minPasswordLength = 6

func validatePassword(password string) error {
	if len(password) < minPasswordLength {
		return &ValidationError{Message: fmt.Sprintf("Password should be at least %d characters.", minPasswordLength)}
	}
	if strings.TrimSpace(password) == "" {
		return &ValidationError{Message: "Password cannot be blank"}
	}
	return nil
}
