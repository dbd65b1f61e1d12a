package security

import (
	"crypto"
	"errors"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken is returned when a token is malformed, expired, or signed by another issuer.
	ErrInvalidToken = errors.New("invalid token")
)

const (
	useAccess  = "access"
	useRefresh = "refresh"
)

// AccessClaims are the claims of an access token. Subject is the auth user id.
type AccessClaims struct {
	jwt.RegisteredClaims
	SessionID string `json:"session_id"`
	Email     string `json:"email"`
	Use       string `json:"token_use"`
}

// RefreshClaims are the claims of a refresh token. ID (jti) binds the token to its session for rotation.
type RefreshClaims struct {
	jwt.RegisteredClaims
	SessionID string `json:"session_id"`
	Use       string `json:"token_use"`
}

// TokenProvider issues and validates access and refresh JWTs (RS256 or ES256).
type TokenProvider struct {
	privateKey crypto.Signer
	publicKey  crypto.PublicKey
	issuer     string
	audience   string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewTokenProvider returns a TokenProvider signing with privateKey and validating with publicKey.
func NewTokenProvider(privateKey crypto.Signer, publicKey crypto.PublicKey, issuer, audience string, accessTTL, refreshTTL time.Duration) *TokenProvider {
	return &TokenProvider{
		privateKey: privateKey,
		publicKey:  publicKey,
		issuer:     issuer,
		audience:   audience,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// AccessTTL is the lifetime of issued access tokens.
func (p *TokenProvider) AccessTTL() time.Duration { return p.accessTTL }

// RefreshTTL is the lifetime of issued refresh tokens and of the sessions they belong to.
func (p *TokenProvider) RefreshTTL() time.Duration { return p.refreshTTL }

// IssueAccess issues an access token for the session.
func (p *TokenProvider) IssueAccess(sessionID, userID, email string) (token string, expiresAt time.Time, err error) {
	jti, err := NewOpaqueToken(16)
	if err != nil {
		return "", time.Time{}, err
	}
	now := p.now()
	expiresAt = now.Add(p.accessTTL)
	token, err = p.sign(AccessClaims{
		RegisteredClaims: p.registered(jti, userID, now, expiresAt),
		SessionID:        sessionID,
		Email:            email,
		Use:              useAccess,
	})
	return token, expiresAt, err
}

// IssueRefresh issues a refresh token and returns its jti, which the caller stores on the session.
func (p *TokenProvider) IssueRefresh(sessionID, userID string) (token, jti string, expiresAt time.Time, err error) {
	jti, err = NewOpaqueToken(16)
	if err != nil {
		return "", "", time.Time{}, err
	}
	token, expiresAt, err = p.ReissueRefresh(sessionID, userID, jti)
	return token, jti, expiresAt, err
}

// ReissueRefresh issues a new refresh token under an existing jti, so it is exchangeable exactly
// when the token it stands in for is.
func (p *TokenProvider) ReissueRefresh(sessionID, userID, jti string) (token string, expiresAt time.Time, err error) {
	if jti == "" {
		return "", time.Time{}, ErrInvalidToken
	}
	now := p.now()
	expiresAt = now.Add(p.refreshTTL)
	token, err = p.sign(RefreshClaims{
		RegisteredClaims: p.registered(jti, userID, now, expiresAt),
		SessionID:        sessionID,
		Use:              useRefresh,
	})
	return token, expiresAt, err
}

func (p *TokenProvider) registered(jti, subject string, now, exp time.Time) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		ID:        jti,
		Subject:   subject,
		Issuer:    p.issuer,
		Audience:  jwt.ClaimStrings{p.audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
}

func (p *TokenProvider) sign(claims jwt.Claims) (string, error) {
	method := jwt.GetSigningMethod(KeyAlg(p.privateKey.Public()))
	if method == nil {
		return "", ErrInvalidToken
	}
	return jwt.NewWithClaims(method, claims).SignedString(p.privateKey)
}

// ValidateAccess checks signature, expiry, issuer and audience of an access token.
func (p *TokenProvider) ValidateAccess(tokenString string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := p.parse(tokenString, claims); err != nil {
		return nil, err
	}
	if claims.Use != useAccess || claims.SessionID == "" || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// ValidateRefresh checks signature, expiry, issuer and audience of a refresh token.
func (p *TokenProvider) ValidateRefresh(tokenString string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := p.parse(tokenString, claims); err != nil {
		return nil, err
	}
	if claims.Use != useRefresh || claims.SessionID == "" || claims.ID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (p *TokenProvider) parse(tokenString string, claims jwt.Claims) error {
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		switch token.Method.(type) {
		case *jwt.SigningMethodRSA, *jwt.SigningMethodECDSA:
			return p.publicKey, nil
		}
		return nil, ErrInvalidToken
	}, jwt.WithTimeFunc(p.now))
	if err != nil || !token.Valid {
		return ErrInvalidToken
	}
	iss, _ := claims.GetIssuer()
	aud, _ := claims.GetAudience()
	if iss != p.issuer || !slices.Contains([]string(aud), p.audience) {
		return ErrInvalidToken
	}
	return nil
}
