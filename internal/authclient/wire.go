package authclient

import (
	"errors"
	"time"

	"golang.org/x/oauth2"

	"m-taji/platform/internal/session"
)

type wireUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type tokenResponse struct {
	AccessToken  string   `json:"access_token"`
	TokenType    string   `json:"token_type"`
	ExpiresIn    int64    `json:"expires_in"`
	ExpiresAt    int64    `json:"expires_at"`
	RefreshToken string   `json:"refresh_token"`
	User         wireUser `json:"user"`
}

func (t *tokenResponse) session(now time.Time) *session.Session {
	s := &session.Session{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		User:         session.AuthUser{ID: t.User.ID, Email: t.User.Email},
	}
	switch {
	case t.ExpiresAt > 0:
		s.ExpiresAt = time.Unix(t.ExpiresAt, 0)
	case t.ExpiresIn > 0:
		s.ExpiresAt = now.Add(time.Duration(t.ExpiresIn) * time.Second)
	default:
		s.ExpiresAt = now.Add(time.Hour)
	}
	return s
}

// sessionFromToken reads the session, including the "user" member, from a token endpoint response.
func sessionFromToken(tok *oauth2.Token) (*session.Session, error) {
	if tok == nil || tok.AccessToken == "" {
		return nil, errors.New("authclient: token response without access_token")
	}
	s := &session.Session{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
	}
	if s.ExpiresAt.IsZero() {
		s.ExpiresAt = time.Now().Add(time.Hour)
	}
	if u, ok := tok.Extra("user").(map[string]any); ok {
		s.User.ID, _ = u["id"].(string)
		s.User.Email, _ = u["email"].(string)
	}
	return s, nil
}
