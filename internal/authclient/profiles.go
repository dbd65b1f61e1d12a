package authclient

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"m-taji/platform/internal/session"
)

// Profiles reads and inserts profile records with the signed-in user's token.
type Profiles struct {
	c *Client
}

var (
	_ session.ProfileStore  = (*Profiles)(nil)
	_ session.ProfileWriter = (*Profiles)(nil)
)

// Profiles returns the profile store client sharing c's session.
func (c *Client) Profiles() *Profiles { return &Profiles{c: c} }

var errSignedOut = errors.New("authclient: not signed in")

func (p *Profiles) token(ctx context.Context) (string, error) {
	s, err := p.c.GetSession(ctx)
	if err != nil {
		return "", err
	}
	if s == nil {
		return "", errSignedOut
	}
	return s.AccessToken, nil
}

// GetProfileByID returns session.ErrProfileNotFound when the backend has no row for id.
func (p *Profiles) GetProfileByID(ctx context.Context, id string) (*session.User, error) {
	tok, err := p.token(ctx)
	if err != nil {
		return nil, err
	}
	var u session.User
	if err := p.c.do(ctx, http.MethodGet, "/rest/v1/profiles/"+url.PathEscape(id), tok, nil, &u); err != nil {
		if IsStatus(err, http.StatusNotFound) {
			return nil, session.ErrProfileNotFound
		}
		return nil, err
	}
	return &u, nil
}

// InsertProfile creates the profile; ErrProfileConflict when it already exists.
func (p *Profiles) InsertProfile(ctx context.Context, u session.User) (*session.User, error) {
	tok, err := p.token(ctx)
	if err != nil {
		return nil, err
	}
	var out session.User
	if err := p.c.do(ctx, http.MethodPost, "/rest/v1/profiles", tok, u, &out); err != nil {
		if IsStatus(err, http.StatusConflict) {
			return nil, ErrProfileConflict
		}
		return nil, err
	}
	return &out, nil
}
