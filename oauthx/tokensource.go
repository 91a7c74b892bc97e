// Package oauthx adapts a session manager to the golang.org/x/oauth2
// TokenSource contract, so generated API clients can authenticate through
// the live session without knowing about it.
package oauthx

import (
	"time"

	"golang.org/x/oauth2"

	"github.com/pcd/fids-session/session"
)

type managerSource struct {
	manager *session.Manager
}

// TokenSource exposes the manager's current access token as an
// oauth2.TokenSource. Token returns session.ErrNotAuthenticated when no
// session is held; refresh remains the manager's job, so the returned
// token is never renewed here.
func TokenSource(manager *session.Manager) oauth2.TokenSource {
	return &managerSource{manager: manager}
}

func (s *managerSource) Token() (*oauth2.Token, error) {
	accessToken, expiry, err := s.manager.AccessToken()
	if err != nil {
		return nil, err
	}
	// Callers treat a returned token as usable; a stale one is an error,
	// not a token.
	if !expiry.After(time.Now()) {
		return nil, session.ErrNotAuthenticated
	}
	return &oauth2.Token{
		AccessToken: accessToken,
		TokenType:   "Bearer",
		Expiry:      expiry,
	}, nil
}
