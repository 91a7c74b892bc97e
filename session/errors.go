package session

import "errors"

// Sentinel errors for session lifecycle failures. Transport failures keep
// their authapi identity and are wrapped, so callers can classify either
// layer with errors.Is.
var (
	// ErrInvalidResponse indicates an auth response without both tokens, or
	// with an access token that cannot be decoded.
	ErrInvalidResponse = errors.New("invalid authentication response")

	// ErrExpiredTokenReceived indicates the backend issued a token that was
	// already expired on receipt.
	ErrExpiredTokenReceived = errors.New("received expired access token")

	// ErrMissingRefreshContext indicates the persisted refresh token, user
	// id, or roles are gone. The session cannot be refreshed and is logged
	// out.
	ErrMissingRefreshContext = errors.New("missing required data for token refresh")

	// ErrNotAuthenticated indicates no valid session is present.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrClosed indicates the manager has been closed.
	ErrClosed = errors.New("session manager closed")
)
