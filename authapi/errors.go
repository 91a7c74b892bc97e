package authapi

import "errors"

// Sentinel errors for transport failures. Raw transport and HTTP errors are
// mapped onto these at the client boundary; callers classify with errors.Is
// and never see net/http internals.
var (
	// ErrNetworkUnavailable indicates the backend could not be reached at all.
	ErrNetworkUnavailable = errors.New("cannot connect to server")

	// ErrInvalidCredentials indicates the backend rejected the credentials (401).
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrInvalidRefreshToken indicates the backend no longer accepts the
	// stored refresh token (403 with a matching message).
	ErrInvalidRefreshToken = errors.New("invalid refresh token")

	// ErrUserNotFound indicates the backend no longer knows the account (403).
	ErrUserNotFound = errors.New("user account not found")

	// ErrAccountNotActivated indicates the account has not been activated (403).
	ErrAccountNotActivated = errors.New("account not activated")

	// ErrAccountLocked indicates the account is locked (403).
	ErrAccountLocked = errors.New("account locked")

	// ErrEmailNotVerified indicates the account email is unverified (403).
	ErrEmailNotVerified = errors.New("email not verified")

	// ErrForbidden is the generic 403 mapping when no message matches.
	ErrForbidden = errors.New("access denied")

	// ErrBadRequest indicates the backend rejected the request body (400).
	ErrBadRequest = errors.New("bad request")

	// ErrServerError indicates a 5xx response.
	ErrServerError = errors.New("server error")

	// ErrUnexpectedResponse indicates any other non-success status.
	ErrUnexpectedResponse = errors.New("unexpected response")
)

// Retryable reports whether an error is worth retrying with backoff.
// Only connectivity and server-side failures qualify; everything else is a
// definitive answer from the backend.
func Retryable(err error) bool {
	return errors.Is(err, ErrNetworkUnavailable) || errors.Is(err, ErrServerError)
}
