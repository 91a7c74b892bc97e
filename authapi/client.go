// Package authapi is the HTTP transport for the FIDS auth and user
// services. It owns status-to-error mapping and bounded retries; the
// session layer above it never inspects HTTP responses.
package authapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pcd/fids-session/users"
)

const (
	defaultTimeout = 15 * time.Second

	// maxResponseSize bounds response bodies to keep a misbehaving backend
	// from exhausting memory.
	maxResponseSize = 1 << 20

	profileRetryBaseDelay = 1 * time.Second
	profileRetryMaxDelay  = 3 * time.Second
	profileMaxRetries     = 2
)

// sharedHTTPClient pools connections across all Client instances.
var sharedHTTPClient = &http.Client{
	Transport: &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	},
	Timeout: defaultTimeout,
}

// Client talks to the auth and user services.
type Client struct {
	authBaseURL string
	userBaseURL string
	httpClient  *http.Client

	profileRetries   int
	profileBaseDelay time.Duration
	profileMaxDelay  time.Duration
	sleepFunc        func(context.Context, time.Duration) error
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the pooled default client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithTimeout bounds each request to the given duration. The pooled
// transport is still shared; only the per-request deadline changes.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient = &http.Client{
			Transport: sharedHTTPClient.Transport,
			Timeout:   timeout,
		}
	}
}

// WithProfileRetryPolicy overrides the profile-fetch retry policy
// (primarily for tests).
func WithProfileRetryPolicy(maxRetries int, baseDelay, maxDelay time.Duration) ClientOption {
	return func(c *Client) {
		c.profileRetries = maxRetries
		c.profileBaseDelay = baseDelay
		c.profileMaxDelay = maxDelay
	}
}

// NewClient creates a transport client for the given service base URLs.
func NewClient(authBaseURL, userBaseURL string, options ...ClientOption) *Client {
	c := &Client{
		authBaseURL:      strings.TrimRight(authBaseURL, "/"),
		userBaseURL:      strings.TrimRight(userBaseURL, "/"),
		httpClient:       sharedHTTPClient,
		profileRetries:   profileMaxRetries,
		profileBaseDelay: profileRetryBaseDelay,
		profileMaxDelay:  profileRetryMaxDelay,
		sleepFunc:        sleepContext,
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

// Authenticate exchanges credentials for a token pair.
func (c *Client) Authenticate(ctx context.Context, email, password string) (*AuthResponse, error) {
	var response AuthResponse
	err := c.postJSON(ctx, c.authBaseURL+"/authenticate", map[string]string{
		"email":    email,
		"password": password,
	}, "", &response)
	if err != nil {
		return nil, fmt.Errorf("authenticate: %w", err)
	}
	return &response, nil
}

// RefreshToken exchanges a refresh token for a new token pair. The refresh
// token travels as a bearer credential, matching the backend contract.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (*AuthResponse, error) {
	var response AuthResponse
	err := c.postJSON(ctx, c.authBaseURL+"/refresh-token", struct{}{}, refreshToken, &response)
	if err != nil {
		return nil, fmt.Errorf("refresh token: %w", err)
	}
	return &response, nil
}

// Register creates a new account. The backend responds with a plain
// confirmation; only the error path matters here.
func (c *Client) Register(ctx context.Context, request RegisterRequest) error {
	if err := c.postJSON(ctx, c.authBaseURL+"/register", request, "", nil); err != nil {
		return fmt.Errorf("register: %w", err)
	}
	return nil
}

// Activate redeems an activation code or token.
func (c *Client) Activate(ctx context.Context, code string) error {
	activateURL := c.authBaseURL + "/activate?token=" + url.QueryEscape(code)
	if err := c.do(ctx, http.MethodGet, activateURL, nil, "", nil); err != nil {
		return fmt.Errorf("activate: %w", err)
	}
	return nil
}

// ResendActivation requests a fresh activation code for an email address.
func (c *Client) ResendActivation(ctx context.Context, email string) error {
	if err := c.postJSON(ctx, c.authBaseURL+"/resend-activation", map[string]string{"email": email}, "", nil); err != nil {
		return fmt.Errorf("resend activation: %w", err)
	}
	return nil
}

// ForgotPassword triggers the reset-email flow.
func (c *Client) ForgotPassword(ctx context.Context, email string) error {
	if err := c.postJSON(ctx, c.authBaseURL+"/forgot-password", map[string]string{"email": email}, "", nil); err != nil {
		return fmt.Errorf("forgot password: %w", err)
	}
	return nil
}

// ResetPassword redeems a reset token for a new password.
func (c *Client) ResetPassword(ctx context.Context, request ResetPasswordRequest) error {
	if err := c.postJSON(ctx, c.authBaseURL+"/reset-password", request, "", nil); err != nil {
		return fmt.Errorf("reset password: %w", err)
	}
	return nil
}

// GetProfile fetches a user profile, retrying transient failures with an
// increasing capped delay.
func (c *Client) GetProfile(ctx context.Context, accessToken, userID string) (*users.User, error) {
	if userID == "" {
		return nil, fmt.Errorf("get profile: %w", ErrBadRequest)
	}

	var lastErr error
	for attempt := 0; attempt <= c.profileRetries; attempt++ {
		if attempt > 0 {
			delay := c.profileBaseDelay * time.Duration(attempt)
			if delay > c.profileMaxDelay {
				delay = c.profileMaxDelay
			}
			log.Warn().Int("attempt", attempt).Err(lastErr).Msg("retrying profile fetch")
			if err := c.sleepFunc(ctx, delay); err != nil {
				return nil, err
			}
		}

		var user users.User
		lastErr = c.do(ctx, http.MethodGet, c.userBaseURL+"/"+url.PathEscape(userID), nil, accessToken, &user)
		if lastErr == nil {
			return &user, nil
		}
		if !Retryable(lastErr) {
			break
		}
	}
	return nil, fmt.Errorf("get profile: %w", lastErr)
}

func (c *Client) postJSON(ctx context.Context, requestURL string, body any, bearer string, out any) error {
	return c.do(ctx, http.MethodPost, requestURL, body, bearer, out)
}

func (c *Client) do(ctx context.Context, method, requestURL string, body any, bearer string, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, method, requestURL, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		request.Header.Set("Authorization", "Bearer "+bearer)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", ErrNetworkUnavailable, err)
	}
	defer response.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(response.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("%w: reading body: %v", ErrNetworkUnavailable, err)
	}

	if response.StatusCode < 200 || response.StatusCode > 299 {
		return mapStatus(response.StatusCode, raw)
	}

	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("%w: decoding body: %v", ErrUnexpectedResponse, err)
		}
	}
	return nil
}

// mapStatus converts an HTTP failure into the sentinel taxonomy, carrying
// the backend's message for display. 403 bodies are sniffed because the
// backend multiplexes several account states onto that status.
func mapStatus(status int, raw []byte) error {
	var body errorBody
	_ = json.Unmarshal(raw, &body)
	message := body.Error
	if message == "" && len(body.Errors) > 0 {
		message = strings.Join(body.Errors, ", ")
	}

	switch {
	case status == http.StatusUnauthorized:
		return wrapMessage(ErrInvalidCredentials, message)
	case status == http.StatusForbidden:
		return wrapMessage(forbiddenVariant(message), message)
	case status == http.StatusBadRequest:
		return wrapMessage(ErrBadRequest, message)
	case status >= 500:
		return wrapMessage(ErrServerError, message)
	default:
		return fmt.Errorf("%w: status %d", ErrUnexpectedResponse, status)
	}
}

func forbiddenVariant(message string) error {
	lowered := strings.ToLower(message)
	switch {
	case strings.Contains(lowered, "invalid refresh token"):
		return ErrInvalidRefreshToken
	case strings.Contains(lowered, "user not found"):
		return ErrUserNotFound
	case strings.Contains(lowered, "not activated"):
		return ErrAccountNotActivated
	case strings.Contains(lowered, "locked"):
		return ErrAccountLocked
	case strings.Contains(lowered, "not verified"), strings.Contains(lowered, "unverified"):
		return ErrEmailNotVerified
	default:
		return ErrForbidden
	}
}

func wrapMessage(sentinel error, message string) error {
	if message == "" {
		return sentinel
	}
	return fmt.Errorf("%w: %s", sentinel, message)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
