// Package session owns the FIDS authentication lifecycle: token
// acquisition, proactive refresh, auto-login replay, and logout. It is the
// only writer of session keys in the persisted store; consumers read
// through its accessors and subscribe for user changes.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pcd/fids-session/authapi"
	"github.com/pcd/fids-session/broadcast"
	"github.com/pcd/fids-session/storage"
	"github.com/pcd/fids-session/token"
	"github.com/pcd/fids-session/users"
)

// Persisted store keys. Only the Manager writes these.
const (
	keyToken           = "token"
	keyRefreshToken    = "refreshToken"
	keyTokenExpiration = "tokenExpiration"
	keyUserID          = "userId"
	keyRoles           = "roles"
	keyUserData        = "userData"
)

const (
	defaultLeadTime   = 5 * time.Minute
	defaultMaxRetries = 2
	defaultRetryBase  = 1 * time.Second
	defaultRetryCap   = 5 * time.Second
	fallbackRole      = users.RoleUser
)

// Timer is the stoppable handle returned by the scheduling function.
type Timer interface {
	Stop() bool
}

// flight is one in-progress refresh shared by concurrent callers. err is
// written before done is closed.
type flight struct {
	done chan struct{}
	err  error
}

// Manager is the session state machine. All exported methods are safe for
// concurrent use.
type Manager struct {
	api    API
	store  storage.Store
	sink   NotificationSink
	router Router
	bcast  *broadcast.Notifier

	leadTime    time.Duration
	maxRetries  int
	retryBase   time.Duration
	retryCap    time.Duration
	defaultRole string

	nowFunc   func() time.Time
	afterFunc func(time.Duration, func()) Timer
	sleepFunc func(context.Context, time.Duration) error

	mu          sync.Mutex
	state       State
	accessToken string
	expiresAt   time.Time
	userID      string
	roles       []string
	current     *users.User
	timer       Timer
	epoch       int
	inflight    *flight

	subMu       sync.Mutex
	subscribers map[int]chan *users.User
	nextSubID   int
	closed      bool

	watchCancel context.CancelFunc
}

// Option configures a Manager.
type Option func(*Manager)

// WithNotificationSink routes user-facing messages to sink.
func WithNotificationSink(sink NotificationSink) Option {
	return func(m *Manager) { m.sink = sink }
}

// WithRouter sets the navigation collaborator invoked on logout.
func WithRouter(router Router) Option {
	return func(m *Manager) { m.router = router }
}

// WithBroadcast enables the cross-process logout signal.
func WithBroadcast(notifier *broadcast.Notifier) Option {
	return func(m *Manager) { m.bcast = notifier }
}

// WithLeadTime sets how long before expiry the proactive refresh fires.
func WithLeadTime(leadTime time.Duration) Option {
	return func(m *Manager) { m.leadTime = leadTime }
}

// WithRetryPolicy bounds the refresh retry loop: up to maxRetries retries
// after the initial attempt, with delays growing from baseDelay and capped
// at maxDelay.
func WithRetryPolicy(maxRetries int, baseDelay, maxDelay time.Duration) Option {
	return func(m *Manager) {
		m.maxRetries = maxRetries
		m.retryBase = baseDelay
		m.retryCap = maxDelay
	}
}

// WithDefaultRole overrides the role assigned when no role source resolves.
func WithDefaultRole(role string) Option {
	return func(m *Manager) { m.defaultRole = role }
}

// WithNowFunc sets the clock (primarily for testing).
func WithNowFunc(nowFunc func() time.Time) Option {
	return func(m *Manager) { m.nowFunc = nowFunc }
}

// WithAfterFunc sets the timer factory (primarily for testing).
func WithAfterFunc(afterFunc func(time.Duration, func()) Timer) Option {
	return func(m *Manager) { m.afterFunc = afterFunc }
}

// NewManager creates a session manager over the given transport and store.
// When a broadcast notifier is configured, logout markers from other
// processes are observed until Close.
func NewManager(api API, store storage.Store, options ...Option) *Manager {
	m := &Manager{
		api:         api,
		store:       store,
		sink:        noopSink{},
		router:      noopRouter{},
		leadTime:    defaultLeadTime,
		maxRetries:  defaultMaxRetries,
		retryBase:   defaultRetryBase,
		retryCap:    defaultRetryCap,
		defaultRole: fallbackRole,
		nowFunc:     time.Now,
		sleepFunc:   sleepContext,
		subscribers: make(map[int]chan *users.User),
	}
	m.afterFunc = func(d time.Duration, f func()) Timer {
		return time.AfterFunc(d, f)
	}
	for _, opt := range options {
		opt(m)
	}

	if m.bcast != nil {
		ctx, cancel := context.WithCancel(context.Background())
		m.watchCancel = cancel
		m.startWatch(ctx)
	}
	return m
}

// Login authenticates and establishes a session. A failed profile fetch
// does not fail the login: a fallback profile derived from the email is
// substituted instead.
func (m *Manager) Login(ctx context.Context, email, password string) (*users.User, error) {
	response, err := m.api.Authenticate(ctx, email, password)
	if err != nil {
		m.sink.Notify(NotifyError, "Login Failed", userMessage(err))
		return nil, fmt.Errorf("login: %w", err)
	}

	claims, err := m.validateResponse(response)
	if err != nil {
		m.sink.Notify(NotifyError, "Login Failed", userMessage(err))
		return nil, fmt.Errorf("login: %w", err)
	}

	m.mu.Lock()
	roles := m.resolveRolesLocked(response.Role, claims)
	userID := response.ResolvedUserID()
	if userID == "" {
		userID, _ = m.store.GetItem(keyUserID)
	}
	if err := m.applyAuthenticationLocked(response, claims, roles, userID); err != nil {
		m.mu.Unlock()
		return nil, fmt.Errorf("login: %w", err)
	}
	m.mu.Unlock()

	user, err := m.api.GetProfile(ctx, response.AccessToken, userID)
	if err != nil {
		log.Warn().Err(err).Msg("profile fetch failed, using fallback")
		user = users.Fallback(userID, email, roles)
	} else {
		user.Roles = roles
	}

	m.setCurrentUser(user)
	return user, nil
}

// Refresh exchanges the stored refresh token for a new token pair.
// Concurrent callers share a single in-flight exchange. Transient failures
// are retried with capped growing delays; exhaustion or a definitive
// failure forces logout.
func (m *Manager) Refresh(ctx context.Context) error {
	m.mu.Lock()
	if m.inflight != nil {
		shared := m.inflight
		m.mu.Unlock()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-shared.done:
		}
		return shared.err
	}

	refreshToken, _ := m.store.GetItem(keyRefreshToken)
	userID, _ := m.store.GetItem(keyUserID)
	storedRoles := m.storedRolesLocked()
	if refreshToken == "" || userID == "" || len(storedRoles) == 0 {
		m.mu.Unlock()
		log.Error().Msg("refresh requested without stored refresh context")
		m.forceLogout("Session Expired", "Session expired. Please log in again.")
		return ErrMissingRefreshContext
	}

	current := &flight{done: make(chan struct{})}
	m.inflight = current
	m.state = StateRefreshing
	epoch := m.epoch
	m.mu.Unlock()

	err := m.doRefresh(ctx, refreshToken, storedRoles, epoch)
	if err != nil {
		// Wrapped before being shared so waiters see the same error as
		// the initiating caller.
		err = fmt.Errorf("refresh: %w", err)
	}

	m.mu.Lock()
	current.err = err
	m.inflight = nil
	moot := m.epoch != epoch
	if err != nil && !moot {
		m.state = StateExpired
	}
	close(current.done)
	m.mu.Unlock()

	if err != nil && !moot {
		m.forceLogout("Session Expired", "Session expired. Please log in again.")
	}
	return err
}

func (m *Manager) doRefresh(ctx context.Context, refreshToken string, storedRoles []string, epoch int) error {
	var lastErr error
	for attempt := 0; attempt <= m.maxRetries; attempt++ {
		if attempt > 0 {
			delay := m.retryBase * time.Duration(attempt)
			if delay > m.retryCap {
				delay = m.retryCap
			}
			log.Warn().Int("attempt", attempt).Err(lastErr).Msg("retrying token refresh")
			if err := m.sleepFunc(ctx, delay); err != nil {
				return err
			}
		}

		response, err := m.api.RefreshToken(ctx, refreshToken)
		if err != nil {
			lastErr = err
			if !authapi.Retryable(err) {
				return err
			}
			continue
		}

		claims, err := m.validateResponse(response)
		if err != nil {
			// Decode and format errors are terminal, never retried.
			return err
		}

		m.mu.Lock()
		if m.epoch != epoch {
			// Logged out while the exchange was in flight; drop the result.
			m.mu.Unlock()
			return nil
		}
		roles := m.resolveRolesLocked(response.Role, claims)
		userID := response.ResolvedUserID()
		if userID == "" {
			userID = m.userID
		}
		if err := m.applyAuthenticationLocked(response, claims, roles, userID); err != nil {
			m.mu.Unlock()
			return err
		}
		m.mu.Unlock()

		m.refreshCachedProfile(ctx, response.AccessToken, userID, roles)
		return nil
	}
	return lastErr
}

// refreshCachedProfile re-attaches roles to the cached profile after a
// refresh, falling back to a fresh fetch when the cache is empty. Failures
// here are logged and the existing cached profile is kept.
func (m *Manager) refreshCachedProfile(ctx context.Context, accessToken, userID string, roles []string) {
	if raw, ok := m.store.GetItem(keyUserData); ok {
		var user users.User
		if err := json.Unmarshal([]byte(raw), &user); err == nil {
			user.Roles = roles
			m.setCurrentUser(&user)
			return
		}
		log.Warn().Msg("stored profile unreadable, refetching")
	}

	user, err := m.api.GetProfile(ctx, accessToken, userID)
	if err != nil {
		log.Error().Err(err).Msg("profile fetch after refresh failed")
		return
	}
	user.Roles = roles
	m.setCurrentUser(user)
}

// AutoLogin replays the persisted session on process start. Stale or
// inconsistent data triggers a refresh instead of being trusted; missing or
// corrupt data leaves the manager anonymous.
func (m *Manager) AutoLogin(ctx context.Context) error {
	rawUser, okUser := m.store.GetItem(keyUserData)
	expiration, okExp := m.store.GetItem(keyTokenExpiration)
	accessToken, okToken := m.store.GetItem(keyToken)
	rawRoles, okRoles := m.store.GetItem(keyRoles)
	userID, okID := m.store.GetItem(keyUserID)
	if !okUser || !okExp || !okToken || !okRoles || !okID {
		m.publish(nil)
		return nil
	}

	var user users.User
	var roles []string
	expiresAt, timeErr := time.Parse(time.RFC3339, expiration)
	if json.Unmarshal([]byte(rawUser), &user) != nil ||
		json.Unmarshal([]byte(rawRoles), &roles) != nil ||
		timeErr != nil {
		log.Warn().Msg("persisted session unreadable, clearing")
		m.clearSession()
		m.publish(nil)
		return nil
	}
	user.Roles = roles

	if !expiresAt.After(m.nowFunc()) || token.IsExpired(accessToken) {
		return m.Refresh(ctx)
	}

	claims, err := token.Decode(accessToken)
	if err != nil || claims.Subject != user.Email {
		// The token does not belong to the stored profile. Do not trust it.
		return m.Refresh(ctx)
	}

	m.mu.Lock()
	m.accessToken = accessToken
	m.expiresAt = claims.ExpiresAt
	m.userID = userID
	m.roles = roles
	m.current = &user
	m.state = StateAuthenticated
	m.scheduleRefreshLocked(claims.ExpiresAt)
	m.mu.Unlock()

	m.publish(&user)
	return nil
}

// Logout clears the session everywhere: the persisted store, the pending
// refresh timer, other processes sharing the store, and subscribers.
func (m *Manager) Logout() {
	if m.bcast != nil {
		if err := m.bcast.Publish(); err != nil {
			log.Warn().Err(err).Msg("logout broadcast failed")
		}
	}
	m.clearSession()
	m.publish(nil)
	m.sink.Notify(NotifyInfo, "Logged Out", "You have been logged out")
	m.router.Navigate("/")
}

// forceLogout is the terminal-refresh-failure path: same teardown as
// Logout, surfaced as an error notification.
func (m *Manager) forceLogout(title, message string) {
	if m.bcast != nil {
		if err := m.bcast.Publish(); err != nil {
			log.Warn().Err(err).Msg("logout broadcast failed")
		}
	}
	m.clearSession()
	m.publish(nil)
	m.sink.Notify(NotifyError, title, message)
	m.router.Navigate("/")
}

// handleRemoteLogout reacts to a logout marker written by another process:
// local teardown only, no re-broadcast.
func (m *Manager) handleRemoteLogout() {
	log.Info().Msg("logout observed from another session")
	m.clearSession()
	m.publish(nil)
	m.sink.Notify(NotifyInfo, "Logged Out", "You have been logged out in another session")
	m.router.Navigate("/")
}

func (m *Manager) clearSession() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.epoch++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	if err := m.store.Clear(); err != nil {
		log.Error().Err(err).Msg("clearing session store failed")
	}
	m.accessToken = ""
	m.expiresAt = time.Time{}
	m.userID = ""
	m.roles = nil
	m.current = nil
	m.state = StateAnonymous
}

// IsAuthenticated reports whether a non-expired token is held. It is a
// pure local check; no network call is made.
func (m *Manager) IsAuthenticated() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.accessToken == "" {
		return false
	}
	claims, err := token.Decode(m.accessToken)
	if err != nil {
		return false
	}
	return m.nowFunc().Before(claims.ExpiresAt)
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// AccessToken returns the current token and its expiry, or
// ErrNotAuthenticated when no session is held.
func (m *Manager) AccessToken() (string, time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.accessToken == "" {
		return "", time.Time{}, ErrNotAuthenticated
	}
	return m.accessToken, m.expiresAt, nil
}

// CurrentUser returns the cached profile, or nil when anonymous.
func (m *Manager) CurrentUser() *users.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Roles returns the session roles.
func (m *Manager) Roles() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.roles...)
}

// HasRole reports whether the current user carries the given role.
func (m *Manager) HasRole(role string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current.HasRole(role)
}

// UpdateCurrentUser replaces the cached profile, re-attaching the stored
// roles when the caller supplies none.
func (m *Manager) UpdateCurrentUser(user *users.User) {
	if user == nil {
		log.Error().Msg("refusing to update current user to nil")
		return
	}
	if len(user.Roles) == 0 {
		m.mu.Lock()
		user.Roles = append([]string(nil), m.roles...)
		m.mu.Unlock()
	}
	m.setCurrentUser(user)
}

// Subscribe registers for user-change notifications. The channel receives
// the current user (nil on logout) on every transition. The returned
// function unsubscribes.
func (m *Manager) Subscribe() (<-chan *users.User, func()) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	id := m.nextSubID
	m.nextSubID++
	ch := make(chan *users.User, 8)
	if !m.closed {
		m.subscribers[id] = ch
	} else {
		close(ch)
	}
	return ch, func() {
		m.subMu.Lock()
		defer m.subMu.Unlock()
		if sub, ok := m.subscribers[id]; ok {
			delete(m.subscribers, id)
			close(sub)
		}
	}
}

// Close stops the refresh timer, the broadcast watcher, and subscriber
// fan-out. The manager must not be used afterwards.
func (m *Manager) Close() {
	if m.watchCancel != nil {
		m.watchCancel()
	}
	m.mu.Lock()
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.mu.Unlock()

	m.subMu.Lock()
	defer m.subMu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	for id, sub := range m.subscribers {
		delete(m.subscribers, id)
		close(sub)
	}
}

// validateResponse enforces the auth-response invariants shared by login
// and refresh: both tokens present, access token decodable, not yet
// expired.
func (m *Manager) validateResponse(response *authapi.AuthResponse) (*token.Claims, error) {
	if response == nil || response.AccessToken == "" || response.RefreshToken == "" {
		return nil, ErrInvalidResponse
	}
	claims, err := token.Decode(response.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if !m.nowFunc().Before(claims.ExpiresAt) {
		return nil, ErrExpiredTokenReceived
	}
	return claims, nil
}

func (m *Manager) resolveRolesLocked(responseRole string, claims *token.Claims) []string {
	stored := m.storedRolesLocked()
	roles := token.ExtractRoles(responseRole, claims, stored, m.defaultRole)
	if responseRole == "" && len(claims.Roles) == 0 && len(claims.Authorities) == 0 &&
		claims.Role == "" && len(stored) == 0 {
		log.Warn().Str("role", m.defaultRole).Msg("no role source resolved, using default")
	}
	return roles
}

func (m *Manager) storedRolesLocked() []string {
	raw, ok := m.store.GetItem(keyRoles)
	if !ok {
		return nil
	}
	var roles []string
	if err := json.Unmarshal([]byte(raw), &roles); err != nil {
		return nil
	}
	return roles
}

// applyAuthenticationLocked persists the token pair and derived fields,
// moves to Authenticated, and replaces the pending refresh timer.
func (m *Manager) applyAuthenticationLocked(response *authapi.AuthResponse, claims *token.Claims, roles []string, userID string) error {
	encodedRoles, err := json.Marshal(roles)
	if err != nil {
		return fmt.Errorf("encode roles: %w", err)
	}
	if err := m.store.SetItem(keyToken, response.AccessToken); err != nil {
		return err
	}
	if err := m.store.SetItem(keyRefreshToken, response.RefreshToken); err != nil {
		return err
	}
	if err := m.store.SetItem(keyTokenExpiration, claims.ExpiresAt.Format(time.RFC3339)); err != nil {
		return err
	}
	if err := m.store.SetItem(keyUserID, userID); err != nil {
		return err
	}
	if err := m.store.SetItem(keyRoles, string(encodedRoles)); err != nil {
		return err
	}

	// A new token pair supersedes any refresh still in flight; its result
	// must not overwrite this session when it lands.
	m.epoch++
	m.accessToken = response.AccessToken
	m.expiresAt = claims.ExpiresAt
	m.userID = userID
	m.roles = roles
	m.state = StateAuthenticated
	m.scheduleRefreshLocked(claims.ExpiresAt)
	return nil
}

// scheduleRefreshLocked replaces the pending refresh timer with one firing
// leadTime before expiry. Timers never stack: the previous one is always
// stopped first.
func (m *Manager) scheduleRefreshLocked(expiresAt time.Time) {
	if m.timer != nil {
		m.timer.Stop()
	}
	fireIn := expiresAt.Sub(m.nowFunc()) - m.leadTime
	if fireIn < 0 {
		fireIn = 0
	}
	m.timer = m.afterFunc(fireIn, func() {
		if err := m.Refresh(context.Background()); err != nil {
			log.Error().Err(err).Msg("scheduled refresh failed")
		}
	})
}

func (m *Manager) setCurrentUser(user *users.User) {
	encoded, err := json.Marshal(user)
	if err != nil {
		log.Error().Err(err).Msg("encoding profile for storage failed")
	} else if err := m.store.SetItem(keyUserData, string(encoded)); err != nil {
		log.Error().Err(err).Msg("persisting profile failed")
	}
	m.mu.Lock()
	m.current = user
	m.mu.Unlock()
	m.publish(user)
}

func (m *Manager) publish(user *users.User) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for _, sub := range m.subscribers {
		select {
		case sub <- user:
		default:
			log.Warn().Msg("dropping user change for slow subscriber")
		}
	}
}

func (m *Manager) startWatch(ctx context.Context) {
	events, err := m.bcast.Watch(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("logout broadcast watch unavailable")
		return
	}
	go func() {
		for range events {
			m.handleRemoteLogout()
		}
	}()
}

// userMessage renders an error for the notification sink, special-casing
// connectivity so the user can tell a network problem from a rejection.
func userMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, authapi.ErrNetworkUnavailable):
		return "Cannot connect to server. Check your network."
	default:
		return err.Error()
	}
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
