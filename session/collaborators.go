package session

import (
	"context"

	"github.com/pcd/fids-session/authapi"
	"github.com/pcd/fids-session/users"
)

// API is the transport contract the manager consumes. *authapi.Client
// satisfies it; tests use apifakes.FakeAPI.
type API interface {
	Authenticate(ctx context.Context, email, password string) (*authapi.AuthResponse, error)
	RefreshToken(ctx context.Context, refreshToken string) (*authapi.AuthResponse, error)
	GetProfile(ctx context.Context, accessToken, userID string) (*users.User, error)
}

// NotificationKind classifies user-facing notifications.
type NotificationKind string

const (
	NotifySuccess NotificationKind = "success"
	NotifyError   NotificationKind = "error"
	NotifyInfo    NotificationKind = "info"
)

// NotificationSink receives fire-and-forget user-facing messages.
type NotificationSink interface {
	Notify(kind NotificationKind, title, message string)
}

// Router is asked to navigate away from protected surfaces on logout and
// forced expiry.
type Router interface {
	Navigate(path string)
}

type noopSink struct{}

func (noopSink) Notify(NotificationKind, string, string) {}

type noopRouter struct{}

func (noopRouter) Navigate(string) {}
