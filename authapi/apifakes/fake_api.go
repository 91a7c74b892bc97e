// Package apifakes provides a scriptable transport for session tests.
package apifakes

import (
	"context"
	"sync"

	"github.com/pcd/fids-session/authapi"
	"github.com/pcd/fids-session/users"
)

type authCall struct {
	response *authapi.AuthResponse
	err      error
}

// FakeAPI implements the session layer's transport contract. Responses are
// scripted with Queue* calls and consumed in order; the last scripted
// response repeats once the queue drains.
type FakeAPI struct {
	mu sync.Mutex

	authQueue    []authCall
	refreshQueue []authCall
	profile      *users.User
	profileErr   error

	AuthenticateCalls int
	RefreshCalls      int
	ProfileCalls      int
}

func New() *FakeAPI {
	return &FakeAPI{}
}

func (f *FakeAPI) QueueAuthenticate(response *authapi.AuthResponse, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.authQueue = append(f.authQueue, authCall{response: response, err: err})
}

func (f *FakeAPI) QueueRefresh(response *authapi.AuthResponse, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshQueue = append(f.refreshQueue, authCall{response: response, err: err})
}

func (f *FakeAPI) SetProfile(user *users.User, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.profile = user
	f.profileErr = err
}

func (f *FakeAPI) Authenticate(ctx context.Context, email, password string) (*authapi.AuthResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.AuthenticateCalls++
	call := takeCall(&f.authQueue)
	return call.response, call.err
}

func (f *FakeAPI) RefreshToken(ctx context.Context, refreshToken string) (*authapi.AuthResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.RefreshCalls++
	call := takeCall(&f.refreshQueue)
	return call.response, call.err
}

func (f *FakeAPI) GetProfile(ctx context.Context, accessToken, userID string) (*users.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ProfileCalls++
	if f.profileErr != nil {
		return nil, f.profileErr
	}
	if f.profile != nil {
		copied := *f.profile
		return &copied, nil
	}
	return &users.User{ID: userID}, nil
}

func takeCall(queue *[]authCall) authCall {
	if len(*queue) == 0 {
		return authCall{}
	}
	call := (*queue)[0]
	if len(*queue) > 1 {
		*queue = (*queue)[1:]
	}
	return call
}
