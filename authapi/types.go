package authapi

import "github.com/pcd/fids-session/users"

// AuthResponse is the token payload returned by the authenticate and
// refresh endpoints. Field names follow the backend's wire format.
type AuthResponse struct {
	ID           string `json:"id,omitempty"`
	UserID       string `json:"user_id,omitempty"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	Role         string `json:"role,omitempty"`
}

// ResolvedUserID returns the user identifier from whichever field the
// backend populated.
func (r *AuthResponse) ResolvedUserID() string {
	if r.ID != "" {
		return r.ID
	}
	return r.UserID
}

// RegisterRequest is the account-creation payload.
type RegisterRequest struct {
	FirstName   string         `json:"firstname"`
	LastName    string         `json:"lastname"`
	Email       string         `json:"email"`
	Password    string         `json:"password"`
	Role        string         `json:"role"`
	PhoneNumber string         `json:"phoneNumber,omitempty"`
	Address     *users.Address `json:"address,omitempty"`
}

// ResetPasswordRequest carries a reset token and the replacement password.
type ResetPasswordRequest struct {
	Token           string `json:"token"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
}

type errorBody struct {
	Error  string   `json:"error"`
	Errors []string `json:"errors"`
}
