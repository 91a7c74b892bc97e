package users

import "strings"

// Known FIDS role identifiers as issued by the user service.
const (
	RoleAdmin        = "ROLE_ADMIN"
	RoleInvestigator = "ROLE_INVESTIGATOR"
	RoleExpert       = "ROLE_EXPERT"
	RoleLawyer       = "ROLE_LAWYER"
	RoleJudge        = "ROLE_JUDGE"
	RoleUser         = "ROLE_USER"
)

// Address holds the optional postal address attached to a profile.
type Address struct {
	Street  string `json:"street,omitempty"`
	City    string `json:"city,omitempty"`
	State   string `json:"state,omitempty"`
	ZipCode string `json:"zipCode,omitempty"`
	Country string `json:"country,omitempty"`
}

// User is the denormalized profile cached alongside a session. It is
// display data, not an authorization decision: the backend re-validates
// the access token on every protected call.
type User struct {
	ID          string   `json:"id,omitempty"`
	Email       string   `json:"email,omitempty"`
	FirstName   string   `json:"firstname,omitempty"`
	LastName    string   `json:"lastname,omitempty"`
	Roles       []string `json:"role,omitempty"`
	Enabled     bool     `json:"enabled,omitempty"`
	PhoneNumber string   `json:"phoneNumber,omitempty"`
	Address     *Address `json:"address,omitempty"`
}

// HasRole reports whether the profile carries the given role.
func (u *User) HasRole(role string) bool {
	if u == nil {
		return false
	}
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// FullName joins the name fields for display.
func (u *User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// Fallback builds a minimal profile from a login email when the user
// service cannot be reached. The local part of the address stands in for
// the first name.
func Fallback(id, email string, roles []string) *User {
	firstname := email
	if at := strings.Index(email, "@"); at >= 0 {
		firstname = email[:at]
	}
	return &User{
		ID:        id,
		Email:     email,
		FirstName: firstname,
		Roles:     roles,
		Enabled:   true,
	}
}
