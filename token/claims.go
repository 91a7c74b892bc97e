// Package token decodes FIDS access-token claims on the client side.
//
// Decoding is deliberately unverified: the SDK has no signing key, and the
// backend verifies every token it receives. Claims extracted here drive
// refresh scheduling and display only.
package token

import (
	"errors"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"github.com/pcd/fids-session/internal/utils"
)

// NowTimeFunc returns the current time. It can be overridden in tests.
var NowTimeFunc = time.Now

var (
	ErrMalformedToken = errors.New("malformed token")
	ErrMissingExpiry  = errors.New("token has no expiry claim")
)

// Claims holds the subset of access-token claims the session layer reads.
type Claims struct {
	Subject     string
	ExpiresAt   time.Time
	Roles       []string
	Authorities []string
	Role        string
	Raw         map[string]any
}

// Decode parses a raw JWT without verifying its signature and extracts the
// claims the session layer needs. A token without an exp claim is rejected:
// the session layer cannot schedule a refresh for it.
func Decode(rawToken string) (*Claims, error) {
	if strings.TrimSpace(rawToken) == "" {
		return nil, ErrMalformedToken
	}

	parsed, _, err := jwtlib.NewParser().ParseUnverified(rawToken, jwtlib.MapClaims{})
	if err != nil {
		return nil, ErrMalformedToken
	}

	mapClaims, ok := parsed.Claims.(jwtlib.MapClaims)
	if !ok {
		return nil, ErrMalformedToken
	}

	exp, _ := mapClaims["exp"].(float64)
	if exp == 0 {
		return nil, ErrMissingExpiry
	}

	sub, _ := mapClaims["sub"].(string)
	role, _ := mapClaims["role"].(string)

	claims := &Claims{
		Subject:   sub,
		ExpiresAt: time.Unix(int64(exp), 0),
		Role:      role,
		Raw:       mapClaims,
	}

	if claimRoles, ok := mapClaims["roles"].([]any); ok {
		claims.Roles = utils.ToStringSlice(claimRoles)
	}
	if claimAuthorities, ok := mapClaims["authorities"].([]any); ok {
		claims.Authorities = utils.ToStringSlice(claimAuthorities)
	}

	return claims, nil
}

// Expired reports whether the claims are expired relative to the local clock.
func (c *Claims) Expired() bool {
	return !NowTimeFunc().Before(c.ExpiresAt)
}

// IsExpired reports whether a raw token is expired. Tokens that cannot be
// decoded are treated as expired.
func IsExpired(rawToken string) bool {
	claims, err := Decode(rawToken)
	if err != nil {
		return true
	}
	return claims.Expired()
}

// ExtractRoles resolves the roles for a session. Resolution order: an
// explicit role field on the auth response, the roles claim, the
// authorities claim, a singular role claim, then previously stored roles.
// Singular role values are normalised with a ROLE_ prefix. When nothing
// resolves, defaultRole is returned alone.
func ExtractRoles(responseRole string, claims *Claims, storedRoles []string, defaultRole string) []string {
	if responseRole != "" {
		return []string{prefixRole(responseRole)}
	}
	if claims != nil {
		if len(claims.Roles) > 0 {
			return claims.Roles
		}
		if len(claims.Authorities) > 0 {
			return claims.Authorities
		}
		if claims.Role != "" {
			return []string{prefixRole(claims.Role)}
		}
	}
	if len(storedRoles) > 0 {
		return storedRoles
	}
	return []string{defaultRole}
}

func prefixRole(role string) string {
	if strings.HasPrefix(role, "ROLE_") {
		return role
	}
	return "ROLE_" + role
}
