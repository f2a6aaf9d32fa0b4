package cli

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"canteen-sync/internal/domain/user"
	"canteen-sync/internal/general/jwt"
)

var ErrNoToken = errors.New("no access token: pass --token, set AUTH_TOKEN, or give --user-id with a JWT secret")

// GenerateUserToken mints a JWT for a dev user. It uses jwt.Manager and returns
// the raw token plus the claims.
//
// Keep this dev/internal only: the real backend issues tokens at login.
func GenerateUserToken(secret, userID, roleStr string, ttl time.Duration) (string, jwt.Claims, error) {
	role, err := user.ParseRole(roleStr)
	if err != nil {
		return "", jwt.Claims{}, fmt.Errorf("invalid role %q: %w", roleStr, err)
	}

	mgr, err := jwt.NewManager(secret, ttl)
	if err != nil {
		return "", jwt.Claims{}, err
	}

	token, claims, err := mgr.IssueUserToken(userID, role)
	if err != nil {
		return "", jwt.Claims{}, fmt.Errorf("issue token: %w", err)
	}

	return token, *claims, nil
}

// ResolveToken picks the token a mode runs with: an explicit token wins,
// otherwise one is minted for userID when a secret is available.
func ResolveToken(token, secret, userID, role string, ttl time.Duration) (string, error) {
	if t := strings.TrimSpace(token); t != "" {
		return t, nil
	}
	if strings.TrimSpace(secret) == "" || strings.TrimSpace(userID) == "" {
		return "", ErrNoToken
	}
	t, _, err := GenerateUserToken(secret, userID, role, ttl)
	return t, err
}
