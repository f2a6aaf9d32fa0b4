package jwt

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"canteen-sync/internal/domain/user"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

var ErrMalformedToken = errors.New("malformed access token")

// IdentityFromToken reads the user id and role out of an access token without
// verifying the signature. The backend verifies it on connect; the client only
// needs the claims to pick its rooms.
func IdentityFromToken(raw string) (user.Identity, error) {
	raw = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(raw), "Bearer "))
	if raw == "" {
		return user.Identity{}, user.ErrTokenRequired
	}

	claims := &Claims{}
	if _, _, err := jwtlib.NewParser().ParseUnverified(raw, claims); err != nil {
		return user.Identity{}, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}

	role, err := user.ParseRole(claims.Role)
	if err != nil {
		return user.Identity{}, fmt.Errorf("token role %q: %w", claims.Role, err)
	}

	identity := user.Identity{UserID: claims.subject(), Role: role, Token: raw}
	if err := identity.Validate(); err != nil {
		return user.Identity{}, err
	}
	return identity, nil
}

// TokenSource resolves the identity from whatever token is currently stored.
// It returns "" when the user is logged out.
type TokenSource func(ctx context.Context) (string, error)

// IdentityProvider adapts a TokenSource to the connection manager's provider.
type IdentityProvider struct {
	Source TokenSource
}

// StaticToken returns a provider that always resolves the same token.
func StaticToken(token string) IdentityProvider {
	return IdentityProvider{Source: func(context.Context) (string, error) { return token, nil }}
}

func (p IdentityProvider) Identity(ctx context.Context) (user.Identity, error) {
	if p.Source == nil {
		return user.Identity{}, user.ErrTokenRequired
	}
	raw, err := p.Source(ctx)
	if err != nil {
		return user.Identity{}, err
	}
	return IdentityFromToken(raw)
}
