package user

import (
	"errors"
	"strings"
)

// Identity is who the running client is. It is resolved once per Init and reused
// by forced reconnects.
type Identity struct {
	UserID string
	Role   Role
	Token  string
}

var (
	ErrUserIDRequired = errors.New("user id is required")
	ErrTokenRequired  = errors.New("access token is required")
)

// Validate checks that the identity can be used to open a channel.
func (identity Identity) Validate() error {
	if strings.TrimSpace(identity.UserID) == "" {
		return ErrUserIDRequired
	}
	if !identity.Role.Valid() {
		return ErrInvalidRole
	}
	if strings.TrimSpace(identity.Token) == "" {
		return ErrTokenRequired
	}
	return nil
}
