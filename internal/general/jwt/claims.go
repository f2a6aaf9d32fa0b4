package jwt

import (
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

// Claims is the access token payload issued by the canteen backend. Older
// backends put the user id in "userId" or "id" instead of "sub", and the role
// may use a legacy spelling; see Identity for how both are resolved.
type Claims struct {
	Role   string `json:"role"`
	UserID string `json:"userId,omitempty"`
	ID     string `json:"id,omitempty"`
	jwtlib.RegisteredClaims
}

var _ jwtlib.Claims = (*Claims)(nil)

// NewUserClaims constructs claims for a customer, staff member, admin or driver.
func NewUserClaims(userID, role string, ttl time.Duration) *Claims {
	now := time.Now().UTC()
	return &Claims{
		Role:   role,
		UserID: userID,
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwtlib.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwtlib.NewNumericDate(now),
		},
	}
}

// subject returns the first non-empty user id field.
func (c *Claims) subject() string {
	switch {
	case c.Subject != "":
		return c.Subject
	case c.UserID != "":
		return c.UserID
	default:
		return c.ID
	}
}
