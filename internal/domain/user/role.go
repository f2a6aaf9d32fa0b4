package user

import (
	"errors"
	"strings"
)

// Role is the role carried in the access token and sent as connect-time metadata.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleStaff    Role = "staff"
	RoleAdmin    Role = "admin"
	RoleDriver   Role = "driver"
)

var ErrInvalidRole = errors.New("invalid role")

// ParseRole normalizes (lowercases+trims) and validates a role string.
// A few legacy spellings used by older app builds are accepted as aliases.
func ParseRole(s string) (Role, error) {
	normalized := strings.ToLower(strings.TrimSpace(s))
	switch normalized {
	case "kitchen", "cashier":
		normalized = string(RoleStaff)
	case "delivery", "courier":
		normalized = string(RoleDriver)
	case "user", "student":
		normalized = string(RoleCustomer)
	}

	role := Role(normalized)
	if role.Valid() {
		return role, nil
	}
	return "", ErrInvalidRole
}

// Valid reports whether role is one of the allowed role constants.
func (role Role) Valid() bool {
	switch role {
	case RoleCustomer, RoleStaff, RoleAdmin, RoleDriver:
		return true
	default:
		return false
	}
}

// String returns the string representation of the Role.
func (role Role) String() string {
	return string(role)
}

// Convenience helpers.
func (role Role) IsCustomer() bool { return role == RoleCustomer }
func (role Role) IsDriver() bool   { return role == RoleDriver }
func (role Role) IsAdmin() bool    { return role == RoleAdmin }

// IsStaff reports whether the role belongs in the kitchen/admin room.
func (role Role) IsStaff() bool { return role == RoleStaff || role == RoleAdmin }
